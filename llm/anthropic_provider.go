package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatrelay/secret_manager"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

type AnthropicProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p AnthropicProvider) Stream(ctx context.Context, request StreamRequest, eventChan chan<- Event) (*MessageResponse, error) {
	token, err := secret_manager.GetFirstSecret(request.SecretManager, AnthropicApiKeySecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to get anthropic API key: %w", err)
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithHTTPClient(newHTTPClient(p.HTTPClient)),
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(p.BaseURL))
	}
	client := anthropic.NewClient(clientOptions...)

	model := request.Model
	if model == "" {
		model = anthropicDefaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(request.maxTokens()),
		Messages:  messagesToAnthropicParams(request.Messages),
	}
	if len(request.Tools) > 0 {
		params.Tools = toolsToAnthropicParams(request.Tools)
	}

	stream := client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var finalMessage anthropic.Message
	startedBlocks := 0
	stoppedBlocks := 0
	for stream.Next() {
		event := stream.Current()

		if err := finalMessage.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate message: %w", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			startedBlocks++
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				eventChan <- Event{Type: EventTextDelta, Delta: delta.Text}
			}
		case anthropic.ContentBlockStopEvent:
			stoppedBlocks++
			if int(evt.Index) >= len(finalMessage.Content) {
				return nil, fmt.Errorf("received stop for unknown block index %d", evt.Index)
			}
			if block, ok := contentBlockFromAnthropic(finalMessage.Content[evt.Index]); ok {
				eventChan <- Event{Type: EventContentBlock, ContentBlock: &block}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	// a dropped connection can end the stream without an error
	if startedBlocks != stoppedBlocks {
		return nil, fmt.Errorf("stream truncated: started %d blocks but stopped %d", startedBlocks, stoppedBlocks)
	}

	output := Message{Role: RoleAssistant, Content: []ContentBlock{}}
	for _, union := range finalMessage.Content {
		if block, ok := contentBlockFromAnthropic(union); ok {
			output.Content = append(output.Content, block)
		}
	}

	responseModel := string(finalMessage.Model)
	if responseModel == "" {
		responseModel = model
	}

	return &MessageResponse{
		Id:         finalMessage.ID,
		Model:      responseModel,
		Provider:   AnthropicProviderName,
		Output:     output,
		StopReason: string(finalMessage.StopReason),
		Usage: Usage{
			InputTokens:  int(finalMessage.Usage.InputTokens),
			OutputTokens: int(finalMessage.Usage.OutputTokens),
		},
	}, nil
}

// contentBlockFromAnthropic reads the union's fields directly; Accumulate
// keeps them current while the block streams.
func contentBlockFromAnthropic(union anthropic.ContentBlockUnion) (ContentBlock, bool) {
	switch union.Type {
	case "text":
		return ContentBlock{Type: ContentBlockTypeText, Text: union.Text}, true
	case "tool_use":
		input := union.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return ContentBlock{
			Type: ContentBlockTypeToolUse,
			ToolUse: &ToolUseBlock{
				Id:    union.ID,
				Name:  union.Name,
				Input: input,
			},
		}, true
	case "thinking":
		return ContentBlock{
			Type: ContentBlockTypeReasoning,
			Reasoning: &ReasoningBlock{
				Text:      union.Thinking,
				Signature: union.Signature,
			},
		}, true
	default:
		log.Debug().Str("type", union.Type).Msg("Skipping unsupported anthropic content block")
		return ContentBlock{}, false
	}
}

func messagesToAnthropicParams(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			if block.Type == ContentBlockTypeText {
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result
}

func toolsToAnthropicParams(tools []ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		properties, required, extras := splitJSONSchema(tool.InputSchema)
		toolParam := &anthropic.ToolParam{
			Name: tool.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties:  properties,
				Required:    required,
				ExtraFields: extras,
			},
		}
		if tool.Description != "" {
			toolParam.Description = anthropic.Opt(tool.Description)
		}
		result[i] = anthropic.ToolUnionParam{OfTool: toolParam}
	}
	return result
}

// splitJSONSchema separates the object schema keys anthropic models as
// dedicated fields from everything else, which is passed through as-is.
func splitJSONSchema(schema map[string]any) (properties any, required []string, extras map[string]any) {
	extras = map[string]any{}
	for key, value := range schema {
		switch key {
		case "type":
		case "properties":
			properties = value
		case "required":
			switch v := value.(type) {
			case []string:
				required = v
			case []any:
				for _, item := range v {
					if s, ok := item.(string); ok {
						required = append(required, s)
					}
				}
			}
		default:
			extras[key] = value
		}
	}
	if properties == nil {
		properties = map[string]any{}
	}
	if len(extras) == 0 {
		extras = nil
	}
	return properties, required, extras
}
