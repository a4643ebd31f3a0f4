package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"chatrelay/secret_manager"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
)

const openaiDefaultModel = "gpt-4o-mini"

type OpenAIProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p OpenAIProvider) Stream(ctx context.Context, request StreamRequest, eventChan chan<- Event) (*MessageResponse, error) {
	token, err := secret_manager.GetFirstSecret(request.SecretManager, OpenaiApiKeySecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to get openai API key: %w", err)
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithHTTPClient(newHTTPClient(p.HTTPClient)),
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(p.BaseURL))
	}
	client := openai.NewClient(clientOptions...)

	model := request.Model
	if model == "" {
		model = openaiDefaultModel
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messagesToChatCompletionParams(request.Messages),
		Model:               shared.ChatModel(model),
		MaxCompletionTokens: param.NewOpt(int64(request.maxTokens())),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(request.Tools) > 0 {
		params.Tools = openaiChatFromTools(request.Tools)
	}

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		id            string
		responseModel string
		finishReason  string
		usage         Usage
		text          strings.Builder
		toolCalls     = toolCallAccumulator{}
	)

	for stream.Next() {
		chunk := stream.Current()

		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			responseModel = chunk.Model
		}
		// usage may arrive on any chunk, including the final one with no choices
		if chunk.Usage.JSON.PromptTokens.Valid() {
			usage.InputTokens = int(chunk.Usage.PromptTokens)
			usage.OutputTokens = int(chunk.Usage.CompletionTokens)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			eventChan <- Event{Type: EventTextDelta, Delta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			toolCalls.add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	output := chatCompletionOutput(text.String(), toolCalls, eventChan)
	if responseModel == "" {
		responseModel = model
	}

	return &MessageResponse{
		Id:         id,
		Model:      responseModel,
		Provider:   OpenAIProviderName,
		Output:     output,
		StopReason: finishReason,
		Usage:      usage,
	}, nil
}

func messagesToChatCompletionParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		text := messageText(msg)
		if msg.Role == RoleAssistant {
			result = append(result, openai.AssistantMessage(text))
		} else {
			result = append(result, openai.UserMessage(text))
		}
	}
	return result
}

func openaiChatFromTools(tools []ToolSpec) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		function := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(tool.InputSchema),
		}
		if tool.Description != "" {
			function.Description = param.NewOpt(tool.Description)
		}
		result = append(result, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: function},
		})
	}
	return result
}

func messageText(msg Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == ContentBlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

type partialToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// toolCallAccumulator assembles tool calls that chat completion APIs stream
// as fragments keyed by a per-call index.
type toolCallAccumulator map[int]*partialToolCall

func (a toolCallAccumulator) add(index int, id, name, arguments string) {
	call, ok := a[index]
	if !ok {
		call = &partialToolCall{}
		a[index] = call
	}
	if id != "" {
		call.id = id
	}
	if name != "" {
		// clean up rarely-occurring bad syntax from openai
		name = strings.TrimPrefix(name, "functions.")
		call.name = name
	}
	call.arguments.WriteString(arguments)
}

func (a toolCallAccumulator) blocks() []ContentBlock {
	indexes := make([]int, 0, len(a))
	for index := range a {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	blocks := make([]ContentBlock, 0, len(indexes))
	for _, index := range indexes {
		call := a[index]
		input := json.RawMessage(call.arguments.String())
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, ContentBlock{
			Type: ContentBlockTypeToolUse,
			ToolUse: &ToolUseBlock{
				Id:    call.id,
				Name:  call.name,
				Input: input,
			},
		})
	}
	return blocks
}

// chatCompletionOutput emits the completed content blocks of a chat
// completion stream and returns the assembled assistant message.
func chatCompletionOutput(text string, toolCalls toolCallAccumulator, eventChan chan<- Event) Message {
	output := Message{Role: RoleAssistant, Content: []ContentBlock{}}
	if text != "" {
		output.Content = append(output.Content, ContentBlock{Type: ContentBlockTypeText, Text: text})
	}
	output.Content = append(output.Content, toolCalls.blocks()...)

	for i := range output.Content {
		block := output.Content[i]
		eventChan <- Event{Type: EventContentBlock, ContentBlock: &block}
	}
	return output
}
