package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"chatrelay/secret_manager"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAICompatibleProvider talks to any server implementing the OpenAI chat
// completions API (vLLM, Ollama, LiteLLM and similar) at BaseURL.
type OpenAICompatibleProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p OpenAICompatibleProvider) Stream(ctx context.Context, request StreamRequest, eventChan chan<- Event) (*MessageResponse, error) {
	token, err := secret_manager.GetFirstSecret(request.SecretManager, OpenaiCompatibleApiKeySecretName)
	if err != nil {
		// local servers commonly run without authentication
		if !errors.Is(err, secret_manager.ErrSecretNotFound) {
			return nil, err
		}
		token = ""
	}

	config := goopenai.DefaultConfig(token)
	config.BaseURL = p.BaseURL
	config.HTTPClient = newHTTPClient(p.HTTPClient)
	client := goopenai.NewClientWithConfig(config)

	model := request.Model
	if model == "" {
		model = openaiDefaultModel
	}

	req := goopenai.ChatCompletionRequest{
		Model:         model,
		MaxTokens:     request.maxTokens(),
		Messages:      messagesToGoOpenAI(request.Messages),
		Stream:        true,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
	}
	if len(request.Tools) > 0 {
		req.Tools = toolsToGoOpenAI(request.Tools)
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start chat completion stream: %w", err)
	}
	defer stream.Close()

	var (
		id            string
		responseModel string
		finishReason  string
		usage         Usage
		text          strings.Builder
		toolCalls     = toolCallAccumulator{}
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			responseModel = chunk.Model
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			eventChan <- Event{Type: EventTextDelta, Delta: choice.Delta.Content}
		}
		for i, tc := range choice.Delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			toolCalls.add(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
	}

	output := chatCompletionOutput(text.String(), toolCalls, eventChan)
	if responseModel == "" {
		responseModel = model
	}

	return &MessageResponse{
		Id:         id,
		Model:      responseModel,
		Provider:   OpenAICompatibleProviderName,
		Output:     output,
		StopReason: finishReason,
		Usage:      usage,
	}, nil
}

func messagesToGoOpenAI(messages []Message) []goopenai.ChatCompletionMessage {
	result := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := goopenai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		result = append(result, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: messageText(msg),
		})
	}
	return result
}

func toolsToGoOpenAI(tools []ToolSpec) []goopenai.Tool {
	result := make([]goopenai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return result
}
