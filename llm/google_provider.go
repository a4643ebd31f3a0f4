package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatrelay/secret_manager"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const googleDefaultModel = "gemini-2.5-flash"

type GoogleProvider struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p GoogleProvider) Stream(ctx context.Context, request StreamRequest, eventChan chan<- Event) (*MessageResponse, error) {
	apiKey, err := secret_manager.GetFirstSecret(request.SecretManager, GoogleApiKeySecretName, GeminiApiKeySecretName)
	if err != nil {
		return nil, fmt.Errorf("failed to get google API key: %w", err)
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(p.HTTPClient),
	}
	if p.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: p.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	model := request.Model
	if model == "" {
		model = googleDefaultModel
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(request.maxTokens()),
		Tools:           googleFromTools(request.Tools),
	}

	var (
		lastResult *genai.GenerateContentResponse
		state      = &googleStreamState{}
	)
	for result, err := range client.Models.GenerateContentStream(ctx, model, googleFromMessages(request.Messages), config) {
		if err != nil {
			return nil, fmt.Errorf("failed to iterate on google stream: %w", err)
		}
		lastResult = result
		for _, ev := range googleResultToEvents(result, state) {
			eventChan <- ev
		}
	}
	for _, ev := range state.finish() {
		eventChan <- ev
	}

	response := &MessageResponse{
		Model:    model,
		Provider: GoogleProviderName,
		Output:   Message{Role: RoleAssistant, Content: state.blocks},
	}
	if lastResult != nil {
		response.Id = lastResult.ResponseID
		if lastResult.ModelVersion != "" {
			response.Model = lastResult.ModelVersion
		}
		if lastResult.UsageMetadata != nil {
			response.Usage.InputTokens = int(lastResult.UsageMetadata.PromptTokenCount)
			response.Usage.OutputTokens = int(lastResult.UsageMetadata.CandidatesTokenCount) + int(lastResult.UsageMetadata.ThoughtsTokenCount)
		}
		if len(lastResult.Candidates) > 0 {
			response.StopReason = string(lastResult.Candidates[0].FinishReason)
		}
	}
	if response.Output.Content == nil {
		response.Output.Content = []ContentBlock{}
	}
	return response, nil
}

// googleStreamState coalesces consecutive text (or thought) parts across
// chunks into one block, which is emitted when a different kind of part
// arrives or the stream ends.
type googleStreamState struct {
	open   *ContentBlock
	blocks []ContentBlock
}

func (s *googleStreamState) finish() []Event {
	if s.open == nil {
		return nil
	}
	block := *s.open
	s.open = nil
	s.blocks = append(s.blocks, block)
	return []Event{{Type: EventContentBlock, ContentBlock: &block}}
}

func googleResultToEvents(result *genai.GenerateContentResponse, state *googleStreamState) []Event {
	if result == nil || len(result.Candidates) == 0 {
		return nil
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return nil
	}

	var events []Event
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			events = append(events, state.finish()...)

			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal function call args")
				args = []byte("{}")
			}
			// function calls arrive complete, never split across chunks
			block := ContentBlock{
				Type: ContentBlockTypeToolUse,
				ToolUse: &ToolUseBlock{
					Id:    part.FunctionCall.ID,
					Name:  part.FunctionCall.Name,
					Input: args,
				},
			}
			state.blocks = append(state.blocks, block)
			events = append(events, Event{Type: EventContentBlock, ContentBlock: &block})

		case part.Thought && part.Text != "":
			if state.open == nil || state.open.Type != ContentBlockTypeReasoning {
				events = append(events, state.finish()...)
				state.open = &ContentBlock{Type: ContentBlockTypeReasoning, Reasoning: &ReasoningBlock{}}
			}
			state.open.Reasoning.Text += part.Text

		case part.Text != "":
			if state.open == nil || state.open.Type != ContentBlockTypeText {
				events = append(events, state.finish()...)
				state.open = &ContentBlock{Type: ContentBlockTypeText}
			}
			state.open.Text += part.Text
			events = append(events, Event{Type: EventTextDelta, Delta: part.Text})
		}
	}
	return events
}

func googleFromMessages(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(messageText(msg), role))
	}
	return contents
}

func googleFromTools(tools []ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.InputSchema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}
