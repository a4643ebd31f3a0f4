package llm

import "encoding/json"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage is surfaced on final responses (not deltas).
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type ContentBlockType string

const (
	ContentBlockTypeText      ContentBlockType = "text"
	ContentBlockTypeToolUse   ContentBlockType = "tool_use"
	ContentBlockTypeReasoning ContentBlockType = "reasoning"
)

// ToolUseBlock is a tool invocation requested by the model. The relay only
// reports it; it never executes the call.
type ToolUseBlock struct {
	Id    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ReasoningBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// A single completed content block within a message.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	ToolUse   *ToolUseBlock    `json:"toolUse,omitempty"`
	Reasoning *ReasoningBlock  `json:"reasoning,omitempty"`
}

type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage builds a single-turn user prompt.
func UserMessage(text string) Message {
	return Message{
		Role:    RoleUser,
		Content: []ContentBlock{{Type: ContentBlockTypeText, Text: text}},
	}
}

// Provider-agnostic response with metadata and a single synthesized output message.
type MessageResponse struct {
	Id         string  `json:"id"`
	Model      string  `json:"model"`
	Provider   string  `json:"provider"`
	Output     Message `json:"output"`
	StopReason string  `json:"stopReason"`
	Usage      Usage   `json:"usage"`
}

// ToolSpec is a function the model may ask to call. InputSchema is a JSON
// Schema object passed through to the provider unchanged.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type EventType string

const (
	EventTextDelta    EventType = "text_delta"
	EventContentBlock EventType = "content_block"
	EventMessage      EventType = "message"
	EventError        EventType = "error"
)

// Event is the closed set of stream events produced by a CompletionStream.
// Providers only emit text deltas and content blocks; message and error
// events are appended by StreamCompletion.
type Event struct {
	Type EventType `json:"type"`

	// Text delta fields. Providers may set either; the stream fills in both.
	Delta    string `json:"delta,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`

	ContentBlock *ContentBlock    `json:"contentBlock,omitempty"`
	Message      *MessageResponse `json:"message,omitempty"`
	Err          error            `json:"-"`
}
