package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatrelay/secret_manager"
)

var ErrUnknownProvider = errors.New("unknown llm provider")

const (
	AnthropicProviderName        = "anthropic"
	OpenAIProviderName           = "openai"
	OpenAICompatibleProviderName = "openai_compatible"
	GoogleProviderName           = "google"
)

const (
	AnthropicApiKeySecretName        = "ANTHROPIC_API_KEY"
	OpenaiApiKeySecretName           = "OPENAI_API_KEY"
	OpenaiCompatibleApiKeySecretName = "OPENAI_COMPATIBLE_API_KEY"
	GoogleApiKeySecretName           = "GOOGLE_API_KEY"
	GeminiApiKeySecretName           = "GEMINI_API_KEY"
)

const defaultMaxTokens = 1000

// StreamRequest carries the prompt, advertised tools and secrets to a Provider.
type StreamRequest struct {
	Model         string
	MaxTokens     int
	Messages      []Message
	Tools         []ToolSpec
	SecretManager secret_manager.SecretManager
}

func (r StreamRequest) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return defaultMaxTokens
}

// Provider streams LLM responses as Events and returns a final MessageResponse.
// Providers MUST NOT close the eventChan; the caller owns the channel lifecycle.
type Provider interface {
	Stream(ctx context.Context, request StreamRequest, eventChan chan<- Event) (*MessageResponse, error)
}

// NewProvider returns the provider registered under name. baseURL overrides
// the provider's default API endpoint and is required for openai_compatible.
func NewProvider(name, baseURL string) (Provider, error) {
	switch name {
	case AnthropicProviderName, "":
		return AnthropicProvider{BaseURL: baseURL}, nil
	case OpenAIProviderName:
		return OpenAIProvider{BaseURL: baseURL}, nil
	case OpenAICompatibleProviderName:
		if baseURL == "" {
			return nil, fmt.Errorf("%s provider requires a base URL", name)
		}
		return OpenAICompatibleProvider{BaseURL: baseURL}, nil
	case GoogleProviderName:
		return GoogleProvider{BaseURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// streaming responses can legitimately stay open for minutes
func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}
