package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		baseURL  string
		expected Provider
		wantErr  error
	}{
		{name: "", expected: AnthropicProvider{}},
		{name: "anthropic", expected: AnthropicProvider{}},
		{name: "openai", baseURL: "http://x/v1", expected: OpenAIProvider{BaseURL: "http://x/v1"}},
		{name: "openai_compatible", baseURL: "http://localhost:11434/v1", expected: OpenAICompatibleProvider{BaseURL: "http://localhost:11434/v1"}},
		{name: "google", expected: GoogleProvider{}},
		{name: "mystery", wantErr: ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider, err := NewProvider(tt.name, tt.baseURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, provider)
		})
	}
}

func TestNewProvider_CompatibleRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := NewProvider("openai_compatible", "")
	assert.ErrorContains(t, err, "requires a base URL")
}

func TestStreamRequest_MaxTokensDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1000, StreamRequest{}.maxTokens())
	assert.Equal(t, 50, StreamRequest{MaxTokens: 50}.maxTokens())
}
