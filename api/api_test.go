package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"chatrelay/common"
	"chatrelay/llm"
	"chatrelay/secret_manager"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedProvider replays a fixed list of events, then fails, panics, waits
// for cancellation or succeeds.
type scriptedProvider struct {
	events        []llm.Event
	err           error
	panicValue    any
	waitForCancel bool

	mu       sync.Mutex
	requests []llm.StreamRequest
	stopped  chan struct{}
}

func (p *scriptedProvider) Stream(ctx context.Context, request llm.StreamRequest, eventChan chan<- llm.Event) (*llm.MessageResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	p.mu.Unlock()
	if p.stopped != nil {
		defer close(p.stopped)
	}

	for _, event := range p.events {
		select {
		case eventChan <- event:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.panicValue != nil {
		panic(p.panicValue)
	}
	if p.waitForCancel {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &llm.MessageResponse{
		Id:         "msg_test",
		Model:      "test-model",
		Provider:   "scripted",
		Output:     llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: "Hello world"}}},
		StopReason: "end_turn",
	}, nil
}

func (p *scriptedProvider) lastRequest(t *testing.T) llm.StreamRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

func textDelta(delta string) llm.Event {
	return llm.Event{Type: llm.EventTextDelta, Delta: delta}
}

func testRelayConfig() common.RelayConfig {
	return common.RelayConfig{
		ServiceName:       "chatbot-backend",
		Provider:          "scripted",
		MaxTokens:         1000,
		EmitMessageEvents: true,
	}
}

func newTestController(provider llm.Provider, cfg common.RelayConfig) Controller {
	ctrl := NewController(cfg, &ToolsCache{})
	ctrl.secretManager = secret_manager.NewMockSecretManager(map[string]string{"ANTHROPIC_API_KEY": "test-key"})
	ctrl.newProvider = func(name, baseURL string) (llm.Provider, error) {
		return provider, nil
	}
	return ctrl
}

func streamChat(t *testing.T, ctrl Controller, message string) (*httptest.ResponseRecorder, []sse.Event) {
	t.Helper()
	router := DefineRoutes(ctrl, &AllowedOrigins{})
	req := httptest.NewRequest(http.MethodGet, "/chat/stream?message="+url.QueryEscape(message), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	events, err := sse.Decode(w.Body)
	require.NoError(t, err)
	return w, events
}

func eventNames(events []sse.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.Event)
	}
	return names
}

func eventData(t *testing.T, event sse.Event) map[string]any {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(event.Data.(string)), &data))
	return data
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()
	router := DefineRoutes(newTestController(&scriptedProvider{}, testRelayConfig()), &AllowedOrigins{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "chatbot-backend", body["service"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"])
	assert.NoError(t, err)
}

func TestChatStreamHandler_MissingMessage(t *testing.T) {
	t.Parallel()
	router := DefineRoutes(newTestController(&scriptedProvider{}, testRelayConfig()), &AllowedOrigins{})

	for _, target := range []string{"/chat/stream", "/chat/stream?message="} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Message parameter required"}`, w.Body.String())
		assert.NotContains(t, w.Header().Get("Content-Type"), "text/event-stream")
	}
}

func TestChatStreamHandler_Success(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{events: []llm.Event{
		textDelta("Hello"),
		textDelta(" world"),
		{Type: llm.EventContentBlock, ContentBlock: &llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: "Hello world"}},
	}}

	w, events := streamChat(t, newTestController(provider, testRelayConfig()), "Hi there")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", w.Header().Get("Connection"))
	assert.Equal(t, []string{"connected", "text", "text", "contentBlock", "message", "done"}, eventNames(events))

	assert.Equal(t, map[string]any{"status": "connected"}, eventData(t, events[0]))
	assert.Equal(t, map[string]any{"text": "Hello", "snapshot": "Hello"}, eventData(t, events[1]))
	assert.Equal(t, map[string]any{"text": " world", "snapshot": "Hello world"}, eventData(t, events[2]))
	assert.Equal(t, "Hello world", eventData(t, events[3])["text"])
	assert.Equal(t, "msg_test", eventData(t, events[4])["id"])
	assert.Equal(t, map[string]any{"status": "completed"}, eventData(t, events[5]))

	request := provider.lastRequest(t)
	require.Len(t, request.Messages, 1)
	assert.Equal(t, llm.UserMessage("Hi there"), request.Messages[0])
	assert.Equal(t, 1000, request.MaxTokens)
	assert.Nil(t, request.Tools)
}

func TestChatStreamHandler_MessageEventsDisabled(t *testing.T) {
	t.Parallel()
	cfg := testRelayConfig()
	cfg.EmitMessageEvents = false

	_, events := streamChat(t, newTestController(&scriptedProvider{events: []llm.Event{textDelta("ok")}}, cfg), "hi")

	assert.Equal(t, []string{"connected", "text", "done"}, eventNames(events))
}

func TestChatStreamHandler_ProviderErrorMidStream(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{
		events: []llm.Event{textDelta("partial")},
		err:    errors.New("overloaded_error: Overloaded"),
	}

	_, events := streamChat(t, newTestController(provider, testRelayConfig()), "hi")

	assert.Equal(t, []string{"connected", "text", "error"}, eventNames(events))
	assert.Equal(t, map[string]any{"error": "overloaded_error: Overloaded"}, eventData(t, events[2]))
}

func TestChatStreamHandler_ProviderConstructionFails(t *testing.T) {
	t.Parallel()
	ctrl := newTestController(nil, testRelayConfig())
	ctrl.newProvider = llm.NewProvider
	ctrl.relayConfig.Provider = "no-such-provider"

	w, events := streamChat(t, ctrl, "hi")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"connected", "error"}, eventNames(events))
	assert.Contains(t, eventData(t, events[1])["error"], "unknown llm provider")
}

func TestChatStreamHandler_ProviderPanics(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{events: []llm.Event{textDelta("a")}, panicValue: "boom"}

	_, events := streamChat(t, newTestController(provider, testRelayConfig()), "hi")

	assert.Equal(t, []string{"connected", "text", "error"}, eventNames(events))
	assert.Contains(t, eventData(t, events[2])["error"], "boom")
}

func TestChatStreamHandler_PanicInHandlerBecomesErrorEvent(t *testing.T) {
	t.Parallel()
	ctrl := newTestController(nil, testRelayConfig())
	ctrl.newProvider = func(name, baseURL string) (llm.Provider, error) {
		panic("factory exploded")
	}

	_, events := streamChat(t, ctrl, "hi")

	assert.Equal(t, []string{"connected", "error"}, eventNames(events))
	assert.Equal(t, "internal error: factory exploded", eventData(t, events[1])["error"])
}

func TestChatStreamHandler_AdvertisesCachedTools(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{}
	cfg := testRelayConfig()
	cfg.ToolServerURL = "http://localhost:3000/mcp"
	ctrl := newTestController(provider, cfg)
	tools := []llm.ToolSpec{{Name: "get_current_weather", InputSchema: map[string]any{"type": "object"}}}
	require.True(t, ctrl.toolsCache.Set(tools))

	streamChat(t, ctrl, "weather?")

	assert.Equal(t, tools, provider.lastRequest(t).Tools)
}

func TestChatStreamHandler_NoToolsWithoutToolServer(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{}
	ctrl := newTestController(provider, testRelayConfig())
	ctrl.toolsCache.Set([]llm.ToolSpec{{Name: "get_current_weather"}})

	streamChat(t, ctrl, "weather?")

	assert.Nil(t, provider.lastRequest(t).Tools)
}

func TestChatStreamHandler_ClientDisconnectCancelsCompletion(t *testing.T) {
	t.Parallel()
	provider := &scriptedProvider{
		events:        []llm.Event{textDelta("thinking")},
		waitForCancel: true,
		stopped:       make(chan struct{}),
	}
	server := httptest.NewServer(DefineRoutes(newTestController(provider, testRelayConfig()), &AllowedOrigins{}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/chat/stream?message=hi", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	cancel()

	select {
	case <-provider.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("provider stream was not cancelled after client disconnect")
	}
}
