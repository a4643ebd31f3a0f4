package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSSEWriter(ctx context.Context) (*sseWriter, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodGet, "/chat/stream?message=hi", nil).WithContext(ctx)
	return newSSEWriter(c), recorder
}

func TestSSEWriter_TerminalEventWrittenOnce(t *testing.T) {
	t.Parallel()
	w, recorder := newTestSSEWriter(context.Background())
	w.open()

	assert.True(t, w.send(eventText, textEventData{Text: "a", Snapshot: "a"}))
	assert.True(t, w.done())
	assert.False(t, w.fail(errors.New("late failure")))
	assert.False(t, w.done())
	assert.False(t, w.send(eventText, textEventData{Text: "b", Snapshot: "ab"}))

	events, err := sse.Decode(recorder.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "done"}, eventNames(events))
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "no", recorder.Header().Get("X-Accel-Buffering"))
}

func TestSSEWriter_WritesAfterDisconnectAreNoOps(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	w, recorder := newTestSSEWriter(ctx)
	w.open()
	require.True(t, w.send(eventConnected, map[string]string{"status": "connected"}))

	cancel()

	assert.False(t, w.send(eventText, textEventData{Text: "a", Snapshot: "a"}))
	assert.False(t, w.fail(errors.New("completion cancelled")))

	events, err := sse.Decode(recorder.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"connected"}, eventNames(events))
}

func TestSSEWriter_UnencodableDataBecomesError(t *testing.T) {
	t.Parallel()
	w, recorder := newTestSSEWriter(context.Background())
	w.open()

	assert.True(t, w.send(eventContentBlock, map[string]any{"bad": make(chan int)}))
	assert.False(t, w.done())

	events, err := sse.Decode(recorder.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"error"}, eventNames(events))
}
