package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	eventConnected    = "connected"
	eventText         = "text"
	eventContentBlock = "contentBlock"
	eventMessage      = "message"
	eventError        = "error"
	eventDone         = "done"
)

// sseWriter is the only writer of a chat stream response. Once the terminal
// event is written, or the client has gone away, every write is a no-op.
type sseWriter struct {
	c *gin.Context

	mu         sync.Mutex
	terminated bool
	gone       bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) open() {
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
	w.c.Writer.Flush()
}

// send writes a non-terminal event and reports whether it was written.
func (w *sseWriter) send(event string, data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return false
	}
	return w.write(event, data)
}

func (w *sseWriter) done() bool {
	return w.terminate(eventDone, gin.H{"status": "completed"})
}

func (w *sseWriter) fail(err error) bool {
	return w.terminate(eventError, gin.H{"error": err.Error()})
}

func (w *sseWriter) terminate(event string, data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return false
	}
	w.terminated = true
	return w.write(event, data)
}

func (w *sseWriter) write(event string, data any) bool {
	if w.gone {
		return false
	}
	if err := w.c.Request.Context().Err(); err != nil {
		w.gone = true
		return false
	}

	payload, err := json.Marshal(data)
	if err != nil {
		payload, _ = json.Marshal(gin.H{"error": fmt.Sprintf("failed to encode %s event: %v", event, err)})
		event = eventError
		w.terminated = true
	}

	if err := sse.Encode(w.c.Writer, sse.Event{Event: event, Data: string(payload)}); err != nil {
		log.Ctx(w.c.Request.Context()).Debug().Err(err).Str("event", event).Msg("Client went away")
		w.gone = true
		return false
	}
	w.c.Writer.Flush()
	return true
}
