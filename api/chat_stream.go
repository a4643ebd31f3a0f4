package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chatrelay/llm"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ChatRequest struct {
	Message      string
	ToolsEnabled bool
}

type textEventData struct {
	Text     string `json:"text"`
	Snapshot string `json:"snapshot"`
}

// ChatStreamHandler relays one completion to the client as server-sent
// events: connected, then text/contentBlock/message events in upstream order,
// then exactly one of done or error.
func (ctrl *Controller) ChatStreamHandler(c *gin.Context) {
	message := c.Query("message")
	if message == "" {
		ctrl.ErrorHandler(c, http.StatusBadRequest, errors.New("Message parameter required"))
		return
	}

	request := ChatRequest{
		Message:      message,
		ToolsEnabled: ctrl.relayConfig.ToolServerURL != "" && ctrl.toolsCache.Len() > 0,
	}

	w := newSSEWriter(c)
	w.open()
	w.send(eventConnected, gin.H{"status": "connected"})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal error: %v", r)
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("Chat stream panicked")
			w.fail(err)
		}
	}()

	if err := ctrl.relay(c.Request.Context(), w, request); err != nil {
		if c.Request.Context().Err() == nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("Chat stream failed")
		}
		w.fail(err)
		return
	}
	w.done()
}

// relay forwards completion events to w until the stream ends and returns
// the stream's terminal error. The terminal event itself is left to the
// caller.
func (ctrl *Controller) relay(ctx context.Context, w *sseWriter, request ChatRequest) error {
	provider, err := ctrl.newProvider(ctrl.relayConfig.Provider, ctrl.relayConfig.ProviderBaseURL)
	if err != nil {
		return err
	}

	streamRequest := llm.StreamRequest{
		Model:         ctrl.relayConfig.Model,
		MaxTokens:     ctrl.relayConfig.MaxTokens,
		Messages:      []llm.Message{llm.UserMessage(request.Message)},
		SecretManager: ctrl.secretManager,
	}
	if request.ToolsEnabled {
		streamRequest.Tools = ctrl.toolsCache.Get()
	}

	stream := llm.StreamCompletion(ctx, provider, streamRequest)
	defer stream.Cancel()

	for event := range stream.Events() {
		switch event.Type {
		case llm.EventTextDelta:
			w.send(eventText, textEventData{Text: event.Delta, Snapshot: event.Snapshot})
		case llm.EventContentBlock:
			w.send(eventContentBlock, event.ContentBlock)
		case llm.EventMessage:
			if ctrl.relayConfig.EmitMessageEvents {
				w.send(eventMessage, event.Message)
			}
		case llm.EventError:
			// reported through FinalMessage below
		}
	}

	_, err = stream.FinalMessage()
	return err
}
