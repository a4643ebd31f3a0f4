package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"chatrelay/llm"

	"github.com/gin-contrib/sse"
	"github.com/rs/zerolog/log"
)

var ErrStreamIncomplete = errors.New("chat stream ended without a terminal event")

// RequestError is returned when the relay rejects a chat request before
// opening the event stream.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("chat request rejected with status %d: %s", e.StatusCode, e.Message)
}

// StreamError is the payload of an error event.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}

// StreamHandlers receive decoded events in order. Any of them may be nil.
type StreamHandlers struct {
	OnConnected    func()
	OnText         func(delta, snapshot string)
	OnContentBlock func(block llm.ContentBlock)
	OnMessage      func(message llm.MessageResponse)
	OnError        func(message string)
	OnComplete     func(text string)
}

// ChatStream is an in-flight chat response.
type ChatStream struct {
	cancel     context.CancelFunc
	cancelOnce sync.Once
	done       chan struct{}

	text string
	err  error
}

// Cancel aborts the underlying HTTP request. Handlers are not called after
// Cancel returns, apart from one that was already running.
func (s *ChatStream) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// Wait blocks until the stream ends and returns the displayed text and the
// terminal error, if any.
func (s *ChatStream) Wait() (string, error) {
	<-s.done
	return s.text, s.err
}

// StreamChat sends message to the relay and decodes the response in the
// background. The returned error covers only failures before the stream
// opened.
func (c *Client) StreamChat(ctx context.Context, message string, handlers StreamHandlers) (*ChatStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	reqURL := fmt.Sprintf("%s/chat/stream?message=%s", c.baseURL, url.QueryEscape(message))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		body, _ := io.ReadAll(resp.Body)
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) != nil || payload.Error == "" {
			payload.Error = string(body)
		}
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	stream := &ChatStream{cancel: cancel, done: make(chan struct{})}
	go stream.consume(ctx, resp.Body, handlers)
	return stream, nil
}

func (s *ChatStream) consume(ctx context.Context, body io.ReadCloser, handlers StreamHandlers) {
	defer close(s.done)
	defer body.Close()
	defer s.Cancel()

	var display displayBuffer
	terminated := false
	reader := bufio.NewReader(body)
	for !terminated {
		event, err := readEvent(reader)
		if err != nil {
			if ctx.Err() != nil {
				s.err = ctx.Err()
			} else if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.err = ErrStreamIncomplete
			} else {
				s.err = fmt.Errorf("failed to read chat stream: %w", err)
			}
			break
		}
		if ctx.Err() != nil {
			s.err = ctx.Err()
			break
		}
		terminated = s.dispatch(event, &display, handlers)
	}
	s.text = display.String()
}

// dispatch hands one event to its handler and reports whether it was the
// terminal event.
func (s *ChatStream) dispatch(event sse.Event, display *displayBuffer, handlers StreamHandlers) bool {
	data, _ := event.Data.(string)
	switch event.Event {
	case "connected":
		if handlers.OnConnected != nil {
			handlers.OnConnected()
		}
	case "text":
		var payload struct {
			Text     string `json:"text"`
			Snapshot string `json:"snapshot"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed text event")
			return false
		}
		display.apply(payload.Text, payload.Snapshot)
		if handlers.OnText != nil {
			handlers.OnText(payload.Text, display.String())
		}
	case "contentBlock":
		var block llm.ContentBlock
		if err := json.Unmarshal([]byte(data), &block); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed contentBlock event")
			return false
		}
		if handlers.OnContentBlock != nil {
			handlers.OnContentBlock(block)
		}
	case "message":
		var message llm.MessageResponse
		if err := json.Unmarshal([]byte(data), &message); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed message event")
			return false
		}
		if handlers.OnMessage != nil {
			handlers.OnMessage(message)
		}
	case "error":
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Error == "" {
			payload.Error = "Unknown error"
		}
		s.err = &StreamError{Message: payload.Error}
		if handlers.OnError != nil {
			handlers.OnError(payload.Error)
		}
		return true
	case "done":
		if handlers.OnComplete != nil {
			handlers.OnComplete(display.String())
		}
		return true
	default:
		log.Debug().Str("event", event.Event).Msg("Ignoring unknown chat stream event")
	}
	return false
}

// readEvent reads one blank-line terminated event block and decodes it.
// Comment-only blocks are skipped.
func readEvent(reader *bufio.Reader) (sse.Event, error) {
	for {
		var block bytes.Buffer
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimRight(line, "\r\n")) == 0 && err == nil {
				if block.Len() > 0 {
					break
				}
				continue
			}
			block.Write(line)
			if err != nil {
				if block.Len() > 0 && errors.Is(err, io.EOF) {
					// unterminated trailing block is incomplete
					return sse.Event{}, io.ErrUnexpectedEOF
				}
				return sse.Event{}, err
			}
		}

		block.WriteString("\n")
		events, err := sse.Decode(&block)
		if err != nil {
			return sse.Event{}, fmt.Errorf("failed to decode event: %w", err)
		}
		if len(events) > 0 {
			return events[0], nil
		}
	}
}

// displayBuffer accumulates deltas, resynchronising to the server snapshot
// whenever the two diverge.
type displayBuffer struct {
	text string
}

func (b *displayBuffer) apply(delta, snapshot string) {
	b.text += delta
	if snapshot != "" && b.text != snapshot {
		b.text = snapshot
	}
}

func (b *displayBuffer) String() string {
	return b.text
}
