package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chatrelay/llm")

// CompletionStream is a cancellable handle on one in-flight completion.
//
// Events must be drained until the channel closes, or Cancel called, for the
// stream to finish. Text deltas always carry the running snapshot of all text
// emitted so far. Unless the stream was cancelled, exactly one message event
// (success) or error event (failure) is delivered last before the channel is
// closed.
type CompletionStream struct {
	events     chan Event
	done       chan struct{}
	cancel     context.CancelFunc
	cancelOnce sync.Once

	final *MessageResponse
	err   error
}

type providerResult struct {
	response *MessageResponse
	err      error
}

// StreamCompletion starts provider.Stream in the background and returns
// immediately. Cancelling ctx has the same effect as calling Cancel.
func StreamCompletion(ctx context.Context, provider Provider, request StreamRequest) *CompletionStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &CompletionStream{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.run(ctx, provider, request)
	return s
}

func (s *CompletionStream) Events() <-chan Event {
	return s.events
}

// Cancel stops event emission and aborts the upstream request. Events that
// were already delivered stay delivered.
func (s *CompletionStream) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

// FinalMessage blocks until the stream has finished.
func (s *CompletionStream) FinalMessage() (*MessageResponse, error) {
	<-s.done
	return s.final, s.err
}

func (s *CompletionStream) run(ctx context.Context, provider Provider, request StreamRequest) {
	defer close(s.done)
	defer close(s.events)
	defer s.Cancel()

	ctx, span := tracer.Start(ctx, "llm.StreamCompletion")
	span.SetAttributes(
		attribute.String("llm.provider", fmt.Sprintf("%T", provider)),
		attribute.String("llm.model", request.Model),
		attribute.Int("llm.tools", len(request.Tools)),
	)
	defer span.End()

	raw := make(chan Event)
	resultChan := make(chan providerResult, 1)
	go func() {
		defer close(raw)
		defer func() {
			if r := recover(); r != nil {
				resultChan <- providerResult{err: fmt.Errorf("llm provider panicked: %v", r)}
			}
		}()
		response, err := provider.Stream(ctx, request, raw)
		resultChan <- providerResult{response: response, err: err}
	}()

	var snapshot strings.Builder
	for event := range raw {
		// keep draining after cancellation so the provider never blocks on send
		if ctx.Err() != nil {
			continue
		}
		event, ok := normalizeEvent(event, &snapshot)
		if !ok {
			continue
		}
		s.emit(ctx, event)
	}

	result := <-resultChan
	s.final, s.err = result.response, result.err
	if s.err == nil && s.final == nil {
		s.err = errors.New("llm provider returned no message")
	}
	if s.err != nil && ctx.Err() != nil {
		s.err = fmt.Errorf("completion cancelled: %w", errors.Join(ctx.Err(), s.err))
	}

	if s.err != nil {
		span.RecordError(s.err)
		span.SetStatus(codes.Error, s.err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("llm.usage.input_tokens", s.final.Usage.InputTokens),
			attribute.Int("llm.usage.output_tokens", s.final.Usage.OutputTokens),
		)
	}

	if ctx.Err() != nil {
		return
	}
	if s.err != nil {
		s.emit(ctx, Event{Type: EventError, Err: s.err})
	} else {
		s.emit(ctx, Event{Type: EventMessage, Message: s.final})
	}
}

func (s *CompletionStream) emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// normalizeEvent enforces snapshot consistency on text deltas and filters out
// event types providers are not allowed to produce.
func normalizeEvent(event Event, snapshot *strings.Builder) (Event, bool) {
	switch event.Type {
	case EventTextDelta:
		if event.Delta == "" && event.Snapshot != "" {
			previous := snapshot.String()
			if !strings.HasPrefix(event.Snapshot, previous) {
				log.Warn().Int("snapshotLength", len(event.Snapshot)).Int("previousLength", len(previous)).
					Msg("Dropping text snapshot that does not extend the previous snapshot")
				return event, false
			}
			event.Delta = event.Snapshot[len(previous):]
		}
		if event.Delta == "" {
			return event, false
		}
		snapshot.WriteString(event.Delta)
		event.Snapshot = snapshot.String()
		return event, true
	case EventContentBlock:
		return event, event.ContentBlock != nil
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Dropping event type not allowed from providers")
		return event, false
	}
}
