package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
)

// streamScope selects which events a stream subscription receives
type streamScope struct {
	jobID string // non-empty: only this job
	kind  string // non-empty: only jobs of this kind
}

func (s streamScope) matches(event interfaces.Event) bool {
	if s.jobID != "" {
		return event.JobID == s.jobID
	}
	if s.kind != "" {
		return event.Kind == s.kind
	}
	return true
}

type streamSub struct {
	scope  streamScope
	ch     chan interfaces.Event
	closed bool
}

// Service implements EventService with pub/sub handlers plus buffered
// per-job/per-kind streams for WebSocket clients. Stream sends never
// block: a full buffer drops the event, storage remains the source of
// truth for anything missed.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	streams     map[uint64]*streamSub
	nextStream  uint64
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		streams:     make(map[uint64]*streamSub),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return nil
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	handlers := s.subscribers[event.Type]
	s.mu.RUnlock()

	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(handler)
	}

	s.dispatchStreams(event)

	return nil
}

// PublishSync sends an event to all subscribers synchronously
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	handlers := s.subscribers[event.Type]
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	s.dispatchStreams(event)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("event handlers failed: %d errors", len(errs))
	}

	return nil
}

// dispatchStreams delivers an event to matching stream subscriptions.
// Job-scoped streams are closed after delivering the job's terminal event.
func (s *Service) dispatchStreams(event interfaces.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.streams {
		if sub.closed || !sub.scope.matches(event) {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			s.logger.Debug().
				Str("event_type", string(event.Type)).
				Str("job_id", event.JobID).
				Msg("Stream subscriber buffer full, event dropped")
		}

		if sub.scope.jobID != "" && event.Type.IsTerminal() {
			sub.closed = true
			close(sub.ch)
			delete(s.streams, id)
		}
	}
}

// SubscribeJob opens a buffered event stream scoped to one job
func (s *Service) SubscribeJob(jobID string, buffer int) (<-chan interfaces.Event, func()) {
	return s.subscribeStream(streamScope{jobID: jobID}, buffer)
}

// SubscribeKind opens a buffered event stream for all jobs of a kind
func (s *Service) SubscribeKind(kind string, buffer int) (<-chan interfaces.Event, func()) {
	return s.subscribeStream(streamScope{kind: kind}, buffer)
}

// SubscribeAll opens a buffered event stream for every job event
func (s *Service) SubscribeAll(buffer int) (<-chan interfaces.Event, func()) {
	return s.subscribeStream(streamScope{}, buffer)
}

func (s *Service) subscribeStream(scope streamScope, buffer int) (<-chan interfaces.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	sub := &streamSub{
		scope: scope,
		ch:    make(chan interfaces.Event, buffer),
	}

	s.mu.Lock()
	id := s.nextStream
	s.nextStream++
	s.streams[id] = sub
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.streams[id]; ok && !existing.closed {
			existing.closed = true
			close(existing.ch)
			delete(s.streams, id)
		}
	}

	return sub.ch, cancel
}

// Close shuts down the event service and closes all streams
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.streams {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(s.streams, id)
	}
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.logger.Info().Msg("Event service closed")

	return nil
}
