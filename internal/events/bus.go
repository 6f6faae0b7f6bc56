package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus implements publish-subscribe with two kinds of consumers.
// Handlers run asynchronously, one goroutine per delivery, with no ordering
// between deliveries. Streams receive events in emission order through a
// bounded channel; when a stream's buffer is full the event is dropped for
// that stream and counted, so a slow reader never stalls the emitter.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	streams  map[*Stream]struct{}
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		streams:  make(map[*Stream]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging/debugging purposes.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine to prevent blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for st := range eb.streams {
		st.offer(event)
	}

	handlers, exists := eb.handlers[event.Type]
	if !exists || len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}

	for st := range eb.streams {
		st.offer(event)
	}

	handlers, exists := eb.handlers[event.Type]
	if !exists || len(handlers) == 0 {
		eb.mu.RUnlock()
		return nil
	}

	// Copy handlers to release lock before executing
	handlersCopy := make([]handlerEntry, len(handlers))
	copy(handlersCopy, handlers)
	eb.mu.RUnlock()

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlersCopy {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("event", string(event.Type)).
						Str("handler", h.name).
						Interface("panic", r).
						Msg("handler panicked")
				}
			}()

			if err := h.handler(ctx, event); err != nil {
				errOnce.Do(func() { firstErr = err })
				log.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("handler", h.name).
					Msg("handler returned error")
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// Stop signals the EventBus to stop accepting new events, closes every
// stream and waits for all in-flight handlers to complete. It is safe to
// call more than once.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for st := range eb.streams {
		close(st.ch)
		delete(eb.streams, st)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Debug().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// StreamCount returns the number of open streams.
func (eb *EventBus) StreamCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.streams)
}

// Stream is an ordered, bounded subscription. Receive from C until it is
// closed, which happens on Close or when the bus stops.
type Stream struct {
	bus     *EventBus
	ch      chan Event
	types   map[EventType]bool
	dropped atomic.Uint64
}

// Stream opens a subscription buffering up to size events. With no types
// given, every event is delivered.
func (eb *EventBus) Stream(size int, types ...EventType) *Stream {
	if size < 1 {
		size = 1
	}
	st := &Stream{bus: eb, ch: make(chan Event, size)}
	if len(types) > 0 {
		st.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			st.types[t] = true
		}
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		close(st.ch)
		return st
	}
	eb.streams[st] = struct{}{}
	return st
}

// C returns the receive channel.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes the stream and closes its channel. It is safe to call
// more than once.
func (s *Stream) Close() {
	eb := s.bus
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if _, ok := eb.streams[s]; ok {
		delete(eb.streams, s)
		close(s.ch)
	}
}

// offer delivers without blocking. Callers hold the bus read lock.
func (s *Stream) offer(event Event) {
	if s.types != nil && !s.types[event.Type] {
		return
	}
	select {
	case s.ch <- event:
	default:
		if s.dropped.Add(1) == 1 {
			log.Warn().
				Str("event", string(event.Type)).
				Str("source", event.Source).
				Msg("event stream full, dropping events")
		}
	}
}
