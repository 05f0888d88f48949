package engine

import (
	"context"
	"sync"
)

// Stream delivers the events of one run to its caller. The producer side
// (the supervisor) emits events and closes the stream exactly once; the
// consumer ranges over Events and checks Err after the channel closes.
type Stream struct {
	events chan Event

	mu     sync.Mutex
	err    error
	closed bool
}

// NewStream returns an unbuffered event stream. Emission blocks until the
// consumer receives, so producer and consumer stay in lockstep and the
// Started? Action* Completed order observed equals the order emitted.
func NewStream() *Stream {
	return &Stream{events: make(chan Event)}
}

// Events returns the receive side. The channel is closed when the run ends;
// call Err afterwards to distinguish completion from fatal failure.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err reports the fatal run error, if any. Valid only after Events closes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers one event to the consumer, or gives up when ctx is done.
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream, recording err as the fatal run error. Subsequent
// calls are no-ops so cleanup paths can close unconditionally.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
