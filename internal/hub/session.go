package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var sessionIDCounter atomic.Int64

// Session is one viewer's subscription. Events arrive on Events in broadcast
// order; the channel is closed when the session ends for any reason.
type Session struct {
	id     string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	closeMu sync.Mutex
	closed  bool
}

func newSession(ctx context.Context, bufferSize int) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)

	return &Session{
		id:     fmt.Sprintf("session-%d", sessionIDCounter.Add(1)),
		events: make(chan Event, bufferSize),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// send enqueues without blocking. It reports false when the buffer is full
// or the session is already closed.
func (s *Session) send(event Event) bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.cancel()
	close(s.events)
}
