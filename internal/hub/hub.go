// Package hub fans committed listings out to live viewer sessions.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"market-feed/internal/domain"
	"market-feed/internal/infrastructure/metrics"
)

var (
	ErrTooManySessions = errors.New("too many viewer sessions")
	ErrHubClosed       = errors.New("hub closed")
)

// Hub keeps the set of live sessions. Broadcasts are applied one at a time,
// so every session sees events in the order Broadcast was called. A session
// whose buffer is full is closed; its viewer reconnects and backfills from
// the feed.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.HubMetrics

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	broadcastMu sync.Mutex
	wg          sync.WaitGroup

	bufferSize  int
	maxSessions int
}

func New(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		logger:      logger,
		sessions:    make(map[string]*Session),
		bufferSize:  DefaultBufferSize,
		maxSessions: DefaultMaxSessions,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe registers a session that lives until ctx is done, Unsubscribe is
// called, the session falls behind, or the hub closes.
func (h *Hub) Subscribe(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		current := len(h.sessions)
		h.mu.Unlock()
		h.logger.Warn("Max viewer sessions reached, rejecting subscription",
			slog.Int("max_sessions", h.maxSessions),
			slog.Int("current_sessions", current),
		)
		return nil, ErrTooManySessions
	}

	s := newSession(ctx, h.bufferSize)
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.metrics.SetSessions(count)
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Debug("Session subscribed",
		slog.String("session_id", s.id),
		slog.Int("total_sessions", count),
	)

	go h.watch(s)

	return s, nil
}

func (h *Hub) Unsubscribe(s *Session) {
	if s == nil {
		return
	}
	h.remove(s.id)
}

// Broadcast delivers l to every session registered when the call starts.
// It never blocks on a session.
func (h *Hub) Broadcast(l *domain.Listing) Delivery {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	event := newListingEvent(l.Clone())

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var d Delivery
	slow := make([]*Session, 0)

	for _, s := range targets {
		if s.send(event) {
			d.Sent++
		} else {
			d.Dropped++
			slow = append(slow, s)
		}
	}

	for _, s := range slow {
		h.logger.Warn("Session buffer full, closing slow session",
			slog.String("session_id", s.id),
			slog.String("listing_id", l.ID),
		)
		h.remove(s.id)
	}

	h.metrics.ObserveDelivery(d.Sent, d.Dropped)

	if d.Sent > 0 || d.Dropped > 0 {
		h.logger.Debug("Listing broadcast",
			slog.String("listing_id", l.ID),
			slog.Int("sent", d.Sent),
			slog.Int("dropped", d.Dropped),
		)
	}

	return d
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.metrics.SetSessions(0)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.wg.Wait()

	h.logger.Info("Hub closed", slog.Int("sessions", len(sessions)))
}

func (h *Hub) watch(s *Session) {
	defer h.wg.Done()

	<-s.ctx.Done()

	h.remove(s.id)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	count := len(h.sessions)
	h.metrics.SetSessions(count)
	h.mu.Unlock()

	if !ok {
		return
	}

	s.close()
	h.logger.Debug("Session removed",
		slog.String("session_id", id),
		slog.Int("total_sessions", count),
	)
}
