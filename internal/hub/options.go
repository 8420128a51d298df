package hub

import "market-feed/internal/infrastructure/metrics"

const (
	DefaultBufferSize  = 64
	DefaultMaxSessions = 1000
)

type Option func(*Hub)

// WithBufferSize sets how many undelivered events a session may hold before
// it is closed as a slow consumer.
func WithBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(h *Hub) {
		if n >= 0 {
			h.maxSessions = n
		}
	}
}

func WithMetrics(m *metrics.HubMetrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}
