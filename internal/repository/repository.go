package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"market-feed/internal/domain"
	"market-feed/internal/infrastructure/metrics"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("listing store closed")

// ListingRepository is a durable, append-only collection of listings.
//
// Append assigns the listing ID and CreatedAt and returns only once the
// record is durable. Appends are applied one at a time per store instance.
// Recent returns up to limit listings, newest first, and reflects every
// Append that returned before it was called.
type ListingRepository interface {
	Append(ctx context.Context, candidate domain.Candidate) (*domain.Listing, error)
	Recent(ctx context.Context, limit int) ([]*domain.Listing, error)
	Close() error
}

type options struct {
	clock   func() time.Time
	newID   func() string
	metrics *metrics.RepositoryMetrics
	logger  *slog.Logger
}

type Option func(*options)

// WithClock replaces the commit clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator replaces the ID source.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func WithMetrics(m *metrics.RepositoryMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithLogger sets where a store reports failures that do not fail the call.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// commitTime returns the timestamp for the next commit: the clock reading at
// microsecond precision, never earlier than the previous commit.
func (o options) commitTime(last time.Time) time.Time {
	now := o.clock().UTC().Truncate(time.Microsecond)
	if now.Before(last) {
		return last
	}
	return now
}

// writeSlot serializes commits. A caller waiting for the slot may give up
// through its context; a caller holding it runs its commit to completion.
type writeSlot chan struct{}

func newWriteSlot() writeSlot {
	return make(writeSlot, 1)
}

func (s writeSlot) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s writeSlot) release() {
	<-s
}
