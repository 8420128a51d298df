package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
	"market-feed/internal/infrastructure/metrics"
	"market-feed/internal/repository"
)

const (
	DefaultFeedLimit = 60
	MaxFeedLimit     = 60
)

// FeedReader serves the recent-listings snapshot viewers backfill from.
// Viewers subscribe to the hub first and then take a snapshot, dropping
// duplicates by ID.
type FeedReader struct {
	repository   repository.ListingRepository
	defaultLimit int
	maxLimit     int
	metrics      *metrics.ServiceMetrics
	tracer       trace.Tracer
}

func NewFeedReader(repository repository.ListingRepository, defaultLimit, maxLimit int, m *metrics.ServiceMetrics) *FeedReader {
	if maxLimit <= 0 {
		maxLimit = MaxFeedLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultFeedLimit
	}
	defaultLimit = min(defaultLimit, maxLimit)

	return &FeedReader{
		repository:   repository,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		metrics:      m,
		tracer:       otel.Tracer("market-feed/service"),
	}
}

// Snapshot returns up to limit listings, newest first. A non-positive limit
// means the default; anything above the maximum is clamped.
func (f *FeedReader) Snapshot(ctx context.Context, limit int) ([]*domain.Listing, error) {
	ctx, span := f.tracer.Start(ctx, "Snapshot")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		f.metrics.ObserveMethod("Snapshot", status, startTime)
	}()

	limit = f.effectiveLimit(limit)
	span.SetAttributes(attribute.Int("listings.limit", limit))

	listings, err := f.repository.Recent(ctx, limit)
	if err != nil {
		status = "error"
		span.RecordError(err)
		return nil, err
	}
	return listings, nil
}

// Since returns the listings committed after the one with id lastID, oldest
// first. found is false when lastID is not in the snapshot window, in which
// case the caller cannot tell what it missed and should refetch the feed.
func (f *FeedReader) Since(ctx context.Context, lastID string) (listings []*domain.Listing, found bool, err error) {
	recent, err := f.Snapshot(ctx, f.maxLimit)
	if err != nil {
		return nil, false, err
	}

	for i, l := range recent {
		if l.ID != lastID {
			continue
		}
		missed := make([]*domain.Listing, 0, i)
		for j := i - 1; j >= 0; j-- {
			missed = append(missed, recent[j])
		}
		return missed, true, nil
	}
	return nil, false, nil
}

func (f *FeedReader) effectiveLimit(limit int) int {
	if limit <= 0 {
		return f.defaultLimit
	}
	return min(limit, f.maxLimit)
}
