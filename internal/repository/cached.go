package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
	"market-feed/internal/infrastructure/cache"
	"market-feed/internal/infrastructure/metrics"
	"market-feed/pkg/utils"
)

const generationKey = "listings:generation"

// cachedListingRepository serves Recent from Redis. Keys carry a generation
// number that every successful Append bumps, so a page cached before a
// commit is never returned to a reader that started after it. When a bump
// fails, reads bypass Redis until a later bump succeeds.
type cachedListingRepository struct {
	inner   ListingRepository
	cache   cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.RepositoryMetrics
	tracer  trace.Tracer

	genMu sync.Mutex
	stale bool // guarded by genMu
}

func NewCachedListingRepository(inner ListingRepository, c cache.Cache, ttl time.Duration, logger *slog.Logger, m *metrics.RepositoryMetrics) ListingRepository {
	return &cachedListingRepository{
		inner:   inner,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("market-feed/repository"),
	}
}

func (r *cachedListingRepository) Append(ctx context.Context, candidate domain.Candidate) (*domain.Listing, error) {
	listing, err := r.inner.Append(ctx, candidate)
	if err != nil {
		return nil, err
	}

	if err := r.bumpGeneration(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("Failed to bump listing cache generation", slog.String("listing_id", listing.ID), utils.Err(err))
	}

	return listing, nil
}

// bumpGeneration increments the generation and records whether cached pages
// can still be trusted. The lock orders the outcome of concurrent bumps.
func (r *cachedListingRepository) bumpGeneration(ctx context.Context) error {
	r.genMu.Lock()
	defer r.genMu.Unlock()

	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Incr")
	defer cacheSpan.End()

	if _, err := r.cache.Incr(cacheSpanCtx, generationKey); err != nil {
		cacheSpan.RecordError(err)
		r.stale = true
		return err
	}
	r.stale = false
	return nil
}

// usable reports whether pages in Redis reflect every completed Append,
// retrying a failed bump first.
func (r *cachedListingRepository) usable(ctx context.Context) bool {
	r.genMu.Lock()
	stale := r.stale
	r.genMu.Unlock()

	return !stale || r.bumpGeneration(ctx) == nil
}

func (r *cachedListingRepository) Recent(ctx context.Context, limit int) ([]*domain.Listing, error) {
	if limit <= 0 {
		return r.inner.Recent(ctx, limit)
	}

	if !r.usable(ctx) {
		r.metrics.ObserveCache("bypass")
		return r.inner.Recent(ctx, limit)
	}

	gen, err := r.generation(ctx)
	if err != nil {
		r.metrics.ObserveCache("error")
		r.logger.Warn("Listing cache unavailable", utils.Err(err))
		return r.inner.Recent(ctx, limit)
	}
	cacheKey := fmt.Sprintf("listings:recent:%d:%d", gen, limit)

	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Get")
	cached, err := r.cache.Get(cacheSpanCtx, cacheKey)
	cacheSpan.End()

	switch {
	case err == nil:
		var listings []*domain.Listing
		if err := json.Unmarshal([]byte(cached), &listings); err == nil {
			r.metrics.ObserveCache("hit")
			return listings, nil
		}
		r.metrics.ObserveCache("error")
	case errors.Is(err, cache.ErrCacheMiss):
		r.metrics.ObserveCache("miss")
	default:
		r.metrics.ObserveCache("error")
		r.logger.Warn("Failed to read listing cache", slog.String("key", cacheKey), utils.Err(err))
	}

	listings, err := r.inner.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(listings); err == nil {
		cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Set")
		if err := r.cache.Set(cacheSpanCtx, cacheKey, string(data), r.ttl); err != nil {
			r.logger.Warn("Failed to write listing cache", slog.String("key", cacheKey), utils.Err(err))
		}
		cacheSpan.End()
	}

	return listings, nil
}

func (r *cachedListingRepository) generation(ctx context.Context) (int64, error) {
	cacheSpanCtx, cacheSpan := r.tracer.Start(ctx, "Redis Get")
	defer cacheSpan.End()

	raw, err := r.cache.Get(cacheSpanCtx, generationKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (r *cachedListingRepository) Close() error {
	return r.inner.Close()
}
