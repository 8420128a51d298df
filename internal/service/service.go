package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"market-feed/internal/domain"
	"market-feed/internal/hub"
	"market-feed/internal/infrastructure/metrics"
	"market-feed/internal/messaging"
	"market-feed/internal/repository"
	"market-feed/internal/validation"
	"market-feed/pkg/logger"
	"market-feed/pkg/utils"
)

// ErrPersistFailed wraps store failures. The submission was not committed.
var ErrPersistFailed = errors.New("failed to persist listing")

// Ingestion stages, as counted by ingestion_stage_total.
const (
	StageReceived      = "received"
	StageValidated     = "validated"
	StageRejected      = "rejected"
	StagePersisted     = "persisted"
	StagePersistFailed = "persist_failed"
	StageBroadcast     = "broadcast"
	StageDone          = "done"
)

const exportTimeout = 5 * time.Second

type Normalizer interface {
	Normalize(raw domain.RawListing) (domain.Candidate, error)
}

type Broadcaster interface {
	Broadcast(l *domain.Listing) hub.Delivery
}

type ListingService interface {
	CreateListing(ctx context.Context, raw domain.RawListing) (*domain.Listing, error)
}

type listingService struct {
	validator   Normalizer
	repository  repository.ListingRepository
	broadcaster Broadcaster
	events      messaging.EventPublisher
	loggers     *logger.Loggers
	metrics     *metrics.ServiceMetrics
	tracer      trace.Tracer

	// publishSlot spans commit and broadcast, so broadcasts go out in
	// commit order.
	publishSlot chan struct{}
}

func NewListingService(
	validator Normalizer,
	repository repository.ListingRepository,
	broadcaster Broadcaster,
	events messaging.EventPublisher,
	loggers *logger.Loggers,
	metrics *metrics.ServiceMetrics,
) ListingService {
	return &listingService{
		validator:   validator,
		repository:  repository,
		broadcaster: broadcaster,
		events:      events,
		loggers:     loggers,
		metrics:     metrics,
		tracer:      otel.Tracer("market-feed/service"),
		publishSlot: make(chan struct{}, 1),
	}
}

func (s *listingService) CreateListing(ctx context.Context, raw domain.RawListing) (*domain.Listing, error) {
	ctx, span := s.tracer.Start(ctx, "CreateListing")
	defer span.End()

	startTime := time.Now()
	status := "success"

	defer func() {
		s.metrics.ObserveMethod("CreateListing", status, startTime)
	}()

	s.metrics.ObserveStage(StageReceived)

	candidate, err := s.validator.Normalize(raw)
	if err != nil {
		status = "rejected"
		s.metrics.ObserveStage(StageRejected)
		return nil, err
	}
	s.metrics.ObserveStage(StageValidated)

	listing, err := s.commitAndBroadcast(ctx, candidate)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			status = "cancelled"
			return nil, err
		}
		status = "error"
		span.RecordError(err)
		s.metrics.ObserveStage(StagePersistFailed)
		s.loggers.ErrorLogger.Error("Failed to persist listing", utils.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	s.export(ctx, listing)
	s.metrics.ObserveStage(StageDone)

	span.SetAttributes(
		attribute.String("listing.id", listing.ID),
		attribute.String("listing.title", listing.Title),
		attribute.String("listing.price", listing.Price.String()),
	)

	s.loggers.InfoLogger.Info("Listing created",
		slog.String("listing_id", listing.ID),
		slog.String("price", listing.Price.String()),
	)

	return listing, nil
}

func (s *listingService) commitAndBroadcast(ctx context.Context, candidate domain.Candidate) (*domain.Listing, error) {
	select {
	case s.publishSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.publishSlot }()

	listing, err := s.repository.Append(ctx, candidate)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveStage(StagePersisted)

	delivery := s.broadcaster.Broadcast(listing)
	s.metrics.ObserveStage(StageBroadcast)

	s.loggers.InfoLogger.Debug("Listing broadcast",
		slog.String("listing_id", listing.ID),
		slog.Int("sent", delivery.Sent),
		slog.Int("dropped", delivery.Dropped),
	)

	return listing, nil
}

// export hands the listing to downstream consumers. Failures are logged and
// never affect the submitter.
func (s *listingService) export(ctx context.Context, listing *domain.Listing) {
	if s.events == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "Kafka Publish")
	defer span.End()

	if err := s.events.PublishListingCreated(ctx, listing); err != nil {
		span.RecordError(err)
		s.loggers.ErrorLogger.Warn("Failed to export listing event",
			slog.String("listing_id", listing.ID),
			utils.Err(err),
		)
	}
}

// IsRejection reports whether err is a validation rejection.
func IsRejection(err error) bool {
	var rejection *validation.RejectionError
	return errors.As(err, &rejection)
}
