package noop

import (
	"context"

	"market-feed/internal/domain"
)

// Publisher is a no-op EventPublisher used when Kafka is not configured.
type Publisher struct{}

func (Publisher) PublishListingCreated(_ context.Context, _ *domain.Listing) error { return nil }

func (Publisher) Close() error { return nil }
