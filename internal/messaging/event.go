// Package messaging defines the events exported when listings are committed.
package messaging

import (
	"context"
	"time"

	"market-feed/internal/domain"
)

const EventListingCreated = "listing.created"

// ListingEvent is the Kafka message envelope for listing events.
type ListingEvent struct {
	EventType  string          `json:"event_type"`
	Listing    *domain.Listing `json:"listing"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventPublisher exports committed listings to downstream consumers.
type EventPublisher interface {
	PublishListingCreated(ctx context.Context, l *domain.Listing) error
	Close() error
}
