package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"market-feed/internal/domain"
	"market-feed/internal/messaging"
)

const DefaultTopic = "listings.created"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes listing events to a Kafka topic, keyed by listing ID so
// events for one listing stay on one partition.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}

	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

func newPublisher(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

func (p *Publisher) PublishListingCreated(ctx context.Context, l *domain.Listing) error {
	value, err := json.Marshal(messaging.ListingEvent{
		EventType:  messaging.EventListingCreated,
		Listing:    l,
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode listing event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(l.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(messaging.EventListingCreated)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish listing %s: %w", l.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
