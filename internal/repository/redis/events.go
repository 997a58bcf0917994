package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopdesk/coupon-service/internal/repository"
)

const processedEventKeyPrefix = "coupon:events:processed:"

// EventStore implements repository.EventStore with one expiring key per
// processed event id.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ repository.EventStore = (*EventStore)(nil)

// NewEventStore creates a processed-event store. Ids are forgotten after ttl.
func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	return &EventStore{client: client, ttl: ttl}
}

// Contains reports whether eventID was already processed.
func (s *EventStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedEventKeyPrefix+eventID).Result()
	if err != nil {
		return false, fmt.Errorf("redis check processed event: %w", err)
	}
	return n > 0, nil
}

// Add records eventID as processed.
func (s *EventStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, processedEventKeyPrefix+eventID, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis mark event processed: %w", err)
	}
	return nil
}
