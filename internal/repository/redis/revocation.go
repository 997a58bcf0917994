package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopdesk/coupon-service/internal/repository"
)

const revokedKeyPrefix = "coupon:auth:revoked:"

// RevocationStore implements repository.RevocationStore using Redis keys
// that expire together with the revoked token.
type RevocationStore struct {
	client *redis.Client
}

var _ repository.RevocationStore = (*RevocationStore)(nil)

// NewRevocationStore creates a new Redis-backed token revocation store.
func NewRevocationStore(client *redis.Client) *RevocationStore {
	return &RevocationStore{client: client}
}

// Revoke marks tokenID as revoked for ttl. A non-positive ttl means the
// token has already expired and nothing is stored.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID was revoked and has not expired yet.
func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.client.Get(ctx, revokedKeyPrefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis check revoked token: %w", err)
	}
	return true, nil
}
