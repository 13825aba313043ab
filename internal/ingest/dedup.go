package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"deskrelay/internal/constants"
)

// DedupStore is the fast-path idempotency cache in front of the
// database uniqueness constraint. Seen is a read-only check; MarkSeen
// records a pair only after its row is durably stored, so a failed
// insert never blocks the provider's retry.
type DedupStore interface {
	Seen(ctx context.Context, ticketID int64, emailMessageID string) (bool, error)
	MarkSeen(ctx context.Context, ticketID int64, emailMessageID string) error
}

type RedisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDedupStore(client *redis.Client, ttl time.Duration) *RedisDedupStore {
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTLSeconds * time.Second
	}
	return &RedisDedupStore{client: client, ttl: ttl}
}

func dedupKey(ticketID int64, emailMessageID string) string {
	sum := sha256.Sum256([]byte(emailMessageID))
	return fmt.Sprintf("%s%d:%s", constants.CacheKeyPrefixInbound, ticketID, hex.EncodeToString(sum[:8]))
}

func (s *RedisDedupStore) Seen(ctx context.Context, ticketID int64, emailMessageID string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupKey(ticketID, emailMessageID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

func (s *RedisDedupStore) MarkSeen(ctx context.Context, ticketID int64, emailMessageID string) error {
	if err := s.client.Set(ctx, dedupKey(ticketID, emailMessageID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}
