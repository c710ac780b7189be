package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"capbridge/internal/capstore"
)

// Deduper answers whether a cap_id has been seen recently. It is a fast-path
// advisory check; the record store's uniqueness constraint stays authoritative.
type Deduper interface {
	Seen(ctx context.Context, capID string) (bool, error)
	Mark(ctx context.Context, capID string) error
}

const dedupeKeyPrefix = "capbridge:seen:"

// RedisDeduper tracks recent cap_ids in Redis with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, capID string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupeKeyPrefix+capID).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe lookup: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) Mark(ctx context.Context, capID string) error {
	if err := d.client.Set(ctx, dedupeKeyPrefix+capID, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe mark: %w", err)
	}
	return nil
}

// StoreDeduper falls back to the record store when Redis is not configured.
type StoreDeduper struct {
	store capstore.Store
}

func NewStoreDeduper(store capstore.Store) *StoreDeduper {
	return &StoreDeduper{store: store}
}

func (d *StoreDeduper) Seen(ctx context.Context, capID string) (bool, error) {
	return d.store.Exists(ctx, capID)
}

func (d *StoreDeduper) Mark(context.Context, string) error {
	// The store save itself is the mark.
	return nil
}
