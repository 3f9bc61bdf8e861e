package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a receipt stays retrievable by its key.
const DefaultTTL = 24 * time.Hour

// Redis is a Store shared by every instance connected to one Redis server.
// Keys are namespaced as "idem:<key>".
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("idempotency: ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func redisKey(key string) string {
	return "idem:" + key
}

// Get returns the receipt stored for key. Keys past their TTL have been
// evicted by Redis and read as absent.
func (r *Redis) Get(ctx context.Context, key string) (*models.Receipt, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: get %q: %w", key, err)
	}

	var receipt models.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, false, fmt.Errorf("idempotency: decode %q: %w", key, err)
	}
	return &receipt, true, nil
}

// Put stores the receipt unless the key is already taken; the first
// receipt for a key wins.
func (r *Redis) Put(ctx context.Context, key string, receipt *models.Receipt) error {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("idempotency: encode %q: %w", key, err)
	}
	if err := r.client.SetNX(ctx, redisKey(key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: set %q: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
