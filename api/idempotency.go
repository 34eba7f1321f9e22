package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "idem"

// Replayer remembers the response of each idempotency key so retried requests are
// answered without being applied twice.
type Replayer interface {
	Lookup(ctx context.Context, board, key string) ([]byte, bool, error)
	Remember(ctx context.Context, board, key string, response []byte) error
}

// RedisReplayer stores responses in Redis so every instance sees them.
type RedisReplayer struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayer(client *redis.Client, ttl time.Duration) *RedisReplayer {
	return &RedisReplayer{client: client, ttl: ttl}
}

func (r *RedisReplayer) key(board, key string) string {
	return board + ":" + dedupeKeyPrefix + ":" + key
}

func (r *RedisReplayer) Lookup(ctx context.Context, board, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(board, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Remember keeps the first response recorded for a key.
func (r *RedisReplayer) Remember(ctx context.Context, board, key string, response []byte) error {
	return r.client.SetNX(ctx, r.key(board, key), response, r.ttl).Err()
}
