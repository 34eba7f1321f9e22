package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Cache wraps a Storage with Redis-backed caching of List.
type Cache struct {
	base  Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base. A nil client disables caching.
func NewCache(base Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, board string, kind domain.Kind) ([]Item, error) {
	if items, ok := c.load(ctx, board, kind); ok {
		return items, nil
	}
	items, err := c.base.List(ctx, board, kind)
	if err != nil {
		return nil, err
	}
	c.store(ctx, board, kind, items)
	return items, nil
}

func (c *Cache) Get(ctx context.Context, board string, kind domain.Kind, id string) (Item, error) {
	return c.base.Get(ctx, board, kind, id)
}

func (c *Cache) Put(ctx context.Context, board string, kind domain.Kind, item Item) error {
	if err := c.base.Put(ctx, board, kind, item); err != nil {
		return err
	}
	c.evict(ctx, board, kind)
	return nil
}

func (c *Cache) Delete(ctx context.Context, board string, kind domain.Kind, id string) error {
	if err := c.base.Delete(ctx, board, kind, id); err != nil {
		return err
	}
	c.evict(ctx, board, kind)
	return nil
}

func (c *Cache) load(ctx context.Context, board string, kind domain.Kind) ([]Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := cacheKey(board, kind)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// fall back to the backing storage
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) store(ctx context.Context, board string, kind domain.Kind, items []Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, cacheKey(board, kind), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, board string, kind domain.Kind) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cacheKey(board, kind)).Err()
}

func cacheKey(board string, kind domain.Kind) string {
	return "board:" + board + ":" + kind.Resource()
}
