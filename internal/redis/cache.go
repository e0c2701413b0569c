package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// minGenerationTTL keeps generation counters alive well past any entry written
// under them, so a counter never resets while an older entry is still live.
const minGenerationTTL = 24 * time.Hour

// Cache stores opaque payloads under generation-numbered keys. Invalidate
// bumps a key's generation instead of deleting the entry, so a reader that
// loaded its data before the bump can only write under the old generation,
// which no later Get reads.
type Cache interface {
	// Get returns the entry for key at its current generation. The
	// generation is returned on a miss too and is what Set must be given.
	Get(ctx context.Context, key string) ([]byte, int64, error)
	Set(ctx context.Context, key string, gen int64, value []byte) error
	Invalidate(ctx context.Context, keys ...string) error
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	genTTL time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) Cache {
	genTTL := 2 * ttl
	if genTTL < minGenerationTTL {
		genTTL = minGenerationTTL
	}
	return &redisCache{client: client, ttl: ttl, genTTL: genTTL}
}

func genKey(key string) string { return "cache:gen:" + key }

func entryKey(key string, gen int64) string { return fmt.Sprintf("cache:%s:%d", key, gen) }

func (c *redisCache) generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.client.Get(ctx, genKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, int64, error) {
	gen, err := c.generation(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("cache generation %s: %w", key, err)
	}
	val, err := c.client.Get(ctx, entryKey(key, gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, ErrCacheMiss
		}
		return nil, gen, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, gen, nil
}

func (c *redisCache) Set(ctx context.Context, key string, gen int64, value []byte) error {
	if err := c.client.Set(ctx, entryKey(key, gen), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, genKey(k))
			pipe.Expire(ctx, genKey(k), c.genTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
