package reputation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps computed scores in Redis with a short TTL. Correctness
// does not depend on it: scores are recomputed from source rows on
// every miss, and writers call Invalidate. Cache errors degrade to a
// recompute, never to a failed read.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(addr, password string, ttl time.Duration) *Cache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Cache{client: c, ttl: ttl}
}

func key(userID string) string { return "reputation:" + userID }

func (c *Cache) Get(ctx context.Context, userID string) (Result, bool) {
	b, err := c.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func (c *Cache) Set(ctx context.Context, userID string, res Result) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key(userID), b, c.ttl).Err()
}

func (c *Cache) Del(ctx context.Context, userID string) {
	_ = c.client.Del(ctx, key(userID)).Err()
}

func (c *Cache) Close() error { return c.client.Close() }
