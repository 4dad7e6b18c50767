package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// Cache wraps the shared client for the short-lived counters of the API.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrWindow counts one hit in the fixed window of key and returns the hits
// so far. The window starts with the first hit.
func (c *Cache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := "rl:" + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, domain.StorageErr(err, "rate limit counter")
	}
	return incr.Val(), nil
}
