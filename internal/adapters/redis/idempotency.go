package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// Idempotency stores replayable responses by Idempotency-Key, plus a lock
// that marks a key whose first request is still running.
type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

func (i *Idempotency) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.StorageErr(err, "get idempotent response")
	}
	return val, true, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := i.client.Set(ctx, "idemp:"+key, data, ttl).Err(); err != nil {
		return domain.StorageErr(err, "store idempotent response")
	}
	return nil
}

func (i *Idempotency) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, "idemp:lock:"+key, 1, ttl).Result()
	if err != nil {
		return false, domain.StorageErr(err, "lock idempotency key")
	}
	return ok, nil
}

func (i *Idempotency) Unlock(ctx context.Context, key string) error {
	if err := i.client.Del(ctx, "idemp:lock:"+key).Err(); err != nil {
		return domain.StorageErr(err, "unlock idempotency key")
	}
	return nil
}
