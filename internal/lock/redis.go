package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"anzacash/internal/logger"
)

const (
	defaultTTL   = 15 * time.Second
	defaultRetry = 25 * time.Millisecond
)

var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every server instance using the same redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: defaultTTL, retry: defaultRetry}
}

// WithTTL sets how long a lock survives a crashed holder.
func (r *Redis) WithTTL(ttl time.Duration) *Redis {
	r.ttl = ttl
	return r
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		full := r.prefix + k
		if err := r.acquire(ctx, full, token); err != nil {
			r.release(held, token)
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, full)
	}

	var once sync.Once
	return func() { once.Do(func() { r.release(held, token) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil {
			logger.Warningf("failed to release lock %s: %v", keys[i], err)
		}
	}
}
