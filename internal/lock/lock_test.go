package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "user:1", "user:2")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocal())
}

func TestLocalContextCancel(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "user:7")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "user:7")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock2, err := l.Lock(context.Background(), "user:7")
	require.NoError(t, err)
	unlock2()
	assert.Empty(t, l.locks)
}

func TestLocalDuplicateKeys(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "user:3", "user:3")
	require.NoError(t, err)
	unlock()
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "anzacash:lock:"), mr
}

func TestRedisMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), "user:9")
	require.NoError(t, err)
	assert.True(t, mr.Exists("anzacash:lock:user:9"))

	// Simulate expiry followed by another holder taking the key.
	require.NoError(t, mr.Set("anzacash:lock:user:9", "someone-else"))
	unlock()

	got, err := mr.Get("anzacash:lock:user:9")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockTimesOut(t *testing.T) {
	l, mr := newRedisLocker(t)
	require.NoError(t, mr.Set("anzacash:lock:user:4", "held"))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, "user:4")
	assert.ErrorIs(t, err, ErrNotAcquired)
}
