package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewJobLockKey(t *testing.T) {
	l := NewJobLock(unreachableClient(), "reconcile", "node-1", time.Minute)

	assert.Equal(t, "creditledger:job:lock:reconcile", l.key)
	assert.Equal(t, "node-1", l.value)
	assert.Equal(t, time.Minute, l.expiration)
}

func TestLockSurfacesRedisErrors(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	l := NewJobLock(client, "migrate", "node-1", time.Minute)

	ok, err := l.TryLock(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)

	assert.Error(t, l.Lock(context.Background(), time.Millisecond, 3))
}

func TestLockHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewJobLock(unreachableClient(), "migrate", "node-1", time.Minute)
	assert.Error(t, l.Lock(ctx, time.Millisecond, 3))
}
