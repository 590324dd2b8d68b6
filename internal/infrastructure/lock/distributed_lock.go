package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Distributed lock
// ============================================================================
//
// Balance updates do not need this lock: every debit and credit is a single
// atomic UPDATE. The lock keeps background sweeps single-runner across
// instances, so two reconcilers do not pick the same stale rows at once.
//
// Acquire: SET key value NX PX ttl
//   - NX:    only when the key is absent (mutual exclusion)
//   - PX:    expiry, so a crashed holder cannot block forever
//   - value: holder id, checked on release
//
// Release: Lua script comparing the value before DEL. Without the check a
// holder whose lock already expired would delete the next holder's lock.
//
// ============================================================================

var (
	ErrLockFailed = errors.New("acquire distributed lock failed")
)

// Locker is what jobs need from a lock.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// DistributedLock is a Redis lock held by one value at a time.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock until it succeeds, ctx ends or maxRetries is used up.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Unlock releases the lock only if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// NewJobLock returns the lock guarding one background job. holderID should
// identify the instance (hostname, node id).
func NewJobLock(client *redis.Client, job, holderID string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "creditledger:job:lock:"+job, holderID, ttl)
}
