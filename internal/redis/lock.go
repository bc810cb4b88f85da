package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
	// ErrLockUnavailable means Redis could not be asked for the lock at all.
	// The critical section has not run.
	ErrLockUnavailable = errors.New("slot lock unavailable")
)

// Locker is used by the booking coordinator to serialise attempts on one
// (doctor, date, slot). It narrows contention only; the store constraint stays
// authoritative.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const lockPrefix = "telehealth:lock:slot:"

type slotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSlotLocker returns a Locker holding one SET NX key per slot. The
// critical section runs under a deadline equal to the lock TTL so it cannot
// outlive its lock.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &slotLocker{client: client, ttl: ttl}
}

func (l *slotLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockPrefix + key
	owner := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
	switch {
	case err != nil:
		return fmt.Errorf("%w: acquire %s: %w", ErrLockUnavailable, key, err)
	case !acquired:
		return ErrLockNotAcquired
	}
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), redisKey, owner)
	}()

	lockedCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()
	return fn(lockedCtx)
}

// compare-and-delete so an expired lock taken over by another owner survives
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *slotLocker) release(ctx context.Context, key, owner string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

// NoopLocker runs fn directly. Used when Redis is disabled; the store
// constraint alone then decides concurrent bookings.
type NoopLocker struct{}

func (NoopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
