package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotLocker_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ran := false
	err := NewRedisSlotLocker(client, time.Second).WithLock(context.Background(), "doctor:2025-06-10:600", func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockUnavailable)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran)
}

func TestNoopLocker_RunsCriticalSection(t *testing.T) {
	ran := false
	require.NoError(t, NoopLocker{}.WithLock(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}
