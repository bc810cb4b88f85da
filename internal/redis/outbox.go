package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outbox is a Redis list used as the hand-off point to notification delivery.
// Producers LPUSH, the relay BRPOPs, so items leave in FIFO order.
type Outbox struct {
	client *redis.Client
	key    string
}

func NewOutbox(client *redis.Client, key string) *Outbox {
	return &Outbox{client: client, key: key}
}

func (o *Outbox) Push(ctx context.Context, msg []byte) error {
	if err := o.client.LPush(ctx, o.key, msg).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next item. ok is false when nothing
// arrived in time.
func (o *Outbox) Pop(ctx context.Context, timeout time.Duration) (msg []byte, ok bool, err error) {
	res, err := o.client.BRPop(ctx, timeout, o.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dequeue notification: %w", err)
	}
	// BRPOP returns [key, value]
	return []byte(res[1]), true, nil
}

// Requeue puts a message back at the consuming end after a failed delivery.
func (o *Outbox) Requeue(ctx context.Context, msg []byte) error {
	if err := o.client.RPush(ctx, o.key, msg).Err(); err != nil {
		return fmt.Errorf("requeue notification: %w", err)
	}
	return nil
}

func (o *Outbox) Len(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key).Result()
}
