package redisclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "rt:"

// PubSub fans real-time room messages out across api-server instances.
// Every instance publishes to rt:<room> and subscribes to rt:*.
type PubSub struct {
	client *redis.Client
}

func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

func (p *PubSub) Publish(ctx context.Context, room string, payload []byte) error {
	if err := p.client.Publish(ctx, RoomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish to room %s: %w", room, err)
	}
	return nil
}

// Subscribe delivers every room message to fn until ctx is cancelled.
func (p *PubSub) Subscribe(ctx context.Context, fn func(room string, payload []byte)) error {
	sub := p.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading messages.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to rooms: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(strings.TrimPrefix(msg.Channel, roomChannelPrefix), []byte(msg.Payload))
		}
	}
}
