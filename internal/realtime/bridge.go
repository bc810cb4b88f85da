package realtime

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Subscriber streams room messages published by any instance.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(room string, payload []byte)) error
}

// Bridge feeds messages from sub into the local hub until ctx is cancelled,
// resubscribing with a capped backoff whenever the subscription drops.
func Bridge(ctx context.Context, sub Subscriber, hub *Hub, log *logrus.Logger) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		err := sub.Subscribe(ctx, func(room string, payload []byte) {
			hub.Broadcast(room, payload)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.WithError(err).WithField("retry_in", backoff.String()).Warn("realtime bridge subscription lost")
		} else {
			backoff = 100 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
