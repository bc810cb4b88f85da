// Package relay drains the notification outbox and hands each notification to
// an out-of-band delivery channel.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/metrics"
	"github.com/hackgods/telehealth-scheduling/internal/realtime"
)

// Queue is the consuming side of the outbox.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, bool, error)
	Requeue(ctx context.Context, msg []byte) error
}

type Sender interface {
	Send(ctx context.Context, n realtime.Notification) error
}

// LogSender only logs. It is used when no webhook is configured.
type LogSender struct {
	Log *logrus.Logger
}

func (s LogSender) Send(_ context.Context, n realtime.Notification) error {
	s.Log.WithFields(logrus.Fields{
		"recipient_id":   n.RecipientID,
		"recipient_role": n.RecipientRole,
		"type":           n.Type,
		"appointment_id": n.Appointment.ID,
	}).Info("notification")
	return nil
}

// WebhookSender POSTs each notification as JSON. Any non-2xx answer is a
// failed delivery.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, n realtime.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}

type Relay struct {
	queue       Queue
	sender      Sender
	log         *logrus.Logger
	pollTimeout time.Duration
	retryDelay  time.Duration
}

func New(queue Queue, sender Sender, log *logrus.Logger, pollTimeout time.Duration) *Relay {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &Relay{
		queue:       queue,
		sender:      sender,
		log:         log,
		pollTimeout: pollTimeout,
		retryDelay:  time.Second,
	}
}

// Run relays until ctx is cancelled. A failed delivery is put back on the
// queue and the relay pauses before the next attempt.
func (r *Relay) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, ok, err := r.queue.Pop(ctx, r.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.WithError(err).Warn("outbox read failed")
			r.pause(ctx)
			continue
		}
		if !ok {
			continue
		}

		if !r.handle(ctx, msg) {
			r.pause(ctx)
		}
	}
}

// handle delivers one message and reports whether the relay may move on
// without pausing.
func (r *Relay) handle(ctx context.Context, msg []byte) bool {
	var n realtime.Notification
	if err := json.Unmarshal(msg, &n); err != nil {
		// a malformed item would block the queue forever
		metrics.NotificationsRelayedTotal.WithLabelValues("discarded").Inc()
		r.log.WithError(err).Error("discarding malformed notification")
		return true
	}

	entry := r.log.WithFields(logrus.Fields{
		"type":           n.Type,
		"recipient_id":   n.RecipientID,
		"appointment_id": n.Appointment.ID,
	})

	if err := r.sender.Send(ctx, n); err != nil {
		metrics.NotificationsRelayedTotal.WithLabelValues(metrics.ResultError).Inc()
		entry.WithError(err).Warn("notification delivery failed, requeueing")

		// the pop already happened, so requeue with a context that outlives shutdown
		requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := r.queue.Requeue(requeueCtx, msg); err != nil {
			entry.WithError(err).Error("requeue failed, notification lost")
		}
		return false
	}

	metrics.NotificationsRelayedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	entry.Debug("notification delivered")
	return true
}

func (r *Relay) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.retryDelay):
	}
}
