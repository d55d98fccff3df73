// Package webpush delivers detection events to browsers through the Web Push protocol.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	wp "github.com/SherClockHolmes/webpush-go"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/repository/subscription"
)

// Name is the transport name used in logs and metrics.
const Name = "webpush"

var (
	// errVAPIDRequired is returned when the VAPID key pair is missing.
	errVAPIDRequired = errors.New("vapid key pair is required")
	// ErrPushRejected is returned when a push service refuses a message.
	ErrPushRejected = errors.New("push service rejected the message")
)

// Message is the JSON body shown by the service worker.
type Message struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Band      int    `json:"band"`
	Timestamp int64  `json:"timestamp"`
}

// Transport pushes every event to every stored subscription.
type Transport struct {
	repo     subscription.Repository
	settings config.WebPush
	client   wp.HTTPClient
}

// New returns a transport reading subscriptions from repo.
// A nil client means http.DefaultClient.
func New(repo subscription.Repository, settings config.WebPush, client wp.HTTPClient) (*Transport, error) {
	if settings.VAPIDPrivateKey == "" || settings.VAPIDPublicKey == "" {
		return nil, errVAPIDRequired
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Transport{
		repo:     repo,
		settings: settings,
		client:   client,
	}, nil
}

// ParseSubscription decodes a browser PushSubscription JSON document.
func ParseSubscription(data []byte) (*wp.Subscription, error) {
	sub := new(wp.Subscription)
	if err := json.Unmarshal(data, sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}

	return sub, nil
}

// Name implements notify.Transport.
func (t *Transport) Name() string {
	return Name
}

// Send pushes the event to all subscriptions. Subscriptions the push service
// reports as gone are removed; other failures are joined into the result.
func (t *Transport) Send(ctx context.Context, event detector.Event) error {
	subs, err := t.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	if len(subs) == 0 {
		logger.Debug(ctx, "No web push subscriptions")
		return nil
	}

	body, err := json.Marshal(Message{
		ID:        event.ID.String(),
		Title:     event.Message(),
		Band:      event.Band,
		Timestamp: event.Timestamp.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	var errs []error

	for _, sub := range subs {
		if err = t.push(ctx, body, sub); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (t *Transport) push(ctx context.Context, body []byte, sub *wp.Subscription) error {
	resp, err := wp.SendNotificationWithContext(ctx, body, sub, &wp.Options{
		HTTPClient:      t.client,
		Subscriber:      t.settings.Subscriber,
		TTL:             t.settings.TTL,
		Urgency:         wp.UrgencyHigh,
		VAPIDPublicKey:  t.settings.VAPIDPublicKey,
		VAPIDPrivateKey: t.settings.VAPIDPrivateKey,
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		logger.InfoKV(ctx, "Removing expired web push subscription", "endpoint", sub.Endpoint)

		if err = t.repo.Unsubscribe(ctx, sub.Endpoint); err != nil {
			return fmt.Errorf("remove %s: %w", sub.Endpoint, err)
		}

		return nil
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s: http %d", ErrPushRejected, sub.Endpoint, resp.StatusCode)
	default:
		return nil
	}
}
