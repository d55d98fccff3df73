package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/notify"
	"github.com/oshokin/doorbell-monitor/internal/notify/webpush"
	"github.com/oshokin/doorbell-monitor/internal/repository/subscription"
)

var (
	// ErrNoTransports is returned by TestNotify when nothing is configured.
	ErrNoTransports = errors.New("no notification transport configured")
	// ErrDeliveryFailed is returned by TestNotify when a transport failed.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrNoSubscriptionDatabase is returned by Subscribe when webpush.database is empty.
	ErrNoSubscriptionDatabase = errors.New("webpush database is not configured")

	errBandOutOfRange = errors.New("band index out of range")
)

// TestNotifyOptions controls a test notification.
type TestNotifyOptions struct {
	ConfigPath string
	// Band selects the configured band the synthetic event is labeled with.
	Band int
}

// deliveryLog collects delivery failures of a test notification.
type deliveryLog struct {
	mu     sync.Mutex
	failed []error
}

func (*deliveryLog) DispatchStarted() {}

func (*deliveryLog) DispatchFinished() {}

func (l *deliveryLog) Delivery(transport string, _ time.Duration, err error) {
	if err == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.failed = append(l.failed, fmt.Errorf("%s: %w", transport, err))
}

// TestNotify sends one synthetic event through every configured transport and
// waits for the deliveries. Unlike the capture loop it reports failures.
func TestNotify(ctx context.Context, opts *TestNotifyOptions) error {
	ctx = logger.WithName(ctx, "test-notify")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	bands := settings.Detection.Bands
	if opts.Band < 0 || opts.Band >= len(bands) {
		return fmt.Errorf("%w: %d of %d", errBandOutOfRange, opts.Band, len(bands))
	}

	transports, err := openTransports(ctx, &settings.Notify)
	if err != nil {
		return fmt.Errorf("open transports: %w", err)
	}

	defer func() {
		_ = transports.Close()
	}()

	if len(transports.transports) == 0 {
		return ErrNoTransports
	}

	failures := new(deliveryLog)
	dispatcher := notify.NewDispatcher(transports.transports,
		notify.WithTimeout(settings.Notify.Timeout),
		notify.WithRecorder(failures),
	)

	b := bands[opts.Band]
	if b.Label == "" {
		b.Label = fmt.Sprintf("band %d", opts.Band)
	}

	dispatcher.Dispatch(ctx, detector.Event{
		ID:        uuid.New(),
		Band:      opts.Band,
		Label:     b.Label,
		Frequency: b.Frequency,
		Magnitude: settings.Detection.Threshold,
		Timestamp: time.Now(),
	})
	dispatcher.Wait()

	if len(failures.failed) > 0 {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(failures.failed...))
	}

	logger.InfoKV(ctx, "Test notification delivered", "transports", dispatcher.Transports())

	return nil
}

// SubscribeOptions controls storing a Web Push subscription.
type SubscribeOptions struct {
	ConfigPath string
	// File is the browser PushSubscription JSON; "-" reads stdin.
	File string
	// Stdin replaces os.Stdin when File is "-".
	Stdin io.Reader
}

// Subscribe stores a browser push subscription in the webpush database.
func Subscribe(ctx context.Context, opts *SubscribeOptions) error {
	ctx = logger.WithName(ctx, "subscribe")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if settings.Notify.WebPush.Database == "" {
		return ErrNoSubscriptionDatabase
	}

	data, err := readSubscription(opts)
	if err != nil {
		return err
	}

	sub, err := webpush.ParseSubscription(data)
	if err != nil {
		return err
	}

	repo, err := subscription.Open(ctx, settings.Notify.WebPush.Database)
	if err != nil {
		return err
	}

	defer func() {
		_ = repo.Close()
	}()

	if err := repo.Subscribe(ctx, sub); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Subscription stored", "endpoint", sub.Endpoint)

	return nil
}

func readSubscription(opts *SubscribeOptions) ([]byte, error) {
	if opts.File != "-" {
		data, err := os.ReadFile(filepath.Clean(opts.File))
		if err != nil {
			return nil, fmt.Errorf("read subscription: %w", err)
		}

		return data, nil
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read subscription: %w", err)
	}

	return data, nil
}
