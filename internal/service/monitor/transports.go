package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/notify"
	"github.com/oshokin/doorbell-monitor/internal/notify/gpio"
	"github.com/oshokin/doorbell-monitor/internal/notify/mqtt"
	"github.com/oshokin/doorbell-monitor/internal/notify/pushsafer"
	"github.com/oshokin/doorbell-monitor/internal/notify/webpush"
	"github.com/oshokin/doorbell-monitor/internal/repository/subscription"
)

// transportSet holds the enabled transports and the resources behind them.
type transportSet struct {
	transports []notify.Transport
	release    []func() error
}

// openTransports builds every transport enabled in settings.
// On failure the transports opened so far are released.
func openTransports(ctx context.Context, settings *config.Notify) (*transportSet, error) {
	set := new(transportSet)

	if err := set.open(ctx, settings); err != nil {
		_ = set.Close()
		return nil, err
	}

	if len(set.transports) == 0 {
		logger.Warn(ctx, "No notification transport configured, detections are only logged")
	}

	return set, nil
}

func (s *transportSet) open(ctx context.Context, settings *config.Notify) error {
	if settings.Pushsafer.Key != "" {
		t, err := pushsafer.New(settings.Pushsafer, nil)
		if err != nil {
			return fmt.Errorf("pushsafer: %w", err)
		}

		s.add(t, nil)
	}

	if settings.MQTT.Broker != "" {
		t, err := mqtt.Dial(ctx, settings.MQTT, settings.Timeout)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}

		s.add(t, t.Close)
	}

	if settings.WebPush.Database != "" {
		repo, err := subscription.Open(ctx, settings.WebPush.Database)
		if err != nil {
			return fmt.Errorf("webpush: %w", err)
		}

		s.release = append(s.release, repo.Close)

		t, err := webpush.New(repo, settings.WebPush, nil)
		if err != nil {
			return fmt.Errorf("webpush: %w", err)
		}

		s.add(t, nil)
	}

	if settings.GPIO.Pin > 0 {
		t, err := gpio.Open(settings.GPIO.Pin, settings.GPIO.Pulse)
		if err != nil {
			return fmt.Errorf("gpio: %w", err)
		}

		s.add(t, t.Close)
	}

	return nil
}

func (s *transportSet) add(t notify.Transport, release func() error) {
	s.transports = append(s.transports, t)

	if release != nil {
		s.release = append(s.release, release)
	}
}

// Close releases transports in reverse order of opening.
func (s *transportSet) Close() error {
	var errs []error

	for i := len(s.release) - 1; i >= 0; i-- {
		if err := s.release[i](); err != nil {
			errs = append(errs, err)
		}
	}

	s.release = nil

	return errors.Join(errs...)
}
