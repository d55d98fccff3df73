package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/logger"
)

// Transport delivers one event to a remote channel.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string
	// Send delivers event. It should honor ctx cancellation.
	Send(ctx context.Context, event detector.Event) error
}

// Recorder observes dispatch activity. *metrics.Metrics implements it.
type Recorder interface {
	DispatchStarted()
	DispatchFinished()
	Delivery(transport string, elapsed time.Duration, err error)
}

// errTransportPanic wraps a recovered panic of a transport.
var errTransportPanic = errors.New("transport panicked")

type nopRecorder struct{}

func (nopRecorder) DispatchStarted() {}

func (nopRecorder) DispatchFinished() {}

func (nopRecorder) Delivery(string, time.Duration, error) {}

// Dispatcher fans events out to transports asynchronously.
type Dispatcher struct {
	transports []Transport
	timeout    time.Duration
	recorder   Recorder

	// wg tracks in-flight dispatches for Wait; the monitor never waits on it.
	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each delivery attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// DefaultTimeout bounds a delivery when no WithTimeout option is given.
const DefaultTimeout = 10 * time.Second

// NewDispatcher returns a dispatcher for transports.
func NewDispatcher(transports []Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transports: transports,
		timeout:    DefaultTimeout,
		recorder:   nopRecorder{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Transports returns the configured transport names.
func (d *Dispatcher) Transports() []string {
	names := make([]string, 0, len(d.transports))
	for _, t := range d.transports {
		names = append(names, t.Name())
	}

	return names
}

// Dispatch records event locally and starts delivering it. It returns immediately.
// Deliveries outlive ctx cancellation so a shutdown does not abort them.
func (d *Dispatcher) Dispatch(ctx context.Context, event detector.Event) {
	logger.WarnKV(ctx, event.Message(),
		"event_id", event.ID.String(),
		"band", event.Band,
		"frequency", event.Frequency,
		"magnitude", event.Magnitude,
		"timestamp", event.Timestamp,
	)

	if len(d.transports) == 0 {
		return
	}

	deliveryCtx := logger.WithKV(context.WithoutCancel(ctx), "event_id", event.ID.String())

	d.recorder.DispatchStarted()

	d.wg.Go(func() {
		defer d.recorder.DispatchFinished()

		var fanout sync.WaitGroup

		for _, t := range d.transports {
			fanout.Go(func() {
				d.deliver(deliveryCtx, t, event)
			})
		}

		fanout.Wait()
	})
}

// Wait blocks until every dispatch started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close closes transports holding connections. In-flight deliveries are not awaited.
func (d *Dispatcher) Close() error {
	var errs []error

	for _, t := range d.transports {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", t.Name(), err))
			}
		}
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, t Transport, event detector.Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()

	err := safeSend(ctx, t, event)
	d.recorder.Delivery(t.Name(), time.Since(started), err)

	if err != nil {
		logger.ErrorKV(ctx, "Notification delivery failed", "transport", t.Name(), "error", err)
		return
	}

	logger.InfoKV(ctx, "Notification delivered", "transport", t.Name(), "elapsed", time.Since(started))
}

// safeSend turns a transport panic into an error.
func safeSend(ctx context.Context, t Transport, event detector.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errTransportPanic, r)
		}
	}()

	return t.Send(ctx, event)
}
