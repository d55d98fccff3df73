// Package gpio pulses a Raspberry Pi pin when the doorbell rings, driving a
// relay, a buzzer in another room or an indicator LED.
package gpio

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/oshokin/doorbell-monitor/internal/detector"
)

// Name is the transport name used in logs and metrics.
const Name = "gpio"

// pin is the part of rpio.Pin the transport drives.
type pin interface {
	Output()
	High()
	Low()
}

// Transport holds the pin high for the pulse duration on every event.
type Transport struct {
	pin    pin
	number int
	pulse  time.Duration
	close  func() error

	// mu keeps overlapping events from interleaving pulses.
	mu sync.Mutex
}

// Open maps the GPIO registers and configures the pin as an output.
func Open(number int, pulse time.Duration) (*Transport, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	return newTransport(rpio.Pin(number), number, pulse, rpio.Close), nil
}

func newTransport(p pin, number int, pulse time.Duration, closeFn func() error) *Transport {
	p.Output()
	p.Low()

	return &Transport{
		pin:    p,
		number: number,
		pulse:  pulse,
		close:  closeFn,
	}
}

// Name implements notify.Transport.
func (t *Transport) Name() string {
	return Name + "-" + strconv.Itoa(t.number)
}

// Send raises the pin for the pulse duration. The pin is lowered early when ctx ends.
func (t *Transport) Send(ctx context.Context, _ detector.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pin.High()
	defer t.pin.Low()

	timer := time.NewTimer(t.pulse)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pulse pin %d: %w", t.number, ctx.Err())
	}
}

// Close lowers the pin and unmaps the GPIO registers.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pin.Low()

	if t.close == nil {
		return nil
	}

	return t.close()
}
