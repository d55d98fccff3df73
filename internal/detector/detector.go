package detector

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/doorbell-monitor/internal/domain/band"
)

// ErrMagnitudeCount is returned when the magnitudes do not line up with the bands.
var ErrMagnitudeCount = errors.New("magnitude count does not match band count")

// Detector applies the threshold and the shared AlarmState to band magnitudes.
// Evaluate must be called from a single goroutine.
type Detector struct {
	bands     []band.Spec
	threshold float64
	state     *AlarmState
	now       func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// New returns a detector for bands sharing state.
func New(bands []band.Spec, threshold float64, state *AlarmState, opts ...Option) *Detector {
	d := &Detector{
		bands:     bands,
		threshold: threshold,
		state:     state,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// State returns the alarm state the detector arms.
func (d *Detector) State() *AlarmState {
	return d.state
}

// Evaluate checks one chunk of magnitudes. While suppressed nothing is
// evaluated. While armed, the first band in configured order whose magnitude
// reaches the threshold arms the state and is returned as an event; other
// bands crossing in the same chunk are ignored.
func (d *Detector) Evaluate(magnitudes []float64) (Event, bool, error) {
	if len(magnitudes) != len(d.bands) {
		return Event{}, false, fmt.Errorf("got %d magnitudes for %d bands: %w",
			len(magnitudes), len(d.bands), ErrMagnitudeCount)
	}

	// Check and transition under one lock so a chunk can never produce two events.
	d.state.mu.Lock()

	if d.state.suppressed {
		d.state.mu.Unlock()
		return Event{}, false, nil
	}

	index := -1

	for i, m := range magnitudes {
		if m >= d.threshold {
			index = i
			break
		}
	}

	if index < 0 {
		d.state.mu.Unlock()
		return Event{}, false, nil
	}

	now := d.now()
	d.state.arm(now)
	d.state.mu.Unlock()

	d.state.notify(true)

	spec := d.bands[index]

	return Event{
		ID:        uuid.New(),
		Band:      index,
		Label:     spec.Label,
		Frequency: spec.Frequency,
		Magnitude: magnitudes[index],
		Timestamp: now,
	}, true, nil
}
