package detector

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a detected doorbell ring. It is passed by value and never modified.
type Event struct {
	// ID identifies the event across transports and log records.
	ID uuid.UUID
	// Band is the index of the firing band in configured order.
	Band int
	// Label is the alert text of the firing band.
	Label string
	// Frequency is the center frequency of the firing band in Hz.
	Frequency float64
	// Magnitude is the band magnitude that crossed the threshold.
	Magnitude float64
	// Timestamp is when the detection happened.
	Timestamp time.Time
}

// Message is the human-readable alert text.
func (e Event) Message() string {
	return e.Label
}

// String renders the event for logs.
func (e Event) String() string {
	return fmt.Sprintf("%s at %s (band %d, %.1f Hz, magnitude %.3f)",
		e.Label, e.Timestamp.Format(time.RFC3339), e.Band, e.Frequency, e.Magnitude)
}
