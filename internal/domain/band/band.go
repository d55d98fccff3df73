package band

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/doorbell-monitor/internal/config"
)

// Spec describes one monitored chime signature.
type Spec struct {
	// Frequency is the center frequency in Hz.
	Frequency float64
	// Bandwidth is the band width in Hz, shared by all bands of a run.
	Bandwidth float64
	// Label is the alert text for this band.
	Label string
}

var (
	// ErrNoBands is returned when no band is configured.
	ErrNoBands = errors.New("at least one band must be configured")
	// ErrInvalidBandwidth is returned for a non-positive bandwidth.
	ErrInvalidBandwidth = errors.New("bandwidth must be positive")
	// ErrInvalidFrequency is returned for a band outside (0, Nyquist).
	ErrInvalidFrequency = errors.New("frequency must be between zero and the Nyquist frequency")
)

// Build returns the ordered band list for the configured frequencies.
// An empty label becomes "band <index>".
func Build(bands []config.Band, bandwidth float64, sampleRate int) ([]Spec, error) {
	if len(bands) == 0 {
		return nil, ErrNoBands
	}

	if bandwidth <= 0 {
		return nil, ErrInvalidBandwidth
	}

	nyquist := float64(sampleRate) / 2 //nolint:mnd // Nyquist is half the sample rate.
	specs := make([]Spec, 0, len(bands))

	for i, b := range bands {
		if b.Frequency <= 0 || b.Frequency >= nyquist {
			return nil, fmt.Errorf("band %d (%.1f Hz, sample rate %d): %w", i, b.Frequency, sampleRate, ErrInvalidFrequency)
		}

		label := strings.TrimSpace(b.Label)
		if label == "" {
			label = DefaultLabel(i)
		}

		specs = append(specs, Spec{
			Frequency: b.Frequency,
			Bandwidth: bandwidth,
			Label:     label,
		})
	}

	return specs, nil
}

// DefaultLabel is the label of an unnamed band at position index.
func DefaultLabel(index int) string {
	return fmt.Sprintf("band %d", index)
}

// String renders the band for logs.
func (s Spec) String() string {
	return fmt.Sprintf("%s (%.1f Hz ± %.1f Hz)", s.Label, s.Frequency, s.Bandwidth/2) //nolint:mnd // Half-width.
}
