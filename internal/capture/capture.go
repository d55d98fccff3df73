package capture

import (
	"errors"
)

// Source delivers mono float32 samples at a fixed rate.
type Source interface {
	// Start opens and configures the device and starts the stream.
	Start() error
	// Read blocks until len(buf) samples are available or an error occurs.
	Read(buf []float32) (int, error)
	// Recover resets the stream after a transient read error.
	Recover(err error) error
	// Close stops the stream and releases the device.
	Close() error
}

// Format is the fixed capture format of a run.
type Format struct {
	SampleRate int
	ChunkSize  int
}

var (
	// ErrTransient marks overruns and underruns that Recover can fix.
	ErrTransient = errors.New("transient capture fault")
	// ErrFatal marks a lost or unusable device.
	ErrFatal = errors.New("fatal capture fault")
)

// IsTransient reports whether err can be handled by Recover.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
