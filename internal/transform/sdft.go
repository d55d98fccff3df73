package transform

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/oshokin/doorbell-monitor/internal/domain/band"
)

// Engine turns fixed-size sample chunks into one magnitude per band.
type Engine interface {
	// Process consumes one chunk and returns the magnitudes in band order.
	// The returned slice is reused by the next call.
	Process(samples []float32, averagingWindow float64) ([]float64, error)
}

// damping keeps round-off in the recursive bins from accumulating.
const damping = 0.9999999

var (
	// ErrEngineState is returned when the engine cannot produce valid magnitudes.
	ErrEngineState = errors.New("transform engine state is invalid")
	// ErrChunkSize is returned when a chunk does not match the configured size.
	ErrChunkSize = errors.New("unexpected chunk size")
	// errInvalidWindow is returned for a non-positive averaging window.
	errInvalidWindow = errors.New("averaging window must be positive")
	// errInvalidSampleRate is returned for a non-positive sample rate.
	errInvalidSampleRate = errors.New("sample rate must be positive")
)

// bin is one damped sliding DFT bin.
type bin struct {
	// length is the window length in samples.
	length int
	// rotate is r·e^{jω}, applied once per sample.
	rotate complex128
	// comb is r^N·e^{jωN}, applied to the sample leaving the window.
	comb complex128
	// gain normalizes the bin so a unit sine reads 1.0.
	gain float64
	// value is the current bin output.
	value complex128
	// power is the smoothed squared amplitude.
	power float64
}

// SlidingDFT is the default Engine.
type SlidingDFT struct {
	bins       []bin
	history    []float64
	head       int
	chunkSize  int
	sampleRate float64
	window     float64
	alpha      float64
	output     []float64
}

// NewSlidingDFT allocates an engine for bands at sampleRate that accepts chunks of chunkSize samples.
func NewSlidingDFT(bands []band.Spec, sampleRate, chunkSize int, averagingWindow float64) (*SlidingDFT, error) {
	if len(bands) == 0 {
		return nil, band.ErrNoBands
	}

	if sampleRate <= 0 {
		return nil, errInvalidSampleRate
	}

	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size %d: %w", chunkSize, ErrChunkSize)
	}

	if averagingWindow <= 0 {
		return nil, errInvalidWindow
	}

	e := &SlidingDFT{
		bins:       make([]bin, len(bands)),
		chunkSize:  chunkSize,
		sampleRate: float64(sampleRate),
		output:     make([]float64, len(bands)),
	}

	longest := 0

	for i, b := range bands {
		if b.Bandwidth <= 0 {
			return nil, fmt.Errorf("band %d: %w", i, band.ErrInvalidBandwidth)
		}

		n := int(math.Floor(e.sampleRate / b.Bandwidth))
		if n < 1 {
			n = 1
		}

		omega := 2 * math.Pi * b.Frequency / e.sampleRate
		rN := math.Pow(damping, float64(n))

		e.bins[i] = bin{
			length: n,
			rotate: complex(damping, 0) * cmplx.Exp(complex(0, omega)),
			comb:   complex(rN, 0) * cmplx.Exp(complex(0, omega*float64(n))),
			gain:   (1 - rN) / (1 - damping),
		}

		longest = max(longest, n)
	}

	e.history = make([]float64, longest)
	e.setWindow(averagingWindow)

	return e, nil
}

// Process implements Engine.
func (e *SlidingDFT) Process(samples []float32, averagingWindow float64) ([]float64, error) {
	if len(samples) != e.chunkSize {
		return nil, fmt.Errorf("got %d samples, want %d: %w", len(samples), e.chunkSize, ErrChunkSize)
	}

	if averagingWindow <= 0 {
		return nil, errInvalidWindow
	}

	if averagingWindow != e.window {
		e.setWindow(averagingWindow)
	}

	size := len(e.history)

	for _, s := range samples {
		x := float64(s)

		for i := range e.bins {
			b := &e.bins[i]
			leaving := e.history[(e.head-b.length+size)%size]
			b.value = b.rotate*b.value + complex(x, 0) - b.comb*complex(leaving, 0)

			amplitude := 2 * cmplx.Abs(b.value) / b.gain
			b.power += e.alpha * (amplitude*amplitude - b.power)
		}

		e.history[e.head] = x
		e.head = (e.head + 1) % size
	}

	for i := range e.bins {
		p := e.bins[i].power
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return nil, fmt.Errorf("band %d power %v: %w", i, p, ErrEngineState)
		}

		e.output[i] = math.Sqrt(p)
	}

	return e.output, nil
}

// Bands reports how many magnitudes Process returns.
func (e *SlidingDFT) Bands() int {
	return len(e.bins)
}

// setWindow derives the per-sample smoothing factor for a window in seconds.
func (e *SlidingDFT) setWindow(seconds float64) {
	e.window = seconds
	e.alpha = 1 - math.Exp(-1/(seconds*e.sampleRate))
}
