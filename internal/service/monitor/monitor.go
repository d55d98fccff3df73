package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/doorbell-monitor/internal/capture"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/domain/band"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/metrics"
	"github.com/oshokin/doorbell-monitor/internal/transform"
)

var (
	// ErrCapture is returned when the capture source fails beyond recovery.
	ErrCapture = errors.New("capture failed")
	// ErrTransform is returned when magnitudes cannot be computed or evaluated.
	ErrTransform = errors.New("transform failed")

	errNoSource     = errors.New("capture source is required")
	errNoEngine     = errors.New("transform engine is required")
	errNoDetector   = errors.New("detector is required")
	errNoDispatcher = errors.New("dispatcher is required")
	errChunkSize    = errors.New("chunk size must be positive")
	errWindow       = errors.New("averaging window must be positive")
)

// Dispatcher hands an event to the notification transports and returns at once.
type Dispatcher interface {
	Dispatch(ctx context.Context, event detector.Event)
}

// Recorder receives loop metrics.
type Recorder interface {
	ChunkProcessed(labels []string, magnitudes []float64)
	CaptureFault(kind string)
	Detection(band int, label string)
}

type nopRecorder struct{}

func (nopRecorder) ChunkProcessed([]string, []float64) {}

func (nopRecorder) CaptureFault(string) {}

func (nopRecorder) Detection(int, string) {}

// Params are the collaborators of a Monitor.
type Params struct {
	Source          capture.Source
	Engine          transform.Engine
	Detector        *detector.Detector
	Dispatcher      Dispatcher
	Bands           []band.Spec
	ChunkSize       int
	AveragingWindow time.Duration
	// Recorder is optional.
	Recorder Recorder
}

// Monitor is the capture loop. It owns the chunk buffer.
type Monitor struct {
	source     capture.Source
	engine     transform.Engine
	detector   *detector.Detector
	dispatcher Dispatcher
	recorder   Recorder
	labels     []string
	window     float64
	chunk      []float32
}

// New validates p and allocates the chunk buffer.
func New(p Params) (*Monitor, error) {
	switch {
	case p.Source == nil:
		return nil, errNoSource
	case p.Engine == nil:
		return nil, errNoEngine
	case p.Detector == nil:
		return nil, errNoDetector
	case p.Dispatcher == nil:
		return nil, errNoDispatcher
	case p.ChunkSize <= 0:
		return nil, errChunkSize
	case p.AveragingWindow <= 0:
		return nil, errWindow
	}

	recorder := p.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	labels := make([]string, len(p.Bands))
	for i, b := range p.Bands {
		labels[i] = b.Label
	}

	return &Monitor{
		source:     p.Source,
		engine:     p.Engine,
		detector:   p.Detector,
		dispatcher: p.Dispatcher,
		recorder:   recorder,
		labels:     labels,
		window:     p.AveragingWindow.Seconds(),
		chunk:      make([]float32, p.ChunkSize),
	}, nil
}

// Run processes chunks until ctx is canceled or a fatal error occurs.
// Cancellation is checked between chunks, so the chunk being read when the
// signal arrives is still evaluated. The source must already be started.
func (m *Monitor) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Capture loop started", "chunk_size", len(m.chunk), "bands", len(m.labels))

	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "Capture loop stopped")
			return nil
		}

		if err := m.step(ctx); err != nil {
			return err
		}
	}
}

// step reads and evaluates one chunk. Recovered faults and short reads return nil.
func (m *Monitor) step(ctx context.Context) error {
	n, err := m.source.Read(m.chunk)
	if err != nil {
		return m.handleReadError(ctx, err)
	}

	if n < len(m.chunk) {
		logger.DebugKV(ctx, "Short read, retrying", "samples", n, "expected", len(m.chunk))
		return nil
	}

	magnitudes, err := m.engine.Process(m.chunk, m.window)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransform, err)
	}

	m.recorder.ChunkProcessed(m.labels, magnitudes)

	event, fired, err := m.detector.Evaluate(magnitudes)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransform, err)
	}

	if fired {
		m.recorder.Detection(event.Band, event.Label)
		m.dispatcher.Dispatch(ctx, event)
	}

	return nil
}

func (m *Monitor) handleReadError(ctx context.Context, err error) error {
	if !capture.IsTransient(err) {
		m.recorder.CaptureFault(metrics.FaultFatal)
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}

	m.recorder.CaptureFault(metrics.FaultTransient)
	logger.WarnKV(ctx, "Capture fault, recovering stream", "error", err)

	if rerr := m.source.Recover(err); rerr != nil {
		m.recorder.CaptureFault(metrics.FaultFatal)
		return fmt.Errorf("%w: recover after %w: %w", ErrCapture, err, rerr)
	}

	return nil
}
