package calibrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oshokin/doorbell-monitor/internal/capture"
	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/domain/band"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/service/monitor"
	"github.com/oshokin/doorbell-monitor/internal/transform"
)

const (
	// DefaultDuration is how long calibration listens.
	DefaultDuration = 10 * time.Second
	// DefaultPeaks is the number of tones listed.
	DefaultPeaks = 5
)

// Options controls a calibration run.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// Input overrides audio.input.
	Input string
	// Duration is the capture length measured in audio time.
	Duration time.Duration
	// Peaks is the number of spectrum peaks to list.
	Peaks int
	// Output receives the report.
	Output io.Writer
}

// errNoAudio is returned when capture ends before the first chunk.
var errNoAudio = errors.New("no audio captured")

// Run captures for opts.Duration and prints the report.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "calibrate")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.Input != "" {
		settings.Audio.Input = opts.Input
	}

	bands, err := band.Build(settings.Detection.Bands, settings.Detection.Bandwidth, settings.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("build bands: %w", err)
	}

	source := monitor.NewSource(&settings.Audio)
	if err = source.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	defer func() {
		_ = source.Close()
	}()

	c, err := NewCollector(bands, &settings.Audio, settings.Detection.AveragingWindow)
	if err != nil {
		return err
	}

	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}

	chunks := int(duration.Seconds() * float64(settings.Audio.SampleRate) / float64(settings.Audio.ChunkSize))

	logger.InfoKV(ctx, "Calibrating", "duration", duration, "chunks", chunks)

	if err = c.Capture(ctx, source, chunks); err != nil {
		return err
	}

	peaks := opts.Peaks
	if peaks <= 0 {
		peaks = DefaultPeaks
	}

	report := c.Report(settings.Detection.Threshold, peaks)

	if opts.Output == nil {
		return nil
	}

	return report.Print(opts.Output)
}

// Collector records band magnitudes and the spectrum of captured chunks.
type Collector struct {
	bands      []band.Spec
	engine     transform.Engine
	window     float64
	sampleRate int
	chunk      []float32
	magnitudes [][]float64
	spectrum   *spectrum
	chunks     int
}

// NewCollector returns a collector using the same engine as the monitor.
func NewCollector(bands []band.Spec, audio *config.Audio, averagingWindow time.Duration) (*Collector, error) {
	engine, err := transform.NewSlidingDFT(bands, audio.SampleRate, audio.ChunkSize, averagingWindow.Seconds())
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &Collector{
		bands:      bands,
		engine:     engine,
		window:     averagingWindow.Seconds(),
		sampleRate: audio.SampleRate,
		chunk:      make([]float32, audio.ChunkSize),
		magnitudes: make([][]float64, len(bands)),
		spectrum:   newSpectrum(audio.SampleRate),
	}, nil
}

// Capture reads up to n chunks. Transient faults are recovered; a fatal fault
// after at least one chunk ends the capture early, so a recording can be
// calibrated to its end.
func (c *Collector) Capture(ctx context.Context, source capture.Source, n int) error {
	for c.chunks < n {
		if ctx.Err() != nil {
			break
		}

		read, err := source.Read(c.chunk)
		if err != nil {
			if capture.IsTransient(err) {
				logger.WarnKV(ctx, "Capture fault, recovering stream", "error", err)

				if err = source.Recover(err); err == nil {
					continue
				}
			}

			if c.chunks == 0 {
				return fmt.Errorf("%w: %w", errNoAudio, err)
			}

			logger.WarnKV(ctx, "Capture ended early", "chunks", c.chunks, "error", err)

			break
		}

		if read < len(c.chunk) {
			continue
		}

		if err = c.Add(c.chunk); err != nil {
			return err
		}
	}

	if c.chunks == 0 {
		return errNoAudio
	}

	return nil
}

// Add processes one full chunk.
func (c *Collector) Add(chunk []float32) error {
	magnitudes, err := c.engine.Process(chunk, c.window)
	if err != nil {
		return fmt.Errorf("process chunk: %w", err)
	}

	for i, m := range magnitudes {
		c.magnitudes[i] = append(c.magnitudes[i], m)
	}

	c.spectrum.add(chunk)
	c.chunks++

	return nil
}

// Report summarizes everything added so far.
func (c *Collector) Report(threshold float64, peaks int) *Report {
	return &Report{
		Duration:  time.Duration(float64(c.chunks*len(c.chunk)) / float64(c.sampleRate) * float64(time.Second)),
		Chunks:    c.chunks,
		Threshold: threshold,
		Bands:     summarize(c.bands, c.magnitudes, threshold),
		Peaks:     c.spectrum.peaks(peaks),
	}
}
