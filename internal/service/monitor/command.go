package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/doorbell-monitor/internal/api/grpc/health"
	"github.com/oshokin/doorbell-monitor/internal/capture"
	"github.com/oshokin/doorbell-monitor/internal/capture/portaudio"
	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/domain/band"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/metrics"
	"github.com/oshokin/doorbell-monitor/internal/notify"
	"github.com/oshokin/doorbell-monitor/internal/transform"
)

// Options controls the doorbell-monitor process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// LogLevel overrides log_level from the settings file.
	LogLevel string
	// Input overrides audio.input: a raw float32 file, FIFO or "-" for stdin.
	Input string
}

// errUnknownLogLevel is returned for a log level ParseLogLevel does not accept.
var errUnknownLogLevel = errors.New("unknown log level")

// Run loads settings, starts capture and blocks until ctx is canceled or the
// loop fails. A capture failure wraps ErrCapture and a transform failure wraps
// ErrTransform; anything else is a startup error.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "doorbell-monitor")

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	bands, err := band.Build(settings.Detection.Bands, settings.Detection.Bandwidth, settings.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("build bands: %w", err)
	}

	engine, err := transform.NewSlidingDFT(bands, settings.Audio.SampleRate, settings.Audio.ChunkSize,
		settings.Detection.AveragingWindow.Seconds())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransform, err)
	}

	stats := metrics.New(nil)

	state := detector.NewAlarmState(settings.Detection.Cooldown, detector.WithTransitionHook(stats.SetSuppressed))
	defer state.Stop()

	transports, err := openTransports(ctx, &settings.Notify)
	if err != nil {
		return fmt.Errorf("open transports: %w", err)
	}

	defer func() {
		if err := transports.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close transports", "error", err)
		}
	}()

	dispatcher := notify.NewDispatcher(transports.transports,
		notify.WithTimeout(settings.Notify.Timeout),
		notify.WithRecorder(stats),
	)

	source := NewSource(&settings.Audio)
	if err := source.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}

	defer func() {
		if err := source.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to release capture source", "error", err)
		}
	}()

	monitor, err := New(Params{
		Source:          source,
		Engine:          engine,
		Detector:        detector.New(bands, settings.Detection.Threshold, state),
		Dispatcher:      dispatcher,
		Bands:           bands,
		ChunkSize:       settings.Audio.ChunkSize,
		AveragingWindow: settings.Detection.AveragingWindow,
		Recorder:        stats,
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Doorbell monitor started",
		"sample_rate", settings.Audio.SampleRate,
		"bands", monitor.labels,
		"threshold", settings.Detection.Threshold,
		"cooldown", settings.Detection.Cooldown,
		"transports", dispatcher.Transports(),
	)

	serveCtx, stopServing := context.WithCancel(ctx)
	healthServer := health.NewServer()

	var servers sync.WaitGroup

	if addr := settings.Metrics.ListenAddress; addr != "" {
		servers.Go(func() {
			if err := stats.Serve(serveCtx, addr); err != nil {
				logger.ErrorKV(ctx, "Metrics server failed", "error", err)
			}
		})
	}

	if addr := settings.Health.ListenAddress; addr != "" {
		servers.Go(func() {
			if err := healthServer.ListenAndServe(serveCtx, addr); err != nil {
				logger.ErrorKV(ctx, "Health server failed", "error", err)
			}
		})
	}

	healthServer.SetServing(true)

	runErr := monitor.Run(ctx)

	healthServer.SetServing(false)
	stopServing()
	servers.Wait()

	return runErr
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings(opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.Input != "" {
		settings.Audio.Input = opts.Input
	}

	level := settings.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	if level != "" {
		parsed, ok := logger.ParseLogLevel(level)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownLogLevel, level)
		}

		logger.SetLevel(parsed)
	}

	return settings, nil
}

// NewSource picks the pipe reader when an input path is set, PortAudio otherwise.
// The source is not started.
func NewSource(audio *config.Audio) capture.Source {
	if audio.Input != "" {
		return capture.NewPipeSource(audio.Input)
	}

	return portaudio.New(audio.Device, capture.Format{
		SampleRate: audio.SampleRate,
		ChunkSize:  audio.ChunkSize,
	})
}
