package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/service/monitor"
	"github.com/oshokin/doorbell-monitor/internal/version"
)

// Process exit codes.
const (
	exitFailure          = 1
	exitCaptureFailure   = 2
	exitTransformFailure = 3
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides log_level from the configuration file.
	logLevel string
	// input overrides audio.input from the configuration file.
	input string

	// rootCmd represents the base command for running the capture loop.
	rootCmd = &cobra.Command{
		Use:   "doorbell-monitor",
		Short: "Listen for doorbell chimes and send notifications.",
		Long: `Captures mono audio, tracks the energy of every configured chime frequency
and sends one notification per ring to the configured transports
(Pushsafer, MQTT, Web Push, GPIO). After a ring all bands are muted for the cooldown.

Audio comes from a PortAudio input device, or from raw little-endian float32
samples when --input (or audio.input) names a file, a FIFO or "-" for stdin:

  arecord -q -t raw -f FLOAT_LE -c 1 -r 8000 | doorbell-monitor --input -

Exit codes: 0 on SIGINT/SIGTERM, 2 when capture fails, 3 when the signal
processing fails, 1 for any other error.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &monitor.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
				Input:      input,
			}

			return monitor.Run(ctx, options)
		},
	}
)

// Execute runs the doorbell-monitor CLI and exits with a status describing the failure.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps loop failures to distinct statuses.
func exitCode(err error) int {
	switch {
	case errors.Is(err, monitor.ErrCapture):
		return exitCaptureFailure
	case errors.Is(err, monitor.ErrTransform):
		return exitTransformFailure
	default:
		return exitFailure
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.Flags().StringVarP(&input, "input", "i", "", `raw float32 input file, FIFO or "-" for stdin`)

	rootCmd.AddCommand(calibrateCmd, subscribeCmd, testNotifyCmd, devicesCmd)
}
