package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/doorbell-monitor/internal/capture/portaudio"
	"github.com/oshokin/doorbell-monitor/internal/logger"
	"github.com/oshokin/doorbell-monitor/internal/service/calibrate"
	"github.com/oshokin/doorbell-monitor/internal/service/monitor"
)

var (
	// calibrateDuration is how long calibrate listens.
	calibrateDuration time.Duration
	// calibratePeaks is how many spectrum peaks calibrate lists.
	calibratePeaks int
	// calibrateInput overrides audio.input for calibrate.
	calibrateInput string
	// testBand selects the band test-notify pretends has fired.
	testBand int

	calibrateCmd = &cobra.Command{
		Use:   "calibrate",
		Short: "Measure band magnitudes and find chime frequencies.",
		Long: `Listens for --duration and prints, per configured band, the mean, standard
deviation and maximum magnitude and how many chunks reached the threshold,
followed by the strongest tones of the spectrum. Nothing is detected or sent.

Run it once in silence to see the noise floor and once while ringing the doorbell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := applyLogLevel(); err != nil {
				return err
			}

			return calibrate.Run(ctx, &calibrate.Options{
				ConfigPath: configPath,
				Input:      calibrateInput,
				Duration:   calibrateDuration,
				Peaks:      calibratePeaks,
				Output:     cmd.OutOrStdout(),
			})
		},
	}

	subscribeCmd = &cobra.Command{
		Use:   "subscribe <subscription.json|->",
		Short: "Store a browser Web Push subscription.",
		Long: `Reads a PushSubscription JSON document, as returned by
PushManager.subscribe() in the browser, and stores it in notify.webpush.database.
Use "-" to read the document from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := applyLogLevel(); err != nil {
				return err
			}

			return monitor.Subscribe(context.Background(), &monitor.SubscribeOptions{
				ConfigPath: configPath,
				File:       args[0],
			})
		},
	}

	testNotifyCmd = &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through every configured transport.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := applyLogLevel(); err != nil {
				return err
			}

			return monitor.TestNotify(context.Background(), &monitor.TestNotifyOptions{
				ConfigPath: configPath,
				Band:       testBand,
			})
		},
	}

	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "List PortAudio input devices.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := portaudio.InputDevices()
			if err != nil {
				return err
			}

			for _, name := range names {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}

			return nil
		},
	}
)

// applyLogLevel honours --log-level for commands that do not load it themselves.
func applyLogLevel() error {
	if logLevel == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	calibrateCmd.Flags().DurationVarP(&calibrateDuration, "duration", "d", calibrate.DefaultDuration, "how long to listen")
	calibrateCmd.Flags().IntVar(&calibratePeaks, "peaks", calibrate.DefaultPeaks, "number of spectrum peaks to list")
	calibrateCmd.Flags().StringVarP(&calibrateInput, "input", "i", "", `raw float32 input file, FIFO or "-" for stdin`)

	testNotifyCmd.Flags().IntVar(&testBand, "band", 0, "index of the band the test event is labeled with")
}
