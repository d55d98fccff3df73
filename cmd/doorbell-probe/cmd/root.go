package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/service/probe"
	"github.com/oshokin/doorbell-monitor/internal/version"
)

var (
	// configPath to the configuration YAML file of the monitor.
	configPath string
	// timeout bounds the health check.
	timeout time.Duration
	// service overrides the checked health service.
	service string

	// rootCmd represents the base command for checking monitor health.
	rootCmd = &cobra.Command{
		Use:   "doorbell-probe [address]",
		Short: "Check that the doorbell monitor is capturing.",
		Long: `Calls the gRPC health service of a running doorbell-monitor and prints the
response as JSON. Exits with status 0 only when the monitor reports SERVING,
which makes it usable as a container HEALTHCHECK or a systemd ExecStartPost.

The address can be provided as argument or is taken from health.listen_address
of the configuration file; a port-only address is checked on localhost.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use address argument if provided, otherwise rely on config.
			var address string
			if len(args) > 0 {
				address = args[0]
			}

			return probe.Run(ctx, &probe.Options{
				ConfigPath: configPath,
				Address:    address,
				Service:    service,
				Timeout:    timeout,
				Output:     cmd.OutOrStdout(),
			})
		},
	}
)

// Execute runs the doorbell-probe CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", probe.DefaultTimeout, "health check timeout")
	rootCmd.Flags().StringVar(&service, "service", "", "health service name, the monitor service by default")
}
