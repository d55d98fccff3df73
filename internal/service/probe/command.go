package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/oshokin/doorbell-monitor/internal/api/grpc/health"
	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/logger"
)

// Options controls a probe run.
type Options struct {
	// ConfigPath is the monitor settings file used to find the health address.
	ConfigPath string
	// Address overrides the health address from the settings file.
	Address string
	// Service is the health service to check; empty means the monitor service.
	Service string
	// Timeout bounds the check.
	Timeout time.Duration
	// Output receives the JSON health response.
	Output io.Writer
}

var (
	// ErrNotServing is returned when the monitor is reachable but not serving.
	ErrNotServing = errors.New("monitor is not serving")
	// errNoHealthAddress is returned when neither the flag nor the config name an address.
	errNoHealthAddress = errors.New("no health address configured")
)

// Run checks the monitor once and prints the response as JSON.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "doorbell-probe")

	address, err := resolveAddress(opts)
	if err != nil {
		return err
	}

	service := opts.Service
	if service == "" {
		service = health.ServiceName
	}

	client, err := Dial(address, WithCallTimeout(opts.Timeout))
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	resp, err := client.Check(ctx, service)
	if err != nil {
		return err
	}

	data, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	if opts.Output != nil {
		_, _ = fmt.Fprintln(opts.Output, string(data))
	}

	logger.DebugKV(ctx, "Health checked", "address", address, "service", service, "status", resp.GetStatus().String())

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}

	return nil
}

// resolveAddress prefers the explicit address, then the settings file.
// A port-only listen address such as ":50051" is probed on localhost.
func resolveAddress(opts *Options) (string, error) {
	address := opts.Address

	if address == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return "", fmt.Errorf("load settings: %w", err)
		}

		address = cfg.Health.ListenAddress
	}

	if address == "" {
		return "", errNoHealthAddress
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("invalid health address %q: %w", address, err)
	}

	if host == "" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port), nil
}
