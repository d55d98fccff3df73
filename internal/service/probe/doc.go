// Package probe queries the monitor's gRPC health endpoint.
//
// It backs the doorbell-probe binary, which exits non-zero unless the
// capture loop reports SERVING, for use in container health checks and
// systemd watchdogs.
package probe
