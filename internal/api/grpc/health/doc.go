// Package health serves the standard gRPC health checking protocol for the
// monitor, so supervisors and doorbell-probe can tell whether the capture
// loop is running.
package health
