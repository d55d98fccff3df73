// Package monitor runs the doorbell capture loop.
//
// Monitor reads fixed-size chunks from a capture source, turns them into band
// magnitudes, lets the detector decide whether a chime fired and hands events
// to the notification dispatcher without waiting for delivery. Run wires the
// loop from a settings file together with the metrics and health endpoints.
package monitor
