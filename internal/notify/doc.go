// Package notify delivers detection events without ever blocking the caller.
//
// Dispatch writes a local log record synchronously and then hands the event to
// every configured Transport on its own goroutine. Deliveries are best effort:
// no retry, no acknowledgement and no result flows back to the detector.
package notify
