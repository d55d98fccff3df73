// Package logger wraps zap with a process-wide sugared logger and helpers
// that carry a scoped logger inside context.Context.
//
// The capture loop, the dispatcher goroutines and the auxiliary servers all
// log through the context they were started with, so every record carries
// the component name it came from.
package logger
