// Package detector holds the debounce state machine of the monitor.
//
// AlarmState is the single process-wide suppression window: ARMED until a
// band fires, then SUPPRESSED for the cooldown, after which a wall-clock
// timer re-arms it. Detector evaluates one chunk of band magnitudes against
// the threshold and produces at most one Event per trigger.
package detector
