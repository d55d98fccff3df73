// Package config defines the doorbell-monitor settings file and provides
// helpers to load, validate and save it in YAML format.
//
// Validate fills every omitted value with the defaults of the reference
// deployment: 8 kHz capture, 64-sample chunks, 2 Hz bands at 727 and 977 Hz,
// a 50 ms averaging window, threshold 0.1 and a 10 second cooldown.
package config
