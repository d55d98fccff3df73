// Package calibrate measures band magnitudes and the spectrum of the capture
// stream without detecting or notifying.
//
// Run it once in silence to see the noise floor of every band, and once while
// pressing the doorbell to find the chime frequencies and pick a threshold.
package calibrate
