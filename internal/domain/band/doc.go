// Package band contains the chime signature data model.
//
// A Spec is one monitored frequency band. The ordered list built by Build is
// fixed for a run: its order is the trigger priority and the positional
// contract with the magnitudes produced by the transform engine.
package band
