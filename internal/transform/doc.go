// Package transform estimates per-band energy of an audio stream.
//
// SlidingDFT keeps one recursive DFT bin per band over a window of
// sampleRate/bandwidth samples and smooths the bin power with an exponential
// moving average. It keeps its history across calls, so feeding it the stream
// chunk by chunk gives the same result as feeding it sample by sample.
package transform
