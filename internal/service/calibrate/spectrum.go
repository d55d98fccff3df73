package calibrate

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// fftSize gives about 2 Hz resolution at 8 kHz, the width of a chime band.
const fftSize = 4096

// peakSeparation keeps harmonics and leakage of one tone from being listed twice.
const peakSeparation = 20.0

// Peak is a tone found in the averaged spectrum.
type Peak struct {
	// Frequency is the interpolated tone frequency in Hz.
	Frequency float64
	// SNR is the peak power over the median power, in dB.
	SNR float64
}

// spectrum averages Hann-windowed power spectra of consecutive frames.
type spectrum struct {
	sampleRate float64
	fft        *fourier.FFT
	window     []float64
	frame      []float64
	fill       int
	coeffs     []complex128
	power      []float64
	frames     int
}

func newSpectrum(sampleRate int) *spectrum {
	s := &spectrum{
		sampleRate: float64(sampleRate),
		fft:        fourier.NewFFT(fftSize),
		window:     make([]float64, fftSize),
		frame:      make([]float64, fftSize),
		coeffs:     make([]complex128, fftSize/2+1),
		power:      make([]float64, fftSize/2+1),
	}

	for i := range s.window {
		s.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return s
}

// add feeds samples; a full frame is transformed and accumulated.
func (s *spectrum) add(samples []float32) {
	for _, v := range samples {
		s.frame[s.fill] = float64(v) * s.window[s.fill]
		s.fill++

		if s.fill < fftSize {
			continue
		}

		s.coeffs = s.fft.Coefficients(s.coeffs, s.frame)
		for i, c := range s.coeffs {
			re, im := real(c), imag(c)
			s.power[i] += re*re + im*im
		}

		s.frames++
		s.fill = 0
	}
}

// peaks returns up to n of the strongest local maxima, strongest first.
func (s *spectrum) peaks(n int) []Peak {
	if s.frames == 0 || n <= 0 {
		return nil
	}

	sorted := slices.Clone(s.power)
	slices.Sort(sorted)

	floor := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if floor <= 0 {
		floor = math.SmallestNonzeroFloat64
	}

	candidates := make([]int, 0)

	for i := 1; i < len(s.power)-1; i++ {
		if s.power[i] > s.power[i-1] && s.power[i] >= s.power[i+1] {
			candidates = append(candidates, i)
		}
	}

	slices.SortFunc(candidates, func(a, b int) int {
		switch {
		case s.power[a] > s.power[b]:
			return -1
		case s.power[a] < s.power[b]:
			return 1
		default:
			return 0
		}
	})

	peaks := make([]Peak, 0, n)

	for _, bin := range candidates {
		if len(peaks) == n {
			break
		}

		freq := s.refine(bin)

		if slices.ContainsFunc(peaks, func(p Peak) bool {
			return math.Abs(p.Frequency-freq) < peakSeparation
		}) {
			continue
		}

		peaks = append(peaks, Peak{
			Frequency: freq,
			SNR:       10 * math.Log10(s.power[bin]/floor),
		})
	}

	return peaks
}

// refine interpolates the peak between neighbouring bins.
func (s *spectrum) refine(bin int) float64 {
	resolution := s.sampleRate / fftSize

	alpha, beta, gamma := s.power[bin-1], s.power[bin], s.power[bin+1]

	denominator := alpha - 2*beta + gamma
	if denominator == 0 {
		return float64(bin) * resolution
	}

	delta := 0.5 * (alpha - gamma) / denominator

	return (float64(bin) + delta) * resolution
}
