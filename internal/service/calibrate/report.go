package calibrate

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/oshokin/doorbell-monitor/internal/domain/band"
)

// floorSigmas is how far above the quiet mean a suggested threshold sits.
const floorSigmas = 5

// BandStats summarizes the magnitudes of one band.
type BandStats struct {
	Band   band.Spec
	Mean   float64
	StdDev float64
	Max    float64
	// Crossings is the number of chunks at or above the configured threshold.
	Crossings int
}

// Floor is a threshold that quiet input of this band would rarely reach.
func (b BandStats) Floor() float64 {
	return b.Mean + floorSigmas*b.StdDev
}

// Report is the result of a calibration run.
type Report struct {
	Duration  time.Duration
	Chunks    int
	Threshold float64
	Bands     []BandStats
	Peaks     []Peak
}

// summarize computes per-band statistics from the recorded magnitudes.
func summarize(bands []band.Spec, magnitudes [][]float64, threshold float64) []BandStats {
	out := make([]BandStats, len(bands))

	for i, spec := range bands {
		out[i].Band = spec

		values := magnitudes[i]
		if len(values) == 0 {
			continue
		}

		out[i].Mean, out[i].StdDev = stat.MeanStdDev(values, nil)
		out[i].Max = floats.Max(values)

		for _, v := range values {
			if v >= threshold {
				out[i].Crossings++
			}
		}
	}

	return out
}

// Print writes the report as aligned tables.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(tw, "Captured %d chunks (%s), threshold %.4g\n\n", r.Chunks, r.Duration.Round(time.Millisecond), r.Threshold)
	_, _ = fmt.Fprintln(tw, "BAND\tFREQUENCY\tLABEL\tMEAN\tSTDDEV\tMAX\tFLOOR\tCROSSINGS")

	for i, b := range r.Bands {
		_, _ = fmt.Fprintf(tw, "%d\t%.1f Hz\t%s\t%.5f\t%.5f\t%.5f\t%.5f\t%d\n",
			i, b.Band.Frequency, b.Band.Label, b.Mean, b.StdDev, b.Max, b.Floor(), b.Crossings)
	}

	if len(r.Peaks) > 0 {
		_, _ = fmt.Fprintln(tw, "\nTONE\tFREQUENCY\tSNR")

		for i, p := range r.Peaks {
			_, _ = fmt.Fprintf(tw, "%d\t%.1f Hz\t%.1f dB\n", i+1, p.Frequency, p.SNR)
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}
