package calibrate

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/doorbell-monitor/internal/capture"
	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/domain/band"
)

// tone encodes seconds of a sine at freq as raw float32 samples.
func tone(t *testing.T, freq, amplitude, seconds float64) []byte {
	t.Helper()

	var buf bytes.Buffer

	n := int(seconds * config.DefaultSampleRate)
	for i := range n {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/config.DefaultSampleRate)
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, float32(v)))
	}

	return buf.Bytes()
}

func newCollector(t *testing.T) *Collector {
	t.Helper()

	settings := config.Default()

	bands, err := band.Build(settings.Detection.Bands, settings.Detection.Bandwidth, settings.Audio.SampleRate)
	require.NoError(t, err)

	c, err := NewCollector(bands, &settings.Audio, settings.Detection.AveragingWindow)
	require.NoError(t, err)

	return c
}

// TestCollector_FindsChime reports the ringing band and the tone frequency.
func TestCollector_FindsChime(t *testing.T) {
	t.Parallel()

	c := newCollector(t)
	source := capture.NewReaderSource(bytes.NewReader(tone(t, 977, 0.5, 2)))

	require.NoError(t, c.Capture(context.Background(), source, 1000))

	report := c.Report(config.DefaultThreshold, 3)
	require.Equal(t, 250, report.Chunks)
	require.Equal(t, 2*time.Second, report.Duration)

	downstairs, upstairs := report.Bands[0], report.Bands[1]
	require.Less(t, downstairs.Max, config.DefaultThreshold)
	require.Zero(t, downstairs.Crossings)
	require.Greater(t, upstairs.Max, 0.4)
	require.Positive(t, upstairs.Crossings)
	require.Greater(t, upstairs.Mean, downstairs.Mean)
	require.InDelta(t, upstairs.Mean+floorSigmas*upstairs.StdDev, upstairs.Floor(), 1e-12)

	require.NotEmpty(t, report.Peaks)
	require.InDelta(t, 977, report.Peaks[0].Frequency, 2)
	require.Positive(t, report.Peaks[0].SNR)
}

// TestCollector_StopsAtChunkCount leaves the rest of the stream unread.
func TestCollector_StopsAtChunkCount(t *testing.T) {
	t.Parallel()

	c := newCollector(t)
	source := capture.NewReaderSource(bytes.NewReader(tone(t, 727, 0.1, 1)))

	require.NoError(t, c.Capture(context.Background(), source, 10))
	require.Equal(t, 10, c.Report(config.DefaultThreshold, 1).Chunks)
}

// flakySource fails transiently once before every successful read.
type flakySource struct {
	failed    bool
	recovered int
	reads     int
}

func (*flakySource) Start() error { return nil }

func (*flakySource) Close() error { return nil }

func (s *flakySource) Read(buf []float32) (int, error) {
	if !s.failed {
		s.failed = true
		return 0, fmt.Errorf("overrun: %w", capture.ErrTransient)
	}

	s.failed = false
	s.reads++

	return len(buf), nil
}

func (s *flakySource) Recover(error) error {
	s.recovered++
	return nil
}

// TestCollector_RecoversTransientFaults keeps counting chunks across overruns.
func TestCollector_RecoversTransientFaults(t *testing.T) {
	t.Parallel()

	c := newCollector(t)
	source := new(flakySource)

	require.NoError(t, c.Capture(context.Background(), source, 5))
	require.Equal(t, 5, source.reads)
	require.Equal(t, 5, source.recovered)
}

// TestCollector_NoAudio fails when nothing could be read.
func TestCollector_NoAudio(t *testing.T) {
	t.Parallel()

	c := newCollector(t)

	err := c.Capture(context.Background(), capture.NewReaderSource(bytes.NewReader(nil)), 10)
	require.ErrorIs(t, err, errNoAudio)
	require.ErrorIs(t, err, capture.ErrFatal)
}

// TestRun_PrintsReport calibrates a recording end to end.
func TestRun_PrintsReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	input := filepath.Join(dir, "ring.f32")
	require.NoError(t, os.WriteFile(input, tone(t, 727, 0.5, 1), 0o600))

	cfgPath := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(cfgPath, new(config.Config)))

	var out bytes.Buffer

	err := Run(context.Background(), &Options{
		ConfigPath: cfgPath,
		Input:      input,
		Duration:   5 * time.Second,
		Output:     &out,
	})
	require.NoError(t, err)

	report := out.String()
	require.Contains(t, report, "Captured 125 chunks")
	require.Contains(t, report, "DOWNSTAIRS DOORBELL")
	require.Contains(t, report, "UPSTAIRS DOORBELL")
	require.Contains(t, report, "SNR")
}
