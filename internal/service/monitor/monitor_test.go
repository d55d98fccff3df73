package monitor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/doorbell-monitor/internal/capture"
	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/domain/band"
	"github.com/oshokin/doorbell-monitor/internal/metrics"
	"github.com/oshokin/doorbell-monitor/internal/notify"
	"github.com/oshokin/doorbell-monitor/internal/transform"
)

const (
	testChunkSize = 64
	testThreshold = 0.1
	testCooldown  = 10 * time.Second
)

// readStep scripts one Read call.
type readStep struct {
	err   error
	short bool
}

// scriptedSource plays back read steps, then reports a fatal end of input
// unless endless is set.
type scriptedSource struct {
	steps      []readStep
	endless    bool
	recoverErr error
	onRead     func(call int)

	reads     int
	recovered int
}

func (*scriptedSource) Start() error { return nil }

func (*scriptedSource) Close() error { return nil }

func (s *scriptedSource) Read(buf []float32) (int, error) {
	call := s.reads
	s.reads++

	if s.onRead != nil {
		s.onRead(call)
	}

	if call >= len(s.steps) {
		if s.endless {
			return len(buf), nil
		}

		return 0, fmt.Errorf("input closed: %w: %w", capture.ErrFatal, io.EOF)
	}

	step := s.steps[call]
	if step.err != nil {
		return 0, step.err
	}

	if step.short {
		return len(buf) / 2, nil
	}

	return len(buf), nil
}

func (s *scriptedSource) Recover(error) error {
	s.recovered++
	return s.recoverErr
}

// chunks returns n successful read steps.
func chunks(n int) []readStep {
	return make([]readStep, n)
}

// scriptedEngine returns magnitudes chosen by call index.
type scriptedEngine struct {
	magnitudes func(call int) []float64
	err        error
	calls      int
}

func (e *scriptedEngine) Process([]float32, float64) ([]float64, error) {
	call := e.calls
	e.calls++

	if e.err != nil {
		return nil, e.err
	}

	return e.magnitudes(call), nil
}

func constant(mags ...float64) func(int) []float64 {
	return func(int) []float64 { return mags }
}

// recordingDispatcher keeps dispatched events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []detector.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event detector.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, event)
}

func (d *recordingDispatcher) Events() []detector.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]detector.Event(nil), d.events...)
}

// faultRecorder counts capture faults by kind.
type faultRecorder struct {
	chunks     int
	faults     map[string]int
	detections int
}

func (r *faultRecorder) ChunkProcessed([]string, []float64) { r.chunks++ }

func (r *faultRecorder) CaptureFault(kind string) {
	if r.faults == nil {
		r.faults = make(map[string]int)
	}

	r.faults[kind]++
}

func (r *faultRecorder) Detection(int, string) { r.detections++ }

func testBands(t *testing.T) []band.Spec {
	t.Helper()

	bands, err := band.Build(config.DefaultBands(), config.DefaultBandwidth, config.DefaultSampleRate)
	require.NoError(t, err)

	return bands
}

type harness struct {
	source     *scriptedSource
	engine     *scriptedEngine
	state      *detector.AlarmState
	dispatcher *recordingDispatcher
	recorder   *faultRecorder
	monitor    *Monitor
}

func newHarness(t *testing.T, source *scriptedSource, engine *scriptedEngine) *harness {
	t.Helper()

	bands := testBands(t)
	state := detector.NewAlarmState(testCooldown)
	t.Cleanup(state.Stop)

	h := &harness{
		source:     source,
		engine:     engine,
		state:      state,
		dispatcher: new(recordingDispatcher),
		recorder:   new(faultRecorder),
	}

	m, err := New(Params{
		Source:          source,
		Engine:          engine,
		Detector:        detector.New(bands, testThreshold, state),
		Dispatcher:      h.dispatcher,
		Bands:           bands,
		ChunkSize:       testChunkSize,
		AveragingWindow: config.DefaultAveragingWindow,
		Recorder:        h.recorder,
	})
	require.NoError(t, err)

	h.monitor = m

	return h
}

// TestMonitor_QuietInputNeverNotifies keeps the state armed while nothing crosses the threshold.
func TestMonitor_QuietInputNeverNotifies(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&scriptedSource{steps: chunks(200)},
		&scriptedEngine{magnitudes: constant(0.05, 0.0999)},
	)

	err := h.monitor.Run(context.Background())
	require.ErrorIs(t, err, ErrCapture)
	require.ErrorIs(t, err, io.EOF)

	require.Empty(t, h.dispatcher.Events())
	require.False(t, h.state.Suppressed())
	require.Equal(t, 200, h.recorder.chunks)
	require.Equal(t, 1, h.recorder.faults[metrics.FaultFatal])
}

// TestMonitor_TransientFaultsRecover retries the stream and resumes normal delivery.
func TestMonitor_TransientFaultsRecover(t *testing.T) {
	t.Parallel()

	overrun := fmt.Errorf("read: %w: input overflowed", capture.ErrTransient)

	steps := make([]readStep, 0, 25)
	for range 5 {
		steps = append(steps, readStep{err: overrun})
	}

	steps = append(steps, chunks(20)...)

	h := newHarness(t,
		&scriptedSource{steps: steps},
		&scriptedEngine{magnitudes: constant(0.01, 0.01)},
	)

	err := h.monitor.Run(context.Background())
	require.ErrorIs(t, err, ErrCapture)

	require.Equal(t, 5, h.source.recovered)
	require.Equal(t, 20, h.engine.calls)
	require.Equal(t, 5, h.recorder.faults[metrics.FaultTransient])
	require.Empty(t, h.dispatcher.Events())
}

// TestMonitor_TransientFaultThenDetection still fires once capture is back.
func TestMonitor_TransientFaultThenDetection(t *testing.T) {
	t.Parallel()

	overrun := fmt.Errorf("read: %w", capture.ErrTransient)
	steps := append([]readStep{{err: overrun}, {err: overrun}}, chunks(3)...)

	h := newHarness(t,
		&scriptedSource{steps: steps},
		&scriptedEngine{magnitudes: constant(0.01, 0.5)},
	)

	require.ErrorIs(t, h.monitor.Run(context.Background()), ErrCapture)

	events := h.dispatcher.Events()
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].Band)
	require.Equal(t, "UPSTAIRS DOORBELL", events[0].Label)
}

// TestMonitor_RecoverFailureIsFatal stops the loop when the stream cannot be reset.
func TestMonitor_RecoverFailureIsFatal(t *testing.T) {
	t.Parallel()

	errReset := errors.New("device gone")

	h := newHarness(t,
		&scriptedSource{
			steps:      []readStep{{err: fmt.Errorf("read: %w", capture.ErrTransient)}},
			recoverErr: errReset,
		},
		&scriptedEngine{magnitudes: constant(0, 0)},
	)

	err := h.monitor.Run(context.Background())
	require.ErrorIs(t, err, ErrCapture)
	require.ErrorIs(t, err, errReset)
	require.Equal(t, 1, h.source.recovered)
	require.Zero(t, h.engine.calls)
}

// TestMonitor_ShortReadIsRetried never hands a partial chunk to the engine.
func TestMonitor_ShortReadIsRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&scriptedSource{steps: []readStep{{short: true}, {}, {short: true}, {}}},
		&scriptedEngine{magnitudes: constant(0, 0)},
	)

	require.ErrorIs(t, h.monitor.Run(context.Background()), ErrCapture)
	require.Equal(t, 2, h.engine.calls)
}

// TestMonitor_TransformFailureIsFatal surfaces engine errors as ErrTransform.
func TestMonitor_TransformFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&scriptedSource{steps: chunks(10)},
		&scriptedEngine{err: fmt.Errorf("band 0: %w", transform.ErrEngineState)},
	)

	err := h.monitor.Run(context.Background())
	require.ErrorIs(t, err, ErrTransform)
	require.ErrorIs(t, err, transform.ErrEngineState)
	require.NotErrorIs(t, err, ErrCapture)
	require.Equal(t, 1, h.source.reads)
}

// TestMonitor_MagnitudeCountMismatch treats a broken positional contract as a transform failure.
func TestMonitor_MagnitudeCountMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		&scriptedSource{steps: chunks(1)},
		&scriptedEngine{magnitudes: constant(0.5)},
	)

	err := h.monitor.Run(context.Background())
	require.ErrorIs(t, err, ErrTransform)
	require.ErrorIs(t, err, detector.ErrMagnitudeCount)
}

// TestMonitor_CancelFinishesCurrentChunk evaluates the chunk in flight when the signal arrives.
func TestMonitor_CancelFinishesCurrentChunk(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &scriptedSource{
		steps: chunks(100),
		onRead: func(call int) {
			if call == 2 {
				cancel()
			}
		},
	}

	h := newHarness(t, source, &scriptedEngine{magnitudes: func(call int) []float64 {
		if call == 2 {
			return []float64{0.3, 0}
		}

		return []float64{0, 0}
	}})

	require.NoError(t, h.monitor.Run(ctx))
	require.Equal(t, 3, source.reads)
	require.Len(t, h.dispatcher.Events(), 1)
	require.True(t, h.state.Suppressed())
}

// TestMonitor_CooldownScenario follows a ring through a full cooldown on a fake clock.
func TestMonitor_CooldownScenario(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		const chunksPerSecond = config.DefaultSampleRate / testChunkSize

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		var (
			magnitude = 0.05
			pause     = make(chan struct{})
			resume    = make(chan struct{})
		)

		// 1 s quiet, 0.5 s ring, then oscillation around T for 10 s of capture.
		source := &scriptedSource{
			endless: true,
			onRead: func(call int) {
				switch {
				case call < chunksPerSecond:
					magnitude = 0.05
				case call < chunksPerSecond*3/2:
					magnitude = 0.3
				case call%2 == 0:
					magnitude = 0.2
				default:
					magnitude = 0.05
				}

				// Pace capture by the audio clock: one pause per simulated second.
				if call > 0 && call%chunksPerSecond == 0 {
					pause <- struct{}{}
					<-resume
				}
			},
		}

		h := newHarness(t, source, &scriptedEngine{magnitudes: func(int) []float64 {
			return []float64{magnitude, 0}
		}})

		done := make(chan error, 1)

		go func() {
			done <- h.monitor.Run(ctx)
		}()

		tick := func() {
			<-pause
			time.Sleep(time.Second)
			resume <- struct{}{}
		}

		// Quiet second: nothing fires.
		<-pause
		require.Empty(t, h.dispatcher.Events())
		time.Sleep(time.Second)
		resume <- struct{}{}

		// The ring starts the cooldown at the jump instant.
		ringAt := time.Now()

		for range 9 {
			tick()
		}

		<-pause

		events := h.dispatcher.Events()
		require.Len(t, events, 1)
		require.Equal(t, 0, events[0].Band)
		require.Equal(t, "DOWNSTAIRS DOORBELL", events[0].Label)
		require.True(t, ringAt.Equal(events[0].Timestamp))
		require.True(t, h.state.Suppressed())

		// Cooldown elapses; the next crossing fires again.
		time.Sleep(time.Second + time.Millisecond)
		synctest.Wait()
		require.False(t, h.state.Suppressed())
		resume <- struct{}{}

		<-pause
		require.Len(t, h.dispatcher.Events(), 2)

		cancel()
		resume <- struct{}{}
		require.NoError(t, <-done)
	})
}

// toneReader encodes segments of a sine wave as little-endian float32.
func toneReader(t *testing.T, sampleRate int, segments ...toneSegment) io.Reader {
	t.Helper()

	var buf bytes.Buffer

	n := 0

	for _, seg := range segments {
		count := int(seg.seconds * float64(sampleRate))
		for range count {
			v := seg.amplitude * math.Sin(2*math.Pi*seg.frequency*float64(n)/float64(sampleRate))
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, float32(v)))

			n++
		}
	}

	return &buf
}

type toneSegment struct {
	frequency float64
	amplitude float64
	seconds   float64
}

// recordingTransport counts delivered events.
type recordingTransport struct {
	mu     sync.Mutex
	events []detector.Event
}

func (*recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, event detector.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

// TestMonitor_DetectsChimeFromPipe runs the real engine, detector and dispatcher on a recorded ring.
func TestMonitor_DetectsChimeFromPipe(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		const sampleRate = config.DefaultSampleRate

		bands := testBands(t)

		engine, err := transform.NewSlidingDFT(bands, sampleRate, testChunkSize, config.DefaultAveragingWindow.Seconds())
		require.NoError(t, err)

		state := detector.NewAlarmState(testCooldown)
		defer state.Stop()

		transport := new(recordingTransport)
		dispatcher := notify.NewDispatcher([]notify.Transport{transport})
		stats := metrics.New(nil)

		source := capture.NewReaderSource(toneReader(t, sampleRate,
			toneSegment{seconds: 1},
			toneSegment{frequency: 727, amplitude: 0.5, seconds: 0.5},
			toneSegment{seconds: 1},
		))
		require.NoError(t, source.Start())

		m, err := New(Params{
			Source:          source,
			Engine:          engine,
			Detector:        detector.New(bands, testThreshold, state),
			Dispatcher:      dispatcher,
			Bands:           bands,
			ChunkSize:       testChunkSize,
			AveragingWindow: config.DefaultAveragingWindow,
			Recorder:        stats,
		})
		require.NoError(t, err)

		err = m.Run(t.Context())
		require.ErrorIs(t, err, ErrCapture)

		dispatcher.Wait()

		require.Len(t, transport.events, 1)
		require.Equal(t, 0, transport.events[0].Band)
		require.Equal(t, "DOWNSTAIRS DOORBELL", transport.events[0].Label)
		require.GreaterOrEqual(t, transport.events[0].Magnitude, testThreshold)
	})
}

// TestNew_Validates rejects missing collaborators.
func TestNew_Validates(t *testing.T) {
	t.Parallel()

	bands := testBands(t)
	state := detector.NewAlarmState(testCooldown)

	valid := Params{
		Source:          &scriptedSource{},
		Engine:          &scriptedEngine{},
		Detector:        detector.New(bands, testThreshold, state),
		Dispatcher:      new(recordingDispatcher),
		Bands:           bands,
		ChunkSize:       testChunkSize,
		AveragingWindow: time.Millisecond,
	}

	_, err := New(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{name: "source", mutate: func(p *Params) { p.Source = nil }},
		{name: "engine", mutate: func(p *Params) { p.Engine = nil }},
		{name: "detector", mutate: func(p *Params) { p.Detector = nil }},
		{name: "dispatcher", mutate: func(p *Params) { p.Dispatcher = nil }},
		{name: "chunk size", mutate: func(p *Params) { p.ChunkSize = 0 }},
		{name: "window", mutate: func(p *Params) { p.AveragingWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tt.mutate(&p)

			_, err := New(p)
			require.Error(t, err)
		})
	}
}
