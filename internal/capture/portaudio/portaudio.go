// Package portaudio captures mono float32 audio through a blocking PortAudio stream.
package portaudio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/oshokin/doorbell-monitor/internal/capture"
)

// DefaultDevice selects the host API default input device.
const DefaultDevice = "default"

// errDeviceNotFound is returned when no input device matches the configured name.
var errDeviceNotFound = errors.New("input device not found")

// Source is a capture.Source backed by PortAudio.
type Source struct {
	device string
	format capture.Format

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []float32
}

// New returns a source for the named device. The stream is opened by Start.
func New(device string, format capture.Format) *Source {
	return &Source{
		device: device,
		format: format,
	}
}

// Start initializes PortAudio, opens a mono input stream and starts it.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w: %w", capture.ErrFatal, err)
	}

	info, err := s.findDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("%w: %w", capture.ErrFatal, err)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.format.SampleRate)
	params.FramesPerBuffer = s.format.ChunkSize

	s.buffer = make([]float32, s.format.ChunkSize)

	stream, err := portaudio.OpenStream(params, s.buffer)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open stream on %q: %w: %w", info.Name, capture.ErrFatal, err)
	}

	if err = stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()

		return fmt.Errorf("start stream: %w: %w", capture.ErrFatal, err)
	}

	s.stream = stream

	return nil
}

// Read blocks for one chunk. Overflows are reported as transient faults.
func (s *Source) Read(buf []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return 0, fmt.Errorf("stream not started: %w", capture.ErrFatal)
	}

	if err := s.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("read: %w: %w", capture.ErrTransient, err)
		}

		return 0, fmt.Errorf("read: %w: %w", capture.ErrFatal, err)
	}

	return copy(buf, s.buffer), nil
}

// Recover restarts the stream after an overflow.
func (s *Source) Recover(error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return fmt.Errorf("stream not started: %w", capture.ErrFatal)
	}

	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop stream: %w: %w", capture.ErrFatal, err)
	}

	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("restart stream: %w: %w", capture.ErrFatal, err)
	}

	return nil
}

// Close stops the stream and terminates PortAudio.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}

	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	s.stream = nil

	return errors.Join(stopErr, closeErr, portaudio.Terminate())
}

// findDevice resolves the configured device name, case-insensitively.
func (s *Source) findDevice() (*portaudio.DeviceInfo, error) {
	if s.device == "" || s.device == DefaultDevice {
		info, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}

		return info, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	for _, info := range devices {
		if info.MaxInputChannels > 0 && strings.EqualFold(info.Name, s.device) {
			return info, nil
		}
	}

	return nil, fmt.Errorf("%q: %w", s.device, errDeviceNotFound)
}

// InputDevices lists the names of devices with at least one input channel.
func InputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate() //nolint:errcheck // Nothing to do on terminate failure.

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	names := make([]string, 0, len(devices))
	for _, info := range devices {
		if info.MaxInputChannels > 0 {
			names = append(names, info.Name)
		}
	}

	return names, nil
}
