package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
)

const bytesPerSample = 4

// PipeSource reads raw little-endian float32 mono samples, for example from
// `arecord -t raw -f FLOAT_LE -c 1 -r 8000` through a FIFO or stdin.
type PipeSource struct {
	path string

	mu     sync.Mutex
	reader *bufio.Reader
	closer io.Closer
	raw    []byte
}

// NewPipeSource returns a source reading from path; "-" reads stdin.
func NewPipeSource(path string) *PipeSource {
	return &PipeSource{path: path}
}

// NewReaderSource returns a source reading from r. Close closes r when it is an io.Closer.
func NewReaderSource(r io.Reader) *PipeSource {
	s := &PipeSource{reader: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	return s
}

// Start opens the input path.
func (s *PipeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return nil
	}

	if s.path == "-" {
		s.reader = bufio.NewReader(os.Stdin)
		return nil
	}

	f, err := os.Open(filepath.Clean(s.path))
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", s.path, ErrFatal, err)
	}

	s.reader = bufio.NewReader(f)
	s.closer = f

	return nil
}

// Read fills buf with decoded samples. End of input is fatal: the producer is gone.
func (s *PipeSource) Read(buf []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return 0, fmt.Errorf("source not started: %w", ErrFatal)
	}

	need := len(buf) * bytesPerSample
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}

	raw := s.raw[:need]

	if _, err := io.ReadFull(s.reader, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("input closed: %w: %w", ErrFatal, err)
		}

		return 0, fmt.Errorf("read input: %w: %w", ErrFatal, err)
	}

	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}

	return len(buf), nil
}

// Recover is a no-op: a pipe never reports transient faults.
func (s *PipeSource) Recover(error) error {
	return nil
}

// Close closes the underlying file, if any.
func (s *PipeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closer == nil {
		return nil
	}

	err := s.closer.Close()
	s.closer = nil

	return err
}
