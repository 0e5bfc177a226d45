// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.InputStream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.Stream{Frames: [][]byte{speech, speech, silence}}
//	dev := &mock.Device{OpenResult: stream}
//	s, err := dev.Open(ctx, 16000, 480)
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/earwig/pkg/audio"
)

// ErrStreamClosed is returned by [Stream.Read] after Close.
var ErrStreamClosed = errors.New("mock audio: stream closed")

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a scripted [audio.InputStream].
//
// Read returns the queued Frames in order, then the queued Errors interleaved
// by index (see ReadErrors). Once the script is exhausted Read either blocks
// until Close (Block == true) or returns Silence-sized zero frames forever.
type Stream struct {
	mu sync.Mutex

	// Frames is the scripted sequence of frames returned by Read.
	Frames [][]byte

	// ReadErrors maps a zero-based Read call index to an error returned by that
	// call instead of the next frame.
	ReadErrors map[int]error

	// Block makes Read block until Close once Frames is exhausted.
	Block bool

	// Silence is the byte length of zero frames returned after the script is
	// exhausted when Block is false. Zero means 960 bytes (30 ms at 16 kHz).
	Silence int

	// Interval is slept before every Read to emulate a real-time device.
	Interval time.Duration

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos    int
	closed chan struct{}
	once   sync.Once
}

func (s *Stream) done() chan struct{} {
	s.once.Do(func() { s.closed = make(chan struct{}) })
	return s.closed
}

// Read implements [audio.InputStream].
func (s *Stream) Read() ([]byte, error) {
	done := s.done()
	s.mu.Lock()
	interval := s.Interval
	s.mu.Unlock()
	if interval > 0 {
		select {
		case <-time.After(interval):
		case <-done:
			return nil, ErrStreamClosed
		}
	}

	s.mu.Lock()
	idx := s.CallCountRead
	s.CallCountRead++
	select {
	case <-done:
		s.mu.Unlock()
		return nil, ErrStreamClosed
	default:
	}
	if err, ok := s.ReadErrors[idx]; ok {
		s.mu.Unlock()
		return nil, err
	}
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	block := s.Block
	size := s.Silence
	s.mu.Unlock()

	if block {
		<-done
		return nil, ErrStreamClosed
	}
	if size == 0 {
		size = 960
	}
	return make([]byte, size), nil
}

// Close implements [audio.InputStream]. Returns CloseError.
func (s *Stream) Close() error {
	done := s.done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	select {
	case <-done:
	default:
		close(done)
	}
	return s.CloseError
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ReadCount returns how many times Read has been called. Thread-safe.
func (s *Stream) ReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRead
}

// CloseCount returns how many times Close has been called. Thread-safe.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	SampleRate   int
	FrameSamples int
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.InputStream] returned by Open.
	OpenResult audio.InputStream

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Device]. Records the call and returns OpenResult / OpenError.
func (d *Device) Open(_ context.Context, sampleRate, frameSamples int) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{SampleRate: sampleRate, FrameSamples: frameSamples})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	return d.OpenResult, nil
}

var (
	_ audio.Device      = (*Device)(nil)
	_ audio.InputStream = (*Stream)(nil)
)
