// Package push provides a virtual capture device fed by an external producer,
// such as a WebSocket connection relaying browser MediaRecorder chunks.
package push

import (
	"context"
	"errors"
	"sync"

	"visit-intake-service/internal/service/capture"
)

// DefaultBuffer is the fragment channel capacity of each stream.
const DefaultBuffer = 64

var (
	// ErrBusy is returned by Acquire while a previous stream is still held.
	ErrBusy = errors.New("push device already acquired")
	// ErrNotAcquired is returned by Push when no stream is open.
	ErrNotAcquired = errors.New("push device not acquired")
	// ErrReleased is returned by Push after the stream has been released.
	ErrReleased = errors.New("push stream released")
)

// Device implements capture.Device. At most one stream is open at a time.
type Device struct {
	mu      sync.Mutex
	current *Stream
	buffer  int
}

// NewDevice creates a push device with the default buffer size.
func NewDevice() *Device {
	return &Device{buffer: DefaultBuffer}
}

// Acquire opens a new stream. It fails with ErrBusy while another stream is open.
func (d *Device) Acquire(ctx context.Context, _ capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil && !d.current.isReleased() {
		return nil, ErrBusy
	}
	d.current = &Stream{ch: make(chan []byte, d.buffer)}
	return d.current, nil
}

// Push delivers one fragment to the open stream. It blocks while the stream
// buffer is full, so fragments are never dropped.
func (d *Device) Push(fragment []byte) error {
	d.mu.Lock()
	st := d.current
	d.mu.Unlock()
	if st == nil {
		return ErrNotAcquired
	}
	return st.push(fragment)
}

// Acquired reports whether a stream is currently open.
func (d *Device) Acquired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && !d.current.isReleased()
}

// Stream is one acquisition of a push Device.
type Stream struct {
	mu       sync.Mutex
	ch       chan []byte
	released bool
}

// Fragments returns the ordered fragment channel.
func (s *Stream) Fragments() <-chan []byte {
	return s.ch
}

// Release closes the stream once every in-flight push has been delivered.
// Releasing twice is a no-op.
func (s *Stream) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	close(s.ch)
	return nil
}

func (s *Stream) push(fragment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.ch <- append([]byte(nil), fragment...)
	return nil
}

func (s *Stream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
