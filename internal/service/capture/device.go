package capture

import "context"

// Constraints describe the stream requested from a device.
type Constraints struct {
	// MimeType is the container the device is expected to produce.
	MimeType string
}

// Device is a physical or virtual audio source.
type Device interface {
	// Acquire requests exclusive access to the device. ctx bounds the
	// acquisition only; the returned stream lives until Release.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired device handle.
//
// Fragments delivers captured chunks in arrival order to a single consumer.
// Release flushes pending fragments, closes the Fragments channel and frees
// the device. It is called exactly once per stream by the owning Session.
type Stream interface {
	Fragments() <-chan []byte
	Release() error
}
