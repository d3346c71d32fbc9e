package capture

import (
	"bytes"
	"io"
	"time"
)

const (
	// ContentType is the fixed container type of every payload.
	ContentType = "audio/webm"
	// FileName is the filename assigned to the uploaded payload.
	FileName = "recording.webm"
)

// Payload is the ordered concatenation of all fragments of one capture attempt.
// It is immutable; accessors never expose the backing array.
type Payload struct {
	data      []byte
	fragments int
	createdAt time.Time
}

// NewPayload assembles fragments, in order, into a payload. The fragments are
// copied.
func NewPayload(fragments [][]byte) *Payload {
	size := 0
	for _, f := range fragments {
		size += len(f)
	}
	data := make([]byte, 0, size)
	for _, f := range fragments {
		data = append(data, f...)
	}
	return &Payload{
		data:      data,
		fragments: len(fragments),
		createdAt: time.Now().UTC(),
	}
}

// Bytes returns a copy of the payload bytes.
func (p *Payload) Bytes() []byte {
	return append([]byte(nil), p.data...)
}

// Reader returns a fresh reader over the payload.
func (p *Payload) Reader() io.Reader {
	return bytes.NewReader(p.data)
}

// Len returns the payload size in bytes.
func (p *Payload) Len() int { return len(p.data) }

// Fragments returns the number of fragments the payload was assembled from.
func (p *Payload) Fragments() int { return p.fragments }

// ContentType returns the payload MIME type.
func (p *Payload) ContentType() string { return ContentType }

// FileName returns the filename used on upload.
func (p *Payload) FileName() string { return FileName }

// CreatedAt returns when the payload was assembled.
func (p *Payload) CreatedAt() time.Time { return p.createdAt }
