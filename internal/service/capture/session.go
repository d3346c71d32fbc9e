// Package capture owns the lifecycle of one audio-capture attempt: acquiring a
// device, accumulating fragments in arrival order and finalizing them into a
// single payload.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/observability/metrics"
)

// Gate reports whether capture is currently permitted.
type Gate interface {
	CanCapture() bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithConstraints overrides the constraints passed to the device.
func WithConstraints(c Constraints) Option {
	return func(s *Session) { s.constraints = c }
}

// Session is one capture attempt. It is single-use: once terminal, a new
// Session must be created for another attempt.
//
// Rules:
//   - Start is only legal from IDLE and only while the gate permits capture
//   - Fragments are appended by a single consumer goroutine in arrival order
//   - The device is released exactly once, on Stop, Abort, or an abort that
//     races an in-flight acquisition
type Session struct {
	id          string
	gate        Gate
	device      Device
	constraints Constraints
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	mu            sync.Mutex
	state         State
	stream        Stream
	released      bool
	cancelAcquire context.CancelFunc
	fragments     [][]byte
	bytes         int64
	startedAt     time.Time
	drained       chan struct{}
	finalized     chan struct{}
	payload       *Payload
}

// NewSession creates an IDLE capture attempt.
func NewSession(gate Gate, device Device, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		gate:        gate,
		device:      device,
		constraints: Constraints{MimeType: ContentType},
		metrics:     metrics.DefaultMetrics,
		state:       StateIdle,
	}
	s.logger = logging.WithComponent("capture")
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With().Str("attemptId", s.id).Logger()
	return s
}

// ID returns the attempt identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start checks consent, acquires the device and begins consuming fragments.
// It blocks while the device is being acquired.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return failure.InvalidState("capture start", st.String())
	}
	if s.gate == nil || !s.gate.CanCapture() {
		s.mu.Unlock()
		return failure.New(failure.KindConsentRequired, "consent required before capture")
	}
	acquireCtx, cancel := context.WithCancel(ctx)
	s.cancelAcquire = cancel
	s.state = StateAcquiring
	s.mu.Unlock()

	s.logger.Debug().Str("mimeType", s.constraints.MimeType).Msg("Acquiring capture device")
	stream, err := s.device.Acquire(acquireCtx, s.constraints)
	cancel()
	if err == nil && stream == nil {
		err = errors.New("device returned no stream")
	}

	s.mu.Lock()
	if s.state != StateAcquiring {
		// Aborted while acquiring; a late stream must not outlive the attempt.
		st := s.state
		s.mu.Unlock()
		if err == nil {
			s.release(stream, "aborted_during_acquire")
		}
		return failure.InvalidState("capture start", st.String())
	}
	if err != nil {
		s.state = StateAborted
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Capture device unavailable")
		return failure.DeviceUnavailable(err)
	}

	s.stream = stream
	s.state = StateActive
	s.startedAt = time.Now()
	s.drained = make(chan struct{})
	drained := s.drained
	s.mu.Unlock()

	go s.consume(stream.Fragments(), drained)

	s.logger.Info().Msg("Capture started")
	return nil
}

// consume is the sole reader of the device stream. It exits when the device
// closes the channel on Release.
func (s *Session) consume(frags <-chan []byte, drained chan struct{}) {
	defer close(drained)
	for frag := range frags {
		s.mu.Lock()
		accepted := s.state == StateActive || s.state == StateFinalizing
		if accepted {
			s.fragments = append(s.fragments, append([]byte(nil), frag...))
			s.bytes += int64(len(frag))
		}
		s.mu.Unlock()

		if accepted {
			s.metrics.RecordFragment(len(frag))
		}
	}
}

// Stop releases the device, drains every buffered fragment and assembles the
// payload. Calling Stop again returns the same payload without a second release.
func (s *Session) Stop(ctx context.Context) (*Payload, error) {
	s.mu.Lock()
	switch s.state {
	case StateFinalized:
		p := s.payload
		s.mu.Unlock()
		return p, nil
	case StateFinalizing:
		finalized := s.finalized
		s.mu.Unlock()
		select {
		case <-finalized:
		case <-ctx.Done():
			return nil, fmt.Errorf("capture stop: %w", ctx.Err())
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.payload == nil {
			return nil, failure.InvalidState("capture stop", s.state.String())
		}
		return s.payload, nil
	case StateActive:
	default:
		st := s.state
		s.mu.Unlock()
		return nil, failure.InvalidState("capture stop", st.String())
	}

	s.state = StateFinalizing
	s.finalized = make(chan struct{})
	stream, drained := s.stream, s.drained
	s.mu.Unlock()

	s.release(stream, "stop")

	select {
	case <-drained:
	case <-ctx.Done():
		s.mu.Lock()
		s.state = StateAborted
		s.fragments = nil
		close(s.finalized)
		s.mu.Unlock()
		s.logger.Warn().Err(ctx.Err()).Msg("Capture abandoned while draining")
		return nil, fmt.Errorf("capture stop: %w", ctx.Err())
	}

	s.mu.Lock()
	payload := NewPayload(s.fragments)
	s.payload = payload
	s.fragments = nil
	s.state = StateFinalized
	duration := time.Since(s.startedAt)
	close(s.finalized)
	s.mu.Unlock()

	s.metrics.RecordCaptureFinalized(duration.Seconds())
	s.logger.Info().
		Int("fragments", payload.Fragments()).
		Int("bytes", payload.Len()).
		Dur("duration", duration.Round(time.Millisecond)).
		Msg("Capture finalized")

	return payload, nil
}

// Abort abandons the attempt: an in-flight acquisition is cancelled, a held
// device is released and buffered fragments are discarded.
//
// Returns true if the attempt was aborted, false if there was nothing to abort.
func (s *Session) Abort(reason string) bool {
	s.mu.Lock()
	switch s.state {
	case StateAcquiring:
		s.state = StateAborted
		cancel := s.cancelAcquire
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.logger.Info().Str("reason", reason).Msg("Capture aborted during acquisition")
		return true
	case StateActive:
		s.state = StateAborted
		s.fragments = nil
		s.bytes = 0
		stream := s.stream
		s.mu.Unlock()
		s.release(stream, reason)
		s.logger.Info().Str("reason", reason).Msg("Capture aborted")
		return true
	default:
		s.mu.Unlock()
		return false
	}
}

// release frees the device handle at most once.
func (s *Session) release(stream Stream, reason string) {
	s.mu.Lock()
	if s.released || stream == nil {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	if err := stream.Release(); err != nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("Device release reported an error")
	}
	s.metrics.RecordDeviceRelease(reason)
	s.logger.Debug().Str("reason", reason).Msg("Capture device released")
}

// Metrics holds current capture usage metrics.
type Metrics struct {
	Fragments int
	Bytes     int64
	Duration  time.Duration
}

// Metrics returns usage for the attempt so far.
func (s *Session) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{Fragments: len(s.fragments), Bytes: s.bytes}
	if s.payload != nil {
		m.Fragments = s.payload.Fragments()
	}
	if !s.startedAt.IsZero() {
		m.Duration = time.Since(s.startedAt)
	}
	return m
}
