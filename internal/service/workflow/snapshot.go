package workflow

import (
	"time"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
)

// FailureInfo describes the failure behind StateFailed and how to recover.
type FailureInfo struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
	Status  int          `json:"status,omitempty"`
	Body    string       `json:"body,omitempty"`
	Retry   RetryAction  `json:"retry,omitempty"`
}

// CaptureInfo describes the current capture attempt.
type CaptureInfo struct {
	AttemptID string `json:"attempt_id"`
	State     string `json:"state"`
	Fragments int    `json:"fragments"`
	Bytes     int64  `json:"bytes"`
}

// Snapshot is a read-only view of an encounter for the presentation layer.
// It never carries the bearer token.
type Snapshot struct {
	SessionID        string                      `json:"session_id"`
	State            State                       `json:"state"`
	Language         models.Language             `json:"language"`
	Consent          string                      `json:"consent"`
	Anonymous        bool                        `json:"anonymous"`
	InFlight         bool                        `json:"in_flight"`
	Failure          *FailureInfo                `json:"failure,omitempty"`
	Capture          *CaptureInfo                `json:"capture,omitempty"`
	PayloadBytes     int                         `json:"payload_bytes,omitempty"`
	Transcription    *models.TranscriptionResult `json:"transcription,omitempty"`
	SuggestionSource string                      `json:"suggestion_source,omitempty"`
	SuggestionError  string                      `json:"suggestion_error,omitempty"`
	Codes            []models.BillingCode        `json:"codes,omitempty"`
	Submission       *models.SubmissionResult    `json:"submission,omitempty"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// Snapshot returns the current view of the encounter.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.gate.State()
	s := Snapshot{
		SessionID:     c.session.ID,
		State:         c.state,
		Language:      c.session.Language,
		Consent:       cs.Status.String(),
		Anonymous:     cs.Anonymous,
		InFlight:      c.inFlight,
		Transcription: c.transcript,
		Submission:    c.submission,
		UpdatedAt:     c.updatedAt,
	}
	if c.failure != nil {
		s.Failure = &FailureInfo{
			Kind:    c.failure.Kind,
			Message: c.failure.Error(),
			Status:  c.failure.Status,
			Body:    c.failure.Body,
			Retry:   RetryFor(c.failure.Kind),
		}
	}
	if c.capture != nil {
		m := c.capture.Metrics()
		s.Capture = &CaptureInfo{
			AttemptID: c.capture.ID(),
			State:     c.capture.State().String(),
			Fragments: m.Fragments,
			Bytes:     m.Bytes,
		}
	}
	if c.payload != nil {
		s.PayloadBytes = c.payload.Len()
	}
	if c.transcript != nil {
		s.SuggestionSource = c.deps.Suggestions.Name()
		s.SuggestionError = c.suggestErr
	}
	if c.review != nil {
		s.Codes = c.review.Codes()
	}
	return s
}
