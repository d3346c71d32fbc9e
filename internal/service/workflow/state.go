// Package workflow coordinates one encounter from consent to billing submission.
package workflow

import (
	"fmt"
	"time"

	"visit-intake-service/internal/failure"
)

// State is the encounter-level workflow state.
type State int

const (
	// StateAwaitingConsent - No capture yet; waiting for the consent decision.
	StateAwaitingConsent State = iota
	// StateCapturing - Device is being acquired or is streaming fragments.
	StateCapturing
	// StateUploading - Finalized payload is being sent for transcription.
	StateUploading
	// StateAwaitingTranscription - Transcript received; code suggestions are being resolved.
	StateAwaitingTranscription
	// StateReviewingBilling - Clinician is editing the working code set.
	StateReviewingBilling
	// StateSubmitted - Billing codes accepted. Terminal until restart.
	StateSubmitted
	// StateFailed - A retryable failure occurred; see the failure kind.
	StateFailed
	// StateCancelled - Encounter was cancelled or torn down.
	StateCancelled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingConsent:
		return "AWAITING_CONSENT"
	case StateCapturing:
		return "CAPTURING"
	case StateUploading:
		return "UPLOADING"
	case StateAwaitingTranscription:
		return "AWAITING_TRANSCRIPTION"
	case StateReviewingBilling:
		return "REVIEWING_BILLING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateAwaitingConsent; st <= StateCancelled; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown workflow state %q", text)
}

// IsTerminal returns true if no further work happens without a restart.
func (s State) IsTerminal() bool {
	return s == StateSubmitted
}

// transitions lists every legal edge. Anything else is a bug in the coordinator.
//
//	AWAITING_CONSENT → CAPTURING → UPLOADING → AWAITING_TRANSCRIPTION → REVIEWING_BILLING → SUBMITTED
//	                       │            │                                     │
//	                       └────────────┴──────────── FAILED ─────────────────┘
//
// FAILED returns to the state it came from on retry. CANCELLED is reachable
// from every non-terminal state and leads back to AWAITING_CONSENT.
var transitions = map[State][]State{
	StateAwaitingConsent:       {StateCapturing, StateCancelled},
	StateCapturing:             {StateUploading, StateFailed, StateCancelled},
	StateUploading:             {StateAwaitingTranscription, StateFailed, StateCancelled},
	StateAwaitingTranscription: {StateReviewingBilling, StateCancelled},
	StateReviewingBilling:      {StateSubmitted, StateFailed, StateCancelled},
	StateFailed:                {StateCapturing, StateUploading, StateReviewingBilling, StateCancelled},
	StateSubmitted:             {StateAwaitingConsent, StateCancelled},
	StateCancelled:             {StateAwaitingConsent},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RetryAction names the retry affordance offered for a failure.
type RetryAction string

const (
	RetryNone    RetryAction = ""
	RetryCapture RetryAction = "capture"
	RetryUpload  RetryAction = "upload"
	RetrySubmit  RetryAction = "submit"
)

// RetryFor returns the retry affordance for a failure kind.
func RetryFor(kind failure.Kind) RetryAction {
	switch kind {
	case failure.KindDeviceUnavailable:
		return RetryCapture
	case failure.KindUploadRejected:
		return RetryUpload
	case failure.KindSubmissionFailed:
		return RetrySubmit
	default:
		return RetryNone
	}
}

// Transition describes one state change.
type Transition struct {
	SessionID   string
	From        State
	To          State
	FailureKind failure.Kind
	At          time.Time
}

// TransitionCallback is invoked after every state change, in order.
// It must not call mutating Coordinator methods.
type TransitionCallback func(Transition)
