// Package failure defines the typed failure kinds surfaced by the intake workflow.
//
// Every operation of the workflow returns either a result or a *Error carrying
// one of the kinds below. Callers branch on the kind with errors.Is against the
// sentinel values or with KindOf.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable failure code.
type Kind string

const (
	// KindConsentRequired: capture was requested without affirmative consent.
	KindConsentRequired Kind = "CONSENT_REQUIRED"
	// KindInvalidState: the operation is not legal in the current state.
	KindInvalidState Kind = "INVALID_STATE"
	// KindDeviceUnavailable: the capture device was denied or could not be opened.
	KindDeviceUnavailable Kind = "DEVICE_UNAVAILABLE"
	// KindUploadRejected: the transcription endpoint refused the audio payload.
	KindUploadRejected Kind = "UPLOAD_REJECTED"
	// KindIndexOutOfRange: a billing edit or removal addressed a missing entry.
	KindIndexOutOfRange Kind = "INDEX_OUT_OF_RANGE"
	// KindSubmissionFailed: the billing endpoint refused the working code set.
	KindSubmissionFailed Kind = "SUBMISSION_FAILED"
	// KindValidationFailed: the working code set has a malformed entry.
	KindValidationFailed Kind = "VALIDATION_FAILED"
)

var retryableKinds = map[Kind]bool{
	KindDeviceUnavailable: true,
	KindUploadRejected:    true,
	KindSubmissionFailed:  true,
}

var httpStatuses = map[Kind]int{
	KindConsentRequired:   http.StatusPreconditionFailed,
	KindInvalidState:      http.StatusConflict,
	KindDeviceUnavailable: http.StatusServiceUnavailable,
	KindUploadRejected:    http.StatusBadGateway,
	KindIndexOutOfRange:   http.StatusBadRequest,
	KindSubmissionFailed:  http.StatusBadGateway,
	KindValidationFailed:  http.StatusUnprocessableEntity,
}

// Retryable reports whether a failure of this kind can be recovered by a
// user-triggered retry of the same operation.
func Retryable(k Kind) bool {
	return retryableKinds[k]
}

// HTTPStatus returns the status code the presentation API answers with.
func HTTPStatus(k Kind) int {
	if s, ok := httpStatuses[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed workflow failure.
type Error struct {
	Kind    Kind
	Message string
	// Status and Body are set for remote rejections (upload, submission).
	Status int
	Body   string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether this failure can be retried by the user.
func (e *Error) Retryable() bool { return Retryable(e.Kind) }

// Sentinels for errors.Is checks.
var (
	ErrConsentRequired   = &Error{Kind: KindConsentRequired, Message: "consent required before capture"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "operation not allowed in current state"}
	ErrDeviceUnavailable = &Error{Kind: KindDeviceUnavailable, Message: "capture device unavailable"}
	ErrUploadRejected    = &Error{Kind: KindUploadRejected, Message: "upload rejected"}
	ErrIndexOutOfRange   = &Error{Kind: KindIndexOutOfRange, Message: "index out of range"}
	ErrSubmissionFailed  = &Error{Kind: KindSubmissionFailed, Message: "billing submission failed"}
	ErrValidationFailed  = &Error{Kind: KindValidationFailed, Message: "billing codes failed validation"}
)

// New creates a failure of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// InvalidState reports an operation attempted from the wrong state.
func InvalidState(op, state string) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf("%s not allowed in state %s", op, state)}
}

// DeviceUnavailable wraps a device acquisition error.
func DeviceUnavailable(cause error) *Error {
	return &Error{Kind: KindDeviceUnavailable, Message: "capture device unavailable", Cause: cause}
}

// UploadRejected builds a remote upload rejection carrying the response verbatim.
func UploadRejected(status int, body string, cause error) *Error {
	return &Error{Kind: KindUploadRejected, Message: "upload rejected", Status: status, Body: body, Cause: cause}
}

// IndexOutOfRange reports a billing edit addressing a missing entry.
func IndexOutOfRange(index, length int) *Error {
	return &Error{Kind: KindIndexOutOfRange, Message: fmt.Sprintf("index %d out of range [0,%d)", index, length)}
}

// SubmissionFailed builds a remote billing rejection.
func SubmissionFailed(status int, body string, cause error) *Error {
	return &Error{Kind: KindSubmissionFailed, Message: "billing submission failed", Status: status, Body: body, Cause: cause}
}

// ValidationFailed reports malformed billing codes.
func ValidationFailed(message string) *Error {
	return &Error{Kind: KindValidationFailed, Message: message}
}

// KindOf returns the failure kind carried by err, or "" when err is not a
// workflow failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// As extracts the *Error carried by err.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
