// Package billing holds the clinician's working set of billing codes and
// submits the confirmed set to the billing backend.
package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/schema"
)

// Field names an editable attribute of a billing code.
type Field string

const (
	FieldICD10CA Field = "icd10ca"
	FieldCCP     Field = "ccp"
	FieldLabel   Field = "label"
)

// ParseField maps a wire field name to a Field.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldICD10CA, FieldCCP, FieldLabel:
		return f, nil
	default:
		return "", failure.New(failure.KindInvalidState, fmt.Sprintf("field %q is not editable", s))
	}
}

// Status is the lifecycle of a review.
type Status int

const (
	StatusOpen Status = iota
	StatusSubmitting
	StatusSubmitted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusSubmitting:
		return "SUBMITTING"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Submitter sends a confirmed code set.
type Submitter interface {
	Submit(ctx context.Context, sess models.Session, codes []models.BillingCode) (*models.SubmissionResult, error)
}

// ReviewOption configures a Review.
type ReviewOption func(*Review)

// WithValidator overrides the code validator.
func WithValidator(v *schema.Validator) ReviewOption {
	return func(r *Review) { r.validator = v }
}

// WithReviewLogger sets the review logger.
func WithReviewLogger(l zerolog.Logger) ReviewOption {
	return func(r *Review) { r.logger = l }
}

// Review is the editable working set for one encounter. Edits stay local
// until Submit, which sends the whole set in one request.
type Review struct {
	submitter Submitter
	validator *schema.Validator
	logger    zerolog.Logger

	mu     sync.Mutex
	codes  []models.BillingCode
	status Status
	result *models.SubmissionResult
}

// NewReview seeds a review with a copy of the suggestions.
func NewReview(seed []models.BillingCode, submitter Submitter, opts ...ReviewOption) *Review {
	r := &Review{
		submitter: submitter,
		logger:    logging.WithComponent("billing"),
		codes:     models.CloneCodes(seed),
		status:    StatusOpen,
	}
	for _, o := range opts {
		o(r)
	}
	if r.validator == nil {
		r.validator = schema.New()
	}
	return r
}

// Codes returns a copy of the working set.
func (r *Review) Codes() []models.BillingCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.CloneCodes(r.codes)
}

// Len returns the number of codes in the working set.
func (r *Review) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// Status returns the review lifecycle status.
func (r *Review) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the accepted submission result, if any.
func (r *Review) Result() *models.SubmissionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// EditField replaces one field of the entry at index.
func (r *Review) EditField(index int, field Field, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusOpen {
		return failure.InvalidState("billing edit", r.status.String())
	}
	if index < 0 || index >= len(r.codes) {
		return failure.IndexOutOfRange(index, len(r.codes))
	}

	switch field {
	case FieldICD10CA:
		r.codes[index].ICD10CA = value
	case FieldCCP:
		r.codes[index].CCP = value
	case FieldLabel:
		r.codes[index].Label = value
	default:
		return failure.New(failure.KindInvalidState, fmt.Sprintf("field %q is not editable", field))
	}
	return nil
}

// Remove deletes the entry at index, keeping the relative order of the rest.
func (r *Review) Remove(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusOpen {
		return failure.InvalidState("billing remove", r.status.String())
	}
	if index < 0 || index >= len(r.codes) {
		return failure.IndexOutOfRange(index, len(r.codes))
	}
	r.codes = append(r.codes[:index], r.codes[index+1:]...)
	return nil
}

// Cancel discards the working set without contacting the backend. A submit
// already in flight is abandoned; its outcome is ignored.
func (r *Review) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case StatusOpen, StatusSubmitting:
		r.status = StatusCancelled
		r.codes = nil
		return nil
	default:
		return failure.InvalidState("billing cancel", r.status.String())
	}
}

// Submit validates the working set and sends exactly that set in one request.
// A failed submission leaves the review open with its contents intact so the
// same set can be submitted again.
func (r *Review) Submit(ctx context.Context, sess models.Session) (*models.SubmissionResult, error) {
	r.mu.Lock()
	if r.status != StatusOpen {
		st := r.status
		r.mu.Unlock()
		return nil, failure.InvalidState("billing submit", st.String())
	}
	if err := r.validator.Codes(r.codes); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	snapshot := models.CloneCodes(r.codes)
	r.status = StatusSubmitting
	r.mu.Unlock()

	res, err := r.submitter.Submit(ctx, sess, snapshot)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusSubmitting {
		return nil, failure.InvalidState("billing submit", r.status.String())
	}
	if err != nil {
		r.status = StatusOpen
		return nil, err
	}
	r.status = StatusSubmitted
	r.result = res
	r.logger.Debug().Str("sessionId", sess.ID).Int("codes", len(snapshot)).Msg("Billing review submitted")
	return res, nil
}
