package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls [][]models.BillingCode
	err   error
	res   *models.SubmissionResult
}

func (s *recordingSubmitter) Submit(_ context.Context, _ models.Session, codes []models.BillingCode) (*models.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, codes)
	if s.err != nil {
		return nil, s.err
	}
	if s.res != nil {
		return s.res, nil
	}
	return &models.SubmissionResult{Status: OutcomeSent}, nil
}

func seed() []models.BillingCode {
	return []models.BillingCode{
		{ICD10CA: "A00", Label: "Cholera"},
		{ICD10CA: "B01", Label: "Varicella"},
		{ICD10CA: "C02", Label: "Tongue"},
	}
}

func TestReview_SeedIsCopied(t *testing.T) {
	s := seed()
	r := NewReview(s, &recordingSubmitter{})

	s[0].Label = "mutated"
	if r.Codes()[0].Label != "Cholera" {
		t.Error("expected review to be independent of the seed slice")
	}

	out := r.Codes()
	out[0].Label = "mutated"
	if r.Codes()[0].Label != "Cholera" {
		t.Error("expected Codes to return a copy")
	}
}

func TestReview_EditField(t *testing.T) {
	r := NewReview(seed(), &recordingSubmitter{})

	if err := r.EditField(1, FieldCCP, "08"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := r.EditField(1, FieldLabel, "Chickenpox"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	got := r.Codes()[1]
	if got.CCP != "08" || got.Label != "Chickenpox" || got.ICD10CA != "B01" {
		t.Errorf("unexpected entry after edit: %+v", got)
	}

	for _, idx := range []int{-1, 3} {
		if err := r.EditField(idx, FieldLabel, "x"); !errors.Is(err, failure.ErrIndexOutOfRange) {
			t.Errorf("index %d: expected IndexOutOfRange, got %v", idx, err)
		}
	}
}

func TestReview_RemoveKeepsOrder(t *testing.T) {
	r := NewReview(seed(), &recordingSubmitter{})

	if err := r.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	codes := r.Codes()
	if len(codes) != 2 || codes[0].ICD10CA != "A00" || codes[1].ICD10CA != "C02" {
		t.Errorf("unexpected codes after remove: %+v", codes)
	}

	if err := r.Remove(2); !errors.Is(err, failure.ErrIndexOutOfRange) {
		t.Errorf("expected IndexOutOfRange, got %v", err)
	}

	r.Remove(0)
	r.Remove(0)
	if r.Len() != 0 {
		t.Errorf("expected empty set, got %d", r.Len())
	}
	if err := r.Remove(0); !errors.Is(err, failure.ErrIndexOutOfRange) {
		t.Errorf("expected IndexOutOfRange on empty set, got %v", err)
	}
}

func TestReview_SubmitSendsCurrentSet(t *testing.T) {
	sub := &recordingSubmitter{}
	r := NewReview([]models.BillingCode{{ICD10CA: "A00", Label: "Cholera"}}, sub)

	r.EditField(0, FieldICD10CA, "A01")
	if _, err := r.Submit(context.Background(), models.Session{ID: "s1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(sub.calls) != 1 {
		t.Fatalf("expected one request, got %d", len(sub.calls))
	}
	sent := sub.calls[0]
	if len(sent) != 1 || sent[0].ICD10CA != "A01" || sent[0].CCP != "" || sent[0].Label != "Cholera" {
		t.Errorf("unexpected submitted set: %+v", sent)
	}
	if r.Status() != StatusSubmitted {
		t.Errorf("expected StatusSubmitted, got %v", r.Status())
	}
	if err := r.EditField(0, FieldLabel, "late"); !errors.Is(err, failure.ErrInvalidState) {
		t.Errorf("expected edits after submit to be rejected, got %v", err)
	}
}

func TestReview_SubmitEmptySet(t *testing.T) {
	sub := &recordingSubmitter{}
	r := NewReview(nil, sub)

	if _, err := r.Submit(context.Background(), models.Session{ID: "s1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sub.calls) != 1 || sub.calls[0] == nil || len(sub.calls[0]) != 0 {
		t.Errorf("expected one request with an empty, non-nil set, got %+v", sub.calls)
	}
}

func TestReview_SubmitFailureKeepsSet(t *testing.T) {
	sub := &recordingSubmitter{err: failure.SubmissionFailed(502, "bad gateway", nil)}
	r := NewReview(seed(), sub)

	_, err := r.Submit(context.Background(), models.Session{ID: "s1"})
	if !errors.Is(err, failure.ErrSubmissionFailed) {
		t.Fatalf("expected SubmissionFailed, got %v", err)
	}
	if r.Status() != StatusOpen || r.Len() != 3 {
		t.Errorf("expected open review with 3 codes, got %v with %d", r.Status(), r.Len())
	}

	sub.err = nil
	if _, err := r.Submit(context.Background(), models.Session{ID: "s1"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sub.calls) != 2 || len(sub.calls[1]) != 3 {
		t.Errorf("expected retry to send the same 3 codes, got %+v", sub.calls)
	}
}

func TestReview_SubmitValidatesFirst(t *testing.T) {
	sub := &recordingSubmitter{}
	r := NewReview(seed(), sub)
	r.EditField(0, FieldICD10CA, "")

	_, err := r.Submit(context.Background(), models.Session{ID: "s1"})
	if !errors.Is(err, failure.ErrValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	if len(sub.calls) != 0 {
		t.Errorf("expected no request, got %d", len(sub.calls))
	}
	if r.Status() != StatusOpen {
		t.Errorf("expected review to stay open, got %v", r.Status())
	}
}

func TestReview_CancelSendsNothing(t *testing.T) {
	sub := &recordingSubmitter{}
	r := NewReview(seed(), sub)
	r.Remove(0)

	if err := r.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(sub.calls) != 0 {
		t.Errorf("expected no request, got %d", len(sub.calls))
	}
	if _, err := r.Submit(context.Background(), models.Session{ID: "s1"}); !errors.Is(err, failure.ErrInvalidState) {
		t.Errorf("expected InvalidState after cancel, got %v", err)
	}
	if err := r.Cancel(); !errors.Is(err, failure.ErrInvalidState) {
		t.Errorf("expected second cancel to fail, got %v", err)
	}
}

func TestParseField(t *testing.T) {
	for _, in := range []string{"icd10ca", "CCP", " label "} {
		if _, err := ParseField(in); err != nil {
			t.Errorf("ParseField(%q): %v", in, err)
		}
	}
	if _, err := ParseField("confidence"); !errors.Is(err, failure.ErrInvalidState) {
		t.Errorf("expected confidence to be rejected, got %v", err)
	}
}
