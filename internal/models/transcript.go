package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotJSONObject is returned for a response body that is valid JSON but not an object.
var ErrNotJSONObject = errors.New("transcription result is not a JSON object")

// TranscriptionResult is the transcription service response, kept verbatim.
// Only a handful of display fields and the billing suggestions are decoded.
type TranscriptionResult struct {
	Raw json.RawMessage

	ChiefComplaint     string
	HPI                string
	AssessmentAndPlan  string
	ClinicalNote       string
	BillingSuggestions []BillingCode
	// HasSuggestions is true when the response carried a billing_suggestions field.
	HasSuggestions bool
}

type transcriptionFields struct {
	ChiefComplaint     string          `json:"chief_complaint"`
	HPI                string          `json:"hpi"`
	AssessmentAndPlan  string          `json:"assessment_and_plan"`
	ClinicalNote       string          `json:"clinical_note"`
	BillingSuggestions json.RawMessage `json:"billing_suggestions"`
}

// ParseTranscriptionResult decodes a response body. The body must be a JSON
// object; unknown fields are preserved in Raw.
func ParseTranscriptionResult(body []byte) (*TranscriptionResult, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return nil, fmt.Errorf("decode transcription result: %w", ErrNotJSONObject)
		}
	}
	var f transcriptionFields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode transcription result: %w", err)
	}

	res := &TranscriptionResult{
		Raw:               append(json.RawMessage(nil), body...),
		ChiefComplaint:    f.ChiefComplaint,
		HPI:               f.HPI,
		AssessmentAndPlan: f.AssessmentAndPlan,
		ClinicalNote:      f.ClinicalNote,
	}

	if len(f.BillingSuggestions) > 0 && string(f.BillingSuggestions) != "null" {
		if err := json.Unmarshal(f.BillingSuggestions, &res.BillingSuggestions); err != nil {
			return nil, fmt.Errorf("decode billing_suggestions: %w", err)
		}
		res.HasSuggestions = true
	}
	return res, nil
}

// MarshalJSON emits the original response unchanged.
func (r *TranscriptionResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// UnmarshalJSON reads back what MarshalJSON wrote.
func (r *TranscriptionResult) UnmarshalJSON(data []byte) error {
	parsed, err := ParseTranscriptionResult(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// SubmissionResult is the billing endpoint response, kept verbatim.
type SubmissionResult struct {
	Raw json.RawMessage
	// Status is the backend-reported outcome (sent, manual_review, ...), when present.
	Status string
}

// MarshalJSON emits the original response unchanged.
func (r *SubmissionResult) MarshalJSON() ([]byte, error) {
	if len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

// UnmarshalJSON reads back what MarshalJSON wrote.
func (r *SubmissionResult) UnmarshalJSON(data []byte) error {
	var decoded struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode submission result: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), data...)
	r.Status = decoded.Status
	return nil
}
