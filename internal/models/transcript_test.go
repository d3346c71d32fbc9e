package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTranscriptionResult_ExtractsSuggestions(t *testing.T) {
	body := []byte(`{
		"clinical_note": "note",
		"policy_result": {"flags": []},
		"billing_suggestions": [
			{"icd10ca": "A00", "ccp": "01.01", "label": "Cholera", "confidence": 0.8}
		]
	}`)

	res, err := ParseTranscriptionResult(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasSuggestions {
		t.Fatal("expected HasSuggestions")
	}
	if len(res.BillingSuggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(res.BillingSuggestions))
	}
	got := res.BillingSuggestions[0]
	if got.ICD10CA != "A00" || got.CCP != "01.01" || got.Label != "Cholera" {
		t.Errorf("unexpected suggestion: %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %v", got.Confidence)
	}
	if res.ClinicalNote != "note" {
		t.Errorf("expected clinical note, got %q", res.ClinicalNote)
	}
}

func TestParseTranscriptionResult_PreservesRaw(t *testing.T) {
	body := []byte(`{"text":"bonjour","custom":{"a":1}}`)

	res, err := ParseTranscriptionResult(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasSuggestions {
		t.Error("expected no suggestions")
	}

	out, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != string(body) {
		t.Errorf("expected raw passthrough %s, got %s", body, out)
	}
}

func TestParseTranscriptionResult_NullSuggestions(t *testing.T) {
	res, err := ParseTranscriptionResult([]byte(`{"billing_suggestions": null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasSuggestions {
		t.Error("expected null suggestions to count as absent")
	}
}

func TestParseTranscriptionResult_InvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"garbage", "not json"},
		{"empty", ""},
		{"null", "null"},
		{"padded null", "  null\n"},
		{"array", `[{"clinical_note":"x"}]`},
		{"string", `"note"`},
		{"number", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseTranscriptionResult([]byte(tt.body))
			if err == nil {
				t.Errorf("expected an error, got %+v", res)
			}
		})
	}

	_, err := ParseTranscriptionResult([]byte("null"))
	if !errors.Is(err, ErrNotJSONObject) {
		t.Errorf("expected ErrNotJSONObject for null, got %v", err)
	}
}

func TestBillingCode_OmitsAbsentOptionalFields(t *testing.T) {
	out, err := json.Marshal(BillingCode{ICD10CA: "A01", Label: "Cholera"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"icd10ca":"A01","label":"Cholera"}`
	if string(out) != want {
		t.Errorf("expected %s, got %s", want, out)
	}
}

func TestCloneCodes_DeepCopiesConfidence(t *testing.T) {
	c := 0.5
	orig := []BillingCode{{ICD10CA: "A00", Label: "Cholera", Confidence: &c}}

	cp := CloneCodes(orig)
	*cp[0].Confidence = 0.9
	cp[0].Label = "changed"

	if *orig[0].Confidence != 0.5 || orig[0].Label != "Cholera" {
		t.Error("expected original to be unaffected by clone mutation")
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"", LanguageFrench, false},
		{"fr", LanguageFrench, false},
		{"EN", LanguageEnglish, false},
		{"de", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLanguage(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSession_AnonymousFlag(t *testing.T) {
	if (Session{Anonymous: true}).AnonymousFlag() != "true" {
		t.Error("expected \"true\"")
	}
	if (Session{}).AnonymousFlag() != "false" {
		t.Error("expected \"false\"")
	}
}

func TestTranscriptionResult_ReadsBackStoredForm(t *testing.T) {
	body := []byte(`{"clinical_note":"note","billing_suggestions":[{"icd10ca":"A00","label":"Cholera"}]}`)
	res, err := ParseTranscriptionResult(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	stored, err := json.Marshal(struct {
		T *TranscriptionResult `json:"t"`
		S *SubmissionResult    `json:"s"`
	}{res, &SubmissionResult{Raw: json.RawMessage(`{"status":"manual_review"}`), Status: "manual_review"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back struct {
		T *TranscriptionResult `json:"t"`
		S *SubmissionResult    `json:"s"`
	}
	if err := json.Unmarshal(stored, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.T == nil || back.T.ClinicalNote != "note" || !back.T.HasSuggestions || back.T.BillingSuggestions[0].ICD10CA != "A00" {
		t.Errorf("unexpected transcription: %+v", back.T)
	}
	if back.S == nil || back.S.Status != "manual_review" {
		t.Errorf("unexpected submission: %+v", back.S)
	}
}
