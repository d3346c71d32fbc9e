package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/metrics"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url, Timeout: 5 * time.Second},
		WithClientMetrics(metrics.NewMetrics(prometheus.NewRegistry())))
}

func TestClient_SubmitRequestBody(t *testing.T) {
	var body []byte
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"sent","claim_id":"c-1"}`))
	}))
	defer srv.Close()

	r := NewReview([]models.BillingCode{{ICD10CA: "A00", Label: "Cholera"}}, newTestClient(srv.URL))
	r.EditField(0, FieldICD10CA, "A01")

	res, err := r.Submit(context.Background(), models.Session{ID: "s1", Token: "tok", Language: models.LanguageFrench})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if path != "/billing/submit" || auth != "Bearer tok" {
		t.Errorf("unexpected request: path=%s auth=%q", path, auth)
	}

	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got := string(req["selected_codes"]); got != `[{"icd10ca":"A01","label":"Cholera"}]` {
		t.Errorf("unexpected selected_codes: %s", got)
	}
	if string(req["session_id"]) != `"s1"` || string(req["confirm"]) != "true" || string(req["language"]) != `"fr"` {
		t.Errorf("unexpected envelope: %s", body)
	}

	if res.Status != OutcomeSent {
		t.Errorf("expected status sent, got %q", res.Status)
	}
	out, _ := json.Marshal(res)
	if !bytes.Equal(out, []byte(`{"status":"sent","claim_id":"c-1"}`)) {
		t.Errorf("expected raw response to be preserved, got %s", out)
	}
}

func TestClient_SubmitFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantStatus: 500},
		{name: "forbidden outcome", status: http.StatusOK, body: `{"status":"forbidden"}`, wantStatus: 200},
		{name: "failed outcome", status: http.StatusOK, body: `{"status":"failed","error":"timeout"}`, wantStatus: 200},
		{name: "not json", status: http.StatusOK, body: "<html>", wantStatus: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).Submit(context.Background(), models.Session{ID: "s1"}, nil)
			fe, ok := failure.As(err)
			if !ok || fe.Kind != failure.KindSubmissionFailed {
				t.Fatalf("expected SubmissionFailed, got %v", err)
			}
			if fe.Status != tt.wantStatus || fe.Body != tt.body {
				t.Errorf("expected {%d, %q}, got {%d, %q}", tt.wantStatus, tt.body, fe.Status, fe.Body)
			}
		})
	}
}

func TestClient_SubmitManualReviewIsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"manual_review"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Submit(context.Background(), models.Session{ID: "s1"}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != OutcomeManualReview {
		t.Errorf("expected manual_review, got %q", res.Status)
	}
}

func TestClient_SubmitSendsEmptyArray(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"sent"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Submit(context.Background(), models.Session{ID: "s1"}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !bytes.Contains(body, []byte(`"selected_codes":[]`)) {
		t.Errorf("expected empty array, got %s", body)
	}
}

func TestClient_Propose(t *testing.T) {
	var req proposeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/billing/propose" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"suggestions":[{"icd10ca":"J06.9","label":"URI","confidence":0.9}],"message":"ok"}`))
	}))
	defer srv.Close()

	codes, err := newTestClient(srv.URL).Propose(context.Background(),
		models.Session{ID: "s1", Language: models.LanguageEnglish}, "sore throat")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(codes) != 1 || codes[0].ICD10CA != "J06.9" || codes[0].Confidence == nil || *codes[0].Confidence != 0.9 {
		t.Errorf("unexpected suggestions: %+v", codes)
	}
	if req.SessionID != "s1" || req.ClinicalNote != "sore throat" || req.Language != models.LanguageEnglish {
		t.Errorf("unexpected propose request: %+v", req)
	}
}

func TestClient_ProposeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Propose(context.Background(), models.Session{ID: "s1"}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, failure.ErrSubmissionFailed) {
		t.Error("expected a proposal failure not to be reported as a submission failure")
	}
}
