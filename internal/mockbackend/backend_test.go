package mockbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/metrics"
	"visit-intake-service/internal/service/billing"
	"visit-intake-service/internal/service/capture"
	"visit-intake-service/internal/service/upload"
)

func newClients(t *testing.T, b *Backend) (*upload.Submitter, *billing.Client) {
	t.Helper()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	up := upload.NewSubmitter(upload.Config{BaseURL: srv.URL}, upload.WithMetrics(m))
	bc := billing.NewClient(billing.Config{BaseURL: srv.URL}, billing.WithClientMetrics(m))
	return up, bc
}

func TestBackend_TranscribeReturnsCannedEncounter(t *testing.T) {
	b := New()
	up, _ := newClients(t, b)
	sess := models.Session{ID: "s1", Token: "tok", Language: models.LanguageEnglish, Anonymous: true}

	res, err := up.Submit(context.Background(), capture.NewPayload([][]byte{[]byte("b1"), []byte("b2")}), sess)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.HasSuggestions || len(res.BillingSuggestions) != 2 {
		t.Fatalf("expected the first canned encounter, got %+v", res)
	}

	uploads := b.Uploads()
	if len(uploads) != 1 {
		t.Fatalf("expected one recorded upload, got %d", len(uploads))
	}
	got := uploads[0]
	if string(got.Audio) != "b1b2" || got.SessionID != "s1" || got.Language != "en" || got.Anonymous != "true" {
		t.Errorf("unexpected upload: %+v", got)
	}
	if got.ContentType != "audio/webm" {
		t.Errorf("expected audio/webm part, got %s", got.ContentType)
	}
}

func TestBackend_CyclesEncounters(t *testing.T) {
	b := New()
	up, _ := newClients(t, b)
	payload := capture.NewPayload([][]byte{[]byte("x")})

	for i := range DefaultEncounters {
		res, err := up.Submit(context.Background(), payload, models.Session{ID: "s"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if res.ChiefComplaint != DefaultEncounters[i].ChiefComplaint {
			t.Errorf("call %d: expected %q, got %q", i, DefaultEncounters[i].ChiefComplaint, res.ChiefComplaint)
		}
		if res.HasSuggestions != (len(DefaultEncounters[i].Suggestions) > 0) {
			t.Errorf("call %d: unexpected HasSuggestions %v", i, res.HasSuggestions)
		}
	}
}

func TestBackend_InjectedTranscribeFailure(t *testing.T) {
	b := New()
	b.FailNextTranscribe(http.StatusInternalServerError, "server error")
	up, _ := newClients(t, b)
	payload := capture.NewPayload([][]byte{[]byte("x")})

	_, err := up.Submit(context.Background(), payload, models.Session{ID: "s"})
	fe, ok := failure.As(err)
	if !ok || fe.Kind != failure.KindUploadRejected || fe.Status != 500 || strings.TrimSpace(fe.Body) != "server error" {
		t.Fatalf("expected UploadRejected{500, server error}, got %v", err)
	}

	if _, err := up.Submit(context.Background(), payload, models.Session{ID: "s"}); err != nil {
		t.Fatalf("expected the fault to apply once, got %v", err)
	}
}

func TestBackend_SubmitAndPropose(t *testing.T) {
	b := New()
	_, bc := newClients(t, b)
	sess := models.Session{ID: "s1", Token: "tok"}

	codes, err := bc.Propose(context.Background(), sess, DefaultEncounters[1].ClinicalNote)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(codes) != 1 || codes[0].ICD10CA != "M54.5" {
		t.Fatalf("unexpected proposal: %+v", codes)
	}

	res, err := bc.Submit(context.Background(), sess, codes)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != "sent" {
		t.Errorf("expected sent, got %s", res.Status)
	}

	res, err = bc.Submit(context.Background(), sess, nil)
	if err != nil {
		t.Fatalf("submit empty: %v", err)
	}
	if res.Status != "manual_review" {
		t.Errorf("expected manual_review for an empty set, got %s", res.Status)
	}

	subs := b.Submissions()
	if len(subs) != 2 || !subs[0].Confirm || subs[0].SelectedCodes[0].Label != "Low back pain" || subs[1].SelectedCodes == nil {
		t.Errorf("unexpected recorded submissions: %+v", subs)
	}
}

func TestBackend_RejectsBlankCodes(t *testing.T) {
	b := New()
	_, bc := newClients(t, b)

	_, err := bc.Submit(context.Background(), models.Session{ID: "s1"}, []models.BillingCode{{ICD10CA: " ", Label: "x"}})
	if !errors.Is(err, failure.ErrSubmissionFailed) {
		t.Fatalf("expected SubmissionFailed, got %v", err)
	}
	if fe, _ := failure.As(err); fe.Status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", fe.Status)
	}
}

func TestBackend_RequireBearer(t *testing.T) {
	b := New()
	b.RequireBearer = true
	_, bc := newClients(t, b)

	_, err := bc.Submit(context.Background(), models.Session{ID: "s1"}, nil)
	if fe, ok := failure.As(err); !ok || fe.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer, got %v", err)
	}
	if _, err := bc.Submit(context.Background(), models.Session{ID: "s1", Token: "tok"}, nil); err != nil {
		t.Fatalf("expected success with a bearer, got %v", err)
	}
}
