// Package mockbackend serves canned transcription and billing endpoints, so
// the intake service can run end to end without the clinical backend.
// Each transcription cycles through a fixed set of simulated encounters.
package mockbackend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"visit-intake-service/internal/auth"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/observability/logging"
	"visit-intake-service/internal/schema"
)

const maxUploadBytes = 64 << 20

// SimulatedEncounter is one canned transcription response.
type SimulatedEncounter struct {
	ChiefComplaint    string
	HPI               string
	AssessmentAndPlan string
	ClinicalNote      string
	Suggestions       []models.BillingCode
}

// DefaultEncounters provides sample encounters for simulation.
var DefaultEncounters = []SimulatedEncounter{
	{
		ChiefComplaint:    "Toux et fièvre depuis trois jours",
		HPI:               "Patient de 42 ans, toux productive, fièvre à 38,5 °C.",
		AssessmentAndPlan: "Bronchite aiguë probable. Traitement symptomatique.",
		ClinicalNote:      "Bronchite aiguë. Repos, hydratation, réévaluation si dyspnée.",
		Suggestions: []models.BillingCode{
			{ICD10CA: "J20.9", Label: "Bronchite aiguë, sans précision"},
			{ICD10CA: "R50.9", Label: "Fièvre, sans précision"},
		},
	},
	{
		ChiefComplaint:    "Lower back pain after lifting",
		HPI:               "Onset two days ago, no radiation, no neurological deficit.",
		AssessmentAndPlan: "Mechanical low back pain. NSAIDs and activity as tolerated.",
		ClinicalNote:      "Mechanical low back pain, conservative management.",
		Suggestions: []models.BillingCode{
			{ICD10CA: "M54.5", Label: "Low back pain"},
		},
	},
	{
		ChiefComplaint:    "Suivi de diabète de type 2",
		HPI:               "Glycémies stables, HbA1c 7,1 %.",
		AssessmentAndPlan: "Poursuite du traitement actuel.",
		ClinicalNote:      "Diabète de type 2 équilibré.",
	},
}

// Upload is a recorded /transcribe request.
type Upload struct {
	SessionID   string
	Language    string
	Anonymous   string
	ContentType string
	Audio       []byte
}

// Submission is a recorded /billing/submit request.
type Submission struct {
	SessionID     string               `json:"session_id" validate:"notblank"`
	SelectedCodes []models.BillingCode `json:"selected_codes" validate:"dive"`
	Confirm       bool                 `json:"confirm"`
	Language      string               `json:"language"`
}

type fault struct {
	status int
	body   string
}

// Backend is the canned backend. It is safe for concurrent use.
type Backend struct {
	// RequireBearer rejects requests without an Authorization bearer.
	RequireBearer bool

	validator *schema.Validator
	logger    zerolog.Logger

	mu             sync.Mutex
	next           int
	uploads        []Upload
	submissions    []Submission
	transcribeFail []fault
	submitFail     []fault
}

// New creates a backend.
func New() *Backend {
	return &Backend{
		validator: schema.New(),
		logger:    logging.WithComponent("mockbackend"),
	}
}

// FailNextTranscribe makes the next /transcribe call answer with status and body.
func (b *Backend) FailNextTranscribe(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcribeFail = append(b.transcribeFail, fault{status, body})
}

// FailNextSubmit makes the next /billing/submit call answer with status and body.
func (b *Backend) FailNextSubmit(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitFail = append(b.submitFail, fault{status, body})
}

// Uploads returns the recorded transcription uploads.
func (b *Backend) Uploads() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload(nil), b.uploads...)
}

// Submissions returns the recorded billing submissions.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.submissions...)
}

// Handler returns the backend's routes.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if b.RequireBearer {
		r.Use(requireBearer)
	}
	r.Post("/transcribe", b.transcribe)
	r.Post("/billing/submit", b.submit)
	r.Post("/billing/propose", b.propose)
	return r
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.BearerFromRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) popFault(queue *[]fault) (fault, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(*queue) == 0 {
		return fault{}, false
	}
	f := (*queue)[0]
	*queue = (*queue)[1:]
	return f, true
}

func (b *Backend) transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "missing audio part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read audio: "+err.Error(), http.StatusBadRequest)
		return
	}

	up := Upload{
		SessionID:   r.FormValue("session"),
		Language:    r.FormValue("language"),
		Anonymous:   r.FormValue("anonymous"),
		ContentType: header.Header.Get("Content-Type"),
		Audio:       audio,
	}

	if f, ok := b.popFault(&b.transcribeFail); ok {
		b.logger.Info().Str("sessionId", up.SessionID).Int("status", f.status).Msg("Injected transcription failure")
		http.Error(w, f.body, f.status)
		return
	}

	b.mu.Lock()
	b.uploads = append(b.uploads, up)
	enc := DefaultEncounters[b.next%len(DefaultEncounters)]
	b.next++
	b.mu.Unlock()

	b.logger.Info().
		Str("sessionId", up.SessionID).
		Int("bytes", len(audio)).
		Str("language", up.Language).
		Msg("Transcription request")

	resp := map[string]any{
		"session_id":          up.SessionID,
		"chief_complaint":     enc.ChiefComplaint,
		"hpi":                 enc.HPI,
		"assessment_and_plan": enc.AssessmentAndPlan,
		"clinical_note":       enc.ClinicalNote,
	}
	if len(enc.Suggestions) > 0 {
		resp["billing_suggestions"] = enc.Suggestions
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) submit(w http.ResponseWriter, r *http.Request) {
	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := b.validator.Struct(sub); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if !sub.Confirm {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "message": "submission not confirmed"})
		return
	}

	if f, ok := b.popFault(&b.submitFail); ok {
		b.logger.Info().Str("sessionId", sub.SessionID).Int("status", f.status).Msg("Injected billing failure")
		http.Error(w, f.body, f.status)
		return
	}

	b.mu.Lock()
	b.submissions = append(b.submissions, sub)
	b.mu.Unlock()

	status := "sent"
	if len(sub.SelectedCodes) == 0 {
		status = "manual_review"
	}
	b.logger.Info().Str("sessionId", sub.SessionID).Int("codes", len(sub.SelectedCodes)).Str("status", status).Msg("Billing submission")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"session_id": sub.SessionID,
		"codes":      len(sub.SelectedCodes),
	})
}

type proposeRequest struct {
	SessionID    string `json:"session_id" validate:"notblank"`
	ClinicalNote string `json:"clinical_note"`
	Language     string `json:"language"`
}

func (b *Backend) propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := b.validator.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	for _, enc := range DefaultEncounters {
		if enc.ClinicalNote == req.ClinicalNote && len(enc.Suggestions) > 0 {
			writeJSON(w, http.StatusOK, map[string]any{"suggestions": enc.Suggestions})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": []models.BillingCode{},
		"message":     "no automatic suggestions, select codes manually",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
