package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"visit-intake-service/internal/auth"
	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/models"
	"visit-intake-service/internal/schema"
	"visit-intake-service/internal/service/billing"
	"visit-intake-service/internal/service/workflow"
)

type ctxKey int

const encounterKey ctxKey = iota

var errSessionDataNotFound = errors.New("no session data stored")

// sessionData reads and purges the short-lived encounter snapshots.
type sessionData interface {
	Get(ctx context.Context, sessionID string, out any) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

type handler struct {
	registry         *workflow.Registry
	sessions         sessionData
	validator        *schema.Validator
	logger           zerolog.Logger
	maxFragmentBytes int64
}

type createEncounterRequest struct {
	SessionID string `json:"session_id" validate:"notblank"`
	Language  string `json:"language" validate:"omitempty,oneof=fr en"`
}

type consentRequest struct {
	Anonymous bool `json:"anonymous"`
}

type editCodeRequest struct {
	Field string `json:"field" validate:"required,oneof=icd10ca ccp label"`
	Value string `json:"value"`
}

func encounterFrom(r *http.Request) *workflow.Coordinator {
	return r.Context().Value(encounterKey).(*workflow.Coordinator)
}

// loadEncounter requires a bearer token, resolves {id} and refreshes the
// encounter's stored token with it.
func (h *handler) loadEncounter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerFromRequest(r)
		if err != nil {
			writeError(w, err)
			return
		}
		c, err := h.registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := c.UpdateCredential(token); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), encounterKey, c)))
	})
}

func (h *handler) createEncounter(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createEncounterRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	var lang models.Language
	if req.Language != "" {
		lang = models.Language(req.Language)
	}

	c, err := h.registry.Open(models.Session{ID: req.SessionID, Token: token, Language: lang})
	if err != nil {
		writeError(w, err)
		return
	}

	if id := auth.Inspect(token); id.Expired(time.Now()) {
		h.logger.Warn().Str("sessionId", req.SessionID).Str("actor", id.Actor()).Msg("Encounter opened with an expired bearer token")
	}
	writeJSON(w, http.StatusCreated, c.Snapshot())
}

func (h *handler) getEncounter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, encounterFrom(r).Snapshot())
}

// deleteEncounter tears the encounter down and purges its stored snapshot.
func (h *handler) deleteEncounter(w http.ResponseWriter, r *http.Request) {
	id := encounterFrom(r).SessionID()
	if err := h.registry.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("sessionId", id).Msg("Failed to purge session data")
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSessionData returns the last stored snapshot for a session. It outlives
// the in-memory encounter until the store's TTL runs out.
func (h *handler) getSessionData(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.BearerFromRequest(r); err != nil {
		writeError(w, err)
		return
	}

	var snap workflow.Snapshot
	ok, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"), &snap)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errSessionDataNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) recordConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	h.reply(w, encounterFrom(r), func(c *workflow.Coordinator) error {
		return c.RecordConsent(req.Anonymous)
	})
}

func (h *handler) declineConsent(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), (*workflow.Coordinator).Decline)
}

func (h *handler) editCode(w http.ResponseWriter, r *http.Request) {
	index, ok := codeIndex(w, r)
	if !ok {
		return
	}
	var req editCodeRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	field, err := billing.ParseField(req.Field)
	if err != nil {
		writeError(w, err)
		return
	}
	h.reply(w, encounterFrom(r), func(c *workflow.Coordinator) error {
		return c.EditCode(index, field, req.Value)
	})
}

func (h *handler) removeCode(w http.ResponseWriter, r *http.Request) {
	index, ok := codeIndex(w, r)
	if !ok {
		return
	}
	h.reply(w, encounterFrom(r), func(c *workflow.Coordinator) error {
		return c.RemoveCode(index)
	})
}

func (h *handler) submitBilling(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), func(c *workflow.Coordinator) error {
		_, err := c.SubmitBilling(r.Context())
		return err
	})
}

func (h *handler) cancelReview(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), (*workflow.Coordinator).CancelReview)
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), func(c *workflow.Coordinator) error {
		return c.Retry(r.Context())
	})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), (*workflow.Coordinator).Cancel)
}

func (h *handler) restart(w http.ResponseWriter, r *http.Request) {
	h.reply(w, encounterFrom(r), (*workflow.Coordinator).Restart)
}

// reply runs op and answers with the resulting snapshot, or the error.
func (h *handler) reply(w http.ResponseWriter, c *workflow.Coordinator, op func(*workflow.Coordinator) error) {
	if err := op(c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func codeIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, failure.New(failure.KindIndexOutOfRange, "index "+strconv.Quote(raw)+" is not a number"))
		return 0, false
	}
	return index, true
}
