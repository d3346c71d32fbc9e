package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"visit-intake-service/internal/auth"
	"visit-intake-service/internal/failure"
	"visit-intake-service/internal/service/workflow"
)

const maxRequestBytes = 1 << 20

// Error codes for failures that do not come from the workflow itself.
const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeAbandoned    = "ABANDONED"
	codeInternal     = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   string `json:"retry,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// errorResponse maps err to a status and body.
func errorResponse(err error) (int, errorBody) {
	if fe, ok := failure.As(err); ok {
		return failure.HTTPStatus(fe.Kind), errorBody{
			Code:    string(fe.Kind),
			Message: fe.Error(),
			Retry:   string(workflow.RetryFor(fe.Kind)),
		}
	}

	switch {
	case errors.Is(err, auth.ErrMissingBearer), errors.Is(err, auth.ErrInvalidBearer):
		return http.StatusUnauthorized, errorBody{Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, workflow.ErrEncounterNotFound), errors.Is(err, errSessionDataNotFound):
		return http.StatusNotFound, errorBody{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, workflow.ErrEncounterExists):
		return http.StatusConflict, errorBody{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, workflow.ErrInvalidSessionID):
		return http.StatusBadRequest, errorBody{Code: codeBadRequest, Message: err.Error()}
	case errors.Is(err, workflow.ErrAbandoned):
		return http.StatusConflict, errorBody{Code: codeAbandoned, Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: codeInternal, Message: err.Error()}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: codeBadRequest, Message: msg})
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst
// untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
