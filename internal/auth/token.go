// Package auth extracts bearer credentials and reads the identity they carry.
//
// Tokens are issued and verified by the backend. This service only forwards
// them and reads the subject for audit attribution, so JWTs are parsed
// without signature verification and opaque tokens are accepted as-is.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidBearer = errors.New("invalid bearer token")
)

// UnknownActor is reported when a token carries no subject.
const UnknownActor = "unknown"

// Identity is what could be read from a bearer token.
type Identity struct {
	Subject   string
	Issuer    string
	Scope     string
	ExpiresAt time.Time
	// Opaque is true when the token is not a JWT.
	Opaque bool
}

// Actor returns the subject for audit records.
func (i Identity) Actor() string {
	if i.Subject == "" {
		return UnknownActor
	}
	return i.Subject
}

// Expired reports whether the token carries an expiry that has passed.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

type claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Inspect reads the claims of a JWT without verifying it.
func Inspect(token string) Identity {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{Opaque: true}
	}
	id := Identity{
		Subject: c.Subject,
		Issuer:  c.Issuer,
		Scope:   c.Scope,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// BearerFromHeader extracts the token from an Authorization header value.
func BearerFromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrMissingBearer
	}
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrInvalidBearer
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrInvalidBearer
	}
	return token, nil
}

// BearerFromRequest extracts the token from the request's Authorization header.
func BearerFromRequest(r *http.Request) (string, error) {
	return BearerFromHeader(r.Header.Get("Authorization"))
}
