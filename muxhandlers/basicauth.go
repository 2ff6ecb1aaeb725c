package muxhandlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/lafkit/laf/mux"
)

// ErrNoAuthSource is returned when BasicAuthConfig has neither ValidateFunc
// nor Credentials configured.
var ErrNoAuthSource = errors.New("basic auth: at least one of ValidateFunc or Credentials must be set")

// BasicAuthConfig configures the Basic Auth middleware behaviour.
type BasicAuthConfig struct {
	// Realm is the authentication realm sent in the WWW-Authenticate
	// header, "Restricted" when empty.
	Realm string

	// ValidateFunc validates credentials dynamically. Takes priority over
	// Credentials when both are set.
	ValidateFunc func(username, password string) bool

	// Credentials is a static map of username to password. Compared with
	// SHA-256 hashed constant-time comparison.
	Credentials map[string]string
}

// BasicAuthMiddleware returns a middleware that authenticates requests with
// HTTP Basic Authentication and exposes the authenticated username as the
// REMOTE_USER request header, where the request pipeline reads the caller
// identity.
func BasicAuthMiddleware(cfg BasicAuthConfig) (mux.MiddlewareFunc, error) {
	if cfg.ValidateFunc == nil && len(cfg.Credentials) == 0 {
		return nil, ErrNoAuthSource
	}

	realm := cfg.Realm
	if realm == "" {
		realm = "Restricted"
	}
	wwwAuthenticate := fmt.Sprintf("Basic realm=%q", realm)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || !authenticate(cfg, username, password) {
				w.Header().Set("WWW-Authenticate", wwwAuthenticate)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"_error": "Unauthorized"}`))
				return
			}

			r.Header.Set("REMOTE_USER", username)
			next.ServeHTTP(w, r)
		})
	}, nil
}

func authenticate(cfg BasicAuthConfig, username, password string) bool {
	if cfg.ValidateFunc != nil {
		return cfg.ValidateFunc(username, password)
	}

	expected, exists := cfg.Credentials[username]
	// Always compare so a missing username costs the same as a wrong
	// password.
	match := constantTimeEqual(password, expected)
	return exists && match
}

func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
