package muxhandlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lafkit/laf/mux"
)

type requestIDKey struct{}

// RequestIDFromContext returns the transaction id stored in the context by
// RequestIDMiddleware, empty when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}

	return ""
}

// RequestIDConfig configures the Request ID middleware behaviour.
type RequestIDConfig struct {
	// HeaderName overrides the propagation header, "LAF-TX-ID" when empty.
	HeaderName string

	// TrustIncoming reuses the id a caller supplied in the header instead
	// of generating a fresh one. Clients send their transaction id this
	// way, so the gateway enables it.
	TrustIncoming bool
}

// RequestIDMiddleware returns a middleware that generates or propagates the
// transaction id header. The id is set on both the request, for the request
// pipeline, and the response, for the caller.
func RequestIDMiddleware(cfg RequestIDConfig) mux.MiddlewareFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "LAF-TX-ID"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if cfg.TrustIncoming {
				id = r.Header.Get(headerName)
			}
			if id == "" {
				id = uuid.New().String()
			}

			r.Header.Set(headerName, id)
			w.Header().Set(headerName, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			next.ServeHTTP(w, r)
		})
	}
}
