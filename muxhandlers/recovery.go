package muxhandlers

import (
	"net/http"

	"github.com/lafkit/laf/mux"
)

// RecoveryConfig configures the Recovery middleware behaviour.
type RecoveryConfig struct {
	// LogFunc is called with the request and the recovered value when a
	// panic occurs. When nil, nothing is logged.
	LogFunc func(r *http.Request, err any)
}

// RecoveryMiddleware returns a middleware that recovers from panics in
// downstream handlers and answers 500 with a bare error envelope, the body
// shape every other gateway error uses.
func RecoveryMiddleware(cfg RecoveryConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if cfg.LogFunc != nil {
						cfg.LogFunc(r, err)
					}

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"_error": "Internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
