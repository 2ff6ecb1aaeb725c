package muxhandlers

import (
	"net/http"
	"os"

	"github.com/lafkit/laf/mux"
)

// ServerConfig configures the Server middleware behaviour.
type ServerConfig struct {
	// Hostname is the value written to the X-Server-Hostname response
	// header, os.Hostname when empty. Deployments behind a balancer use it
	// to tell which gateway instance answered.
	Hostname string
}

// ServerMiddleware returns a middleware that stamps responses with the
// serving host. The hostname is resolved once at construction.
func ServerMiddleware(cfg ServerConfig) (mux.MiddlewareFunc, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		hostname = h
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Server-Hostname", hostname)
			next.ServeHTTP(w, r)
		})
	}, nil
}
