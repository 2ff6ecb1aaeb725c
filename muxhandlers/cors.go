package muxhandlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lafkit/laf/mux"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowedOrigins is a list of exact origin strings, or "*" for any
	// origin. Empty allows any origin, the hosted-service default.
	AllowedOrigins []string

	// AllowedHeaders lists the request headers the client may send. Empty
	// reflects whatever the preflight asked for, which covers the LAF-*
	// headers clients set.
	AllowedHeaders []string

	// MaxAge is the duration in seconds a preflight result may be cached.
	// Zero omits the header.
	MaxAge int
}

// CORSMiddleware returns a middleware that answers preflight OPTIONS
// requests and stamps actual responses with the allow-origin headers. The
// allowed methods of a preflight are discovered from the router's route
// table for the requested path.
func CORSMiddleware(router *mux.Router, cfg CORSConfig) mux.MiddlewareFunc {
	allowAny := len(cfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAny = true
			continue
		}
		allowed[strings.ToLower(origin)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !allowAny && !allowed[strings.ToLower(origin)] {
				next.ServeHTTP(w, r)
				return
			}

			if allowAny {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				methods := routeMethods(router, r)
				if len(methods) > 0 {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
				}

				if len(cfg.AllowedHeaders) > 0 {
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
					w.Header().Set("Access-Control-Allow-Headers", requested)
					w.Header().Add("Vary", "Access-Control-Request-Headers")
				}

				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}

				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// routeMethods lists the methods the route table answers for the request
// path.
func routeMethods(router *mux.Router, r *http.Request) []string {
	seen := make(map[string]bool)
	var methods []string

	for _, method := range []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodDelete, http.MethodPatch,
	} {
		probe := r.Clone(r.Context())
		probe.Method = method

		var match mux.RouteMatch
		if router.Match(probe, &match) && !seen[method] {
			seen[method] = true
			methods = append(methods, method)
		}
	}

	return methods
}
