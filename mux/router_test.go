package mux

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{name: "literal only", template: "/contact"},
		{name: "typed variables", template: "/contact/{pk:string}/phone/{index:int}"},
		{name: "bare variable defaults to string", template: "/contact/{pk}"},
		{name: "uuid macro", template: "/status/{rqid:uuid}"},
		{name: "missing leading slash", template: "contact", wantErr: true},
		{name: "unknown macro", template: "/contact/{pk:blob}", wantErr: true},
		{name: "unnamed variable", template: "/contact/{:int}", wantErr: true},
		{name: "duplicate variable", template: "/{a}/{a}", wantErr: true},
		{name: "stray brace", template: "/con{tact", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTemplate(tt.template)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRouterMatch(t *testing.T) {
	r := NewRouter()
	_, err := r.HandleFunc(http.MethodGet, "/contact/{pk:string}", okHandler)
	require.NoError(t, err)
	_, err = r.HandleFunc(http.MethodGet, "/contact/{pk:string}/phone/{index:int}", okHandler)
	require.NoError(t, err)
	_, err = r.HandleFunc(http.MethodPut, "/contact/{pk:string}", okHandler)
	require.NoError(t, err)
	_, err = r.HandleFunc(http.MethodGet, "/status/{rqid:uuid}", okHandler)
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		matched  bool
		matchErr error
		vars     map[string]string
	}{
		{
			name: "simple variable", method: http.MethodGet, path: "/contact/alice",
			matched: true, vars: map[string]string{"pk": "alice"},
		},
		{
			name: "typed int variable", method: http.MethodGet, path: "/contact/alice/phone/2",
			matched: true, vars: map[string]string{"pk": "alice", "index": "2"},
		},
		{
			name: "int macro rejects non-digits", method: http.MethodGet, path: "/contact/alice/phone/two",
			matched: false, matchErr: ErrNotFound,
		},
		{
			name: "uuid macro", method: http.MethodGet,
			path:    "/status/6f1ed002-ab5c-4b0d-9ae4-9d2f00000001",
			matched: true, vars: map[string]string{"rqid": "6f1ed002-ab5c-4b0d-9ae4-9d2f00000001"},
		},
		{
			name: "uuid macro rejects arbitrary strings", method: http.MethodGet, path: "/status/not-a-uuid",
			matched: false, matchErr: ErrNotFound,
		},
		{
			name: "wrong method on known path", method: http.MethodDelete, path: "/contact/alice",
			matched: false, matchErr: ErrMethodMismatch,
		},
		{
			name: "unknown path", method: http.MethodGet, path: "/nosuch",
			matched: false, matchErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)

			var match RouteMatch
			got := r.Match(req, &match)

			assert.Equal(t, tt.matched, got)
			if tt.matched {
				assert.Equal(t, tt.vars, match.Vars)
			} else {
				assert.Equal(t, tt.matchErr, match.MatchErr)
			}
		})
	}
}

func TestEncodedSlashStaysInOneVariable(t *testing.T) {
	r := NewRouter()
	_, err := r.HandleFunc(http.MethodGet, "/contact/{pk:string}", okHandler)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/contact/alice%2Fhome", nil)

	var match RouteMatch
	require.True(t, r.Match(req, &match))
	assert.Equal(t, "alice/home", match.Vars["pk"])
}

func TestServeHTTP(t *testing.T) {
	r := NewRouter()
	_, err := r.HandleFunc(http.MethodGet, "/contact/{pk:string}", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(Vars(req)["pk"]))
	})
	require.NoError(t, err)
	_, err = r.HandleFunc(http.MethodPut, "/contact/{pk:string}", okHandler)
	require.NoError(t, err)

	t.Run("dispatches with vars", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contact/bob", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bob", rec.Body.String())
	})

	t.Run("404 for unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nosuch", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("405 carries the Allow header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/contact/bob", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, PUT", rec.Header().Get("Allow"))
	})
}

func TestMiddlewareOrder(t *testing.T) {
	var calls []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, req)
			})
		}
	}

	r := NewRouter()
	r.Use(mw("outer"), mw("inner"))
	_, err := r.HandleFunc(http.MethodGet, "/x", func(http.ResponseWriter, *http.Request) {
		calls = append(calls, "handler")
	})
	require.NoError(t, err)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

func TestMiddlewareSkippedOnNoMatch(t *testing.T) {
	var called bool

	r := NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			called = true
			next.ServeHTTP(w, req)
		})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nosuch", nil))

	assert.False(t, called)
}

func TestMiddlewareRunsOnMethodMismatch(t *testing.T) {
	var called bool

	r := NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			called = true
			next.ServeHTTP(w, req)
		})
	})
	_, err := r.HandleFunc(http.MethodGet, "/x", func(http.ResponseWriter, *http.Request) {})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/x", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSetURLVars(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = SetURLVars(req, map[string]string{"pk": "alice"})

	assert.Equal(t, map[string]string{"pk": "alice"}, Vars(req))
}
