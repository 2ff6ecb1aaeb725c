// Package gateway hosts a family as an HTTP service: it compiles the
// family's OpenAPI specs into routes, validates and authorizes each request,
// dispatches it to the worker fabric and shapes the response.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/mux"
	"github.com/lafkit/laf/openapi"
	"github.com/lafkit/laf/request"
)

// Dispatcher sends one envelope to the worker fabric.
type Dispatcher interface {
	Do(ctx context.Context, env *request.Envelope) (*request.Result, error)
}

// Authorizer asks the authorization service for a decision.
type Authorizer interface {
	Authorize(ctx context.Context, req *request.Request, version string) (map[string]any, error)
	OBOAuthorize(ctx context.Context, req *request.Request, version string) (map[string]any, error)
}

// RequestValidator sends the assembled request to the family's validation
// service, which may rewrite or reject it.
type RequestValidator interface {
	Validate(ctx context.Context, reqData map[string]any) (map[string]any, error)
}

// StatusReader reads the journal state of a long-running request.
type StatusReader interface {
	Status(ctx context.Context, rqid string) (any, int, error)
}

// Identity is the authenticated caller of one request.
type Identity struct {
	User string
	Host string
}

// Authenticator extracts the caller identity from a request. The default
// trusts the REMOTE_USER header a fronting authenticator sets and takes the
// host from the peer address.
type Authenticator func(r *http.Request) Identity

func defaultAuthenticator(r *http.Request) Identity {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return Identity{User: r.Header.Get("REMOTE_USER"), Host: host}
}

// boundOp is one operation of one spec version, bound to a route.
type boundOp struct {
	op      *openapi.Operation
	spec    *openapi.Spec
	version string
}

// acceptSet is the version table of one route: which operation answers each
// Accept media type, and which one takes */* reads.
type acceptSet struct {
	byMime   map[string]*boundOp
	wildcard *boundOp
}

// App is the hosted family service.
type App struct {
	cfg       *family.Config
	router    *mux.Router
	dispatch  Dispatcher
	auth      Authorizer
	validator RequestValidator
	status    StatusReader
	authn     Authenticator
	log       *slog.Logger
}

// Option configures an App.
type Option func(*App)

// WithAuthorizer enables the authorization hook.
func WithAuthorizer(a Authorizer) Option {
	return func(app *App) { app.auth = a }
}

// WithRequestValidator enables the family validation hook.
func WithRequestValidator(v RequestValidator) Option {
	return func(app *App) { app.validator = v }
}

// WithStatusReader enables the /status endpoint against the journal.
func WithStatusReader(s StatusReader) Option {
	return func(app *App) { app.status = s }
}

// WithAuthenticator replaces the identity extractor.
func WithAuthenticator(a Authenticator) Option {
	return func(app *App) { app.authn = a }
}

// WithLogger sets the app's logger.
func WithLogger(log *slog.Logger) Option {
	return func(app *App) { app.log = log }
}

// New builds the service: every spec version of every lone under the family
// base directory becomes a set of routes, answering the media types its spec
// declares. The latest version of each lone additionally takes */* reads.
func New(cfg *family.Config, dispatch Dispatcher, opts ...Option) (*App, error) {
	app := &App{
		cfg:      cfg,
		router:   mux.NewRouter(),
		dispatch: dispatch,
		authn:    defaultAuthenticator,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if _, err := app.router.HandleFunc(http.MethodGet, "/status/{rqid:uuid}", app.handleStatus); err != nil {
		return nil, err
	}

	// Docs routes go in before the spec routes so /<lone>/_docs is not
	// swallowed by /<lone>/{primary_key}.
	lones, err := openapi.Lones(cfg.BaseDir, cfg.Family)
	if err != nil {
		return nil, err
	}
	for _, lone := range lones {
		if err := app.installDocs(lone); err != nil {
			return nil, err
		}
	}

	if err := app.installSpecs(); err != nil {
		return nil, err
	}

	return app, nil
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Router exposes the route table for middleware registration.
func (a *App) Router() *mux.Router {
	return a.router
}

func (a *App) installSpecs() error {
	files, err := openapi.Files(a.cfg.BaseDir, a.cfg.Family)
	if err != nil {
		return err
	}

	sets := make(map[string]*acceptSet)
	latest := make(map[string]string)

	for _, name := range files {
		spec, err := openapi.LoadFile(openapi.Dir(a.cfg.BaseDir), a.cfg.Family, name)
		if err != nil {
			return err
		}

		if _, ok := latest[spec.Lone]; !ok {
			// Files come latest first, so the first file of a lone is its
			// latest version.
			latest[spec.Lone] = spec.Version
		}

		ops, err := spec.Operations()
		if err != nil {
			return err
		}

		bound := make([]*boundOp, len(ops))
		for i, op := range ops {
			bound[i] = &boundOp{op: op, spec: spec, version: "v" + spec.MajorVersion()}
		}

		for _, b := range bound {
			key := b.op.Method + " " + b.op.RouteTemplate
			set, ok := sets[key]
			if !ok {
				set = &acceptSet{byMime: make(map[string]*boundOp)}
				sets[key] = set
				if _, err := a.router.Handle(b.op.Method, b.op.RouteTemplate, a.serveOperation(set)); err != nil {
					return fmt.Errorf("gateway: route %s: %w", key, err)
				}
			}
			for _, mediaType := range spec.MediaTypes() {
				if _, taken := set.byMime[mediaType]; !taken {
					set.byMime[mediaType] = b
				}
			}
			if spec.Version == latest[spec.Lone] && b.op.Method == http.MethodGet && set.wildcard == nil {
				set.wildcard = b
			}
		}
	}

	return nil
}

// installDocs registers /<lone>/_docs and /<lone>/_static/<file>: the doc
// page and the raw spec files it loads.
func (a *App) installDocs(lone string) error {
	latest, err := openapi.LatestFile(a.cfg.BaseDir, a.cfg.Family, lone)
	if err != nil {
		return err
	}

	docsPath := "/" + lone + "/_docs"
	staticPath := "/" + lone + "/_static/{filename}"
	title := fmt.Sprintf("%s %s resource", openapi.FamilyPrefix(a.cfg.Family), lone)

	_, err = a.router.HandleFunc(http.MethodGet, docsPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, docsPage, title, "/"+lone+"/_static/"+latest)
	})
	if err != nil {
		return err
	}

	_, err = a.router.HandleFunc(http.MethodGet, staticPath, func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(mux.Vars(r)["filename"])
		path := filepath.Join(openapi.Dir(a.cfg.BaseDir), name)
		if !strings.HasPrefix(name, "vnd.") {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, path)
	})
	return err
}

const docsPage = `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%[1]s</h1>
<p>OpenAPI specification: <a href="%[2]s">%[2]s</a></p>
</body>
</html>
`
