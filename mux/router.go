package mux

import (
	"net/http"
	"sort"
	"strings"
)

// Router registers typed-template routes and dispatches the handler of the
// matching one.
//
// It implements the http.Handler interface, so it can be registered to serve
// requests:
//
//	r := mux.NewRouter()
//	r.HandleFunc(http.MethodGet, "/contact/{pk:string}", handler)
//	http.ListenAndServe(":8080", r)
type Router struct {
	// NotFoundHandler is called when no route matches.
	// If nil, http.NotFoundHandler() is used.
	// Corresponds to 404 Not Found per RFC 7231 Section 6.5.4.
	NotFoundHandler http.Handler

	// MethodNotAllowedHandler is called when a route matches the path
	// but not the method. If nil, a default 405 handler is used.
	// Per RFC 7231 Section 6.5.5, the Allow header is always set before
	// this handler is invoked.
	MethodNotAllowedHandler http.Handler

	routes      []*Route
	middlewares []MiddlewareFunc
}

// NewRouter returns a new router instance.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a handler for the given method and template.
func (r *Router) Handle(method, template string, handler http.Handler) (*Route, error) {
	segments, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	route := &Route{
		method:   strings.ToUpper(method),
		template: template,
		segments: segments,
		handler:  handler,
	}
	r.routes = append(r.routes, route)

	return route, nil
}

// HandleFunc registers a handler function for the given method and template.
func (r *Router) HandleFunc(method, template string, f func(http.ResponseWriter, *http.Request)) (*Route, error) {
	return r.Handle(method, template, http.HandlerFunc(f))
}

// Use appends middleware to the chain. Middleware is applied to matched
// handlers and to the method-mismatch handler, outermost first.
func (r *Router) Use(mwf ...MiddlewareFunc) {
	r.middlewares = append(r.middlewares, mwf...)
}

// ServeHTTP dispatches the handler registered in the matched route.
// Implements http.Handler per RFC 7230 Section 3.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var match RouteMatch
	var handler http.Handler

	if r.Match(req, &match) {
		handler = r.applyMiddleware(match.Handler)
		req = setRouteContext(req, match.Route, match.Vars)
	} else if match.MatchErr == ErrMethodMismatch {
		// RFC 7231 Section 6.5.5: the origin server MUST generate an
		// Allow header field in a 405 response.
		w.Header().Set("Allow", strings.Join(r.allowedMethods(req), ", "))
		handler = r.MethodNotAllowedHandler
		if handler == nil {
			handler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
			})
		}
		// Middleware still runs on method mismatch so CORS preflights
		// for unregistered OPTIONS methods are answered.
		handler = r.applyMiddleware(handler)
	} else {
		handler = r.NotFoundHandler
		if handler == nil {
			handler = http.NotFoundHandler()
		}
	}

	handler.ServeHTTP(w, req)
}

// Match attempts to match the given request against the router's routes.
// Distinguishes between 404 Not Found (RFC 7231 Section 6.5.4) and
// 405 Method Not Allowed (RFC 7231 Section 6.5.5) by tracking method
// mismatches independently across route iteration.
func (r *Router) Match(req *http.Request, match *RouteMatch) bool {
	parts := splitPath(encodedPath(req.URL))

	var methodNotAllowed bool
	for _, route := range r.routes {
		if route.match(req.Method, parts, match) {
			return true
		}
		if match.MatchErr == ErrMethodMismatch {
			methodNotAllowed = true
		}
	}

	if methodNotAllowed {
		match.MatchErr = ErrMethodMismatch
		return false
	}

	match.MatchErr = ErrNotFound
	return false
}

// allowedMethods returns the sorted set of methods registered for routes
// whose template matches the request path.
func (r *Router) allowedMethods(req *http.Request) []string {
	parts := splitPath(encodedPath(req.URL))

	set := make(map[string]bool)
	for _, route := range r.routes {
		var match RouteMatch
		if route.match(route.method, parts, &match) {
			set[route.method] = true
		}
	}

	methods := make([]string, 0, len(set))
	for method := range set {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	return methods
}

func (r *Router) applyMiddleware(handler http.Handler) http.Handler {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i].Middleware(handler)
	}
	return handler
}

// Routes returns every registered route, in registration order.
func (r *Router) Routes() []*Route {
	return r.routes
}

func splitPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}
