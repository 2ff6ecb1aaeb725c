package mux

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// varMatcher validates a single route variable value.
// *regexp.Regexp satisfies this interface.
type varMatcher interface {
	MatchString(string) bool
}

// matchAny accepts every non-empty segment. Used for the string macro, which
// has no lexical constraint of its own.
type matchAny struct{}

func (matchAny) MatchString(s string) bool { return s != "" }

// typeMacros maps the variable type macros usable in route templates to their
// pre-compiled validation matchers. Matching happens on the still-encoded
// segment, so the string macro must admit percent escapes.
var typeMacros = map[string]varMatcher{
	"int":    regexp.MustCompile(`^[0-9]+$`),
	"float":  regexp.MustCompile(`^[0-9]*\.?[0-9]+$`),
	"uuid":   regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
	"string": matchAny{},
}

// segment is one element of a parsed route template: either a literal or a
// typed variable.
type segment struct {
	literal string
	name    string
	macro   string
	matcher varMatcher
}

func (s segment) isVar() bool { return s.name != "" }

// Route is one registered (method, template) pair.
type Route struct {
	method   string
	template string
	segments []segment
	handler  http.Handler
}

// Method returns the HTTP method the route is registered for.
func (rt *Route) Method() string { return rt.method }

// Template returns the route template as registered.
func (rt *Route) Template() string { return rt.template }

// parseTemplate splits a template into segments, expanding {name:macro}
// variables. A bare {name} defaults to the string macro.
func parseTemplate(tpl string) ([]segment, error) {
	if !strings.HasPrefix(tpl, "/") {
		return nil, fmt.Errorf("mux: template %q must start with /", tpl)
	}

	parts := strings.Split(tpl[1:], "/")
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			if strings.ContainsAny(part, "{}") {
				return nil, fmt.Errorf("mux: malformed variable in template %q", tpl)
			}
			segments = append(segments, segment{literal: part})
			continue
		}

		name, macroName, _ := strings.Cut(part[1:len(part)-1], ":")
		if macroName == "" {
			macroName = "string"
		}
		if name == "" {
			return nil, fmt.Errorf("mux: unnamed variable in template %q", tpl)
		}
		if seen[name] {
			return nil, fmt.Errorf("mux: duplicate variable %q in template %q", name, tpl)
		}
		seen[name] = true

		matcher, ok := typeMacros[macroName]
		if !ok {
			return nil, fmt.Errorf("mux: unknown type macro %q in template %q", macroName, tpl)
		}

		segments = append(segments, segment{name: name, macro: macroName, matcher: matcher})
	}

	return segments, nil
}

// match reports whether the encoded path segments satisfy this route for the
// given method. On a path match with the wrong method, match.MatchErr is set
// to ErrMethodMismatch so the router can answer 405 instead of 404.
// Variable values are percent-decoded into match.Vars.
func (rt *Route) match(method string, parts []string, match *RouteMatch) bool {
	if len(parts) != len(rt.segments) {
		return false
	}

	var vars map[string]string
	for i, seg := range rt.segments {
		if !seg.isVar() {
			if parts[i] != seg.literal {
				return false
			}
			continue
		}
		if !seg.matcher.MatchString(parts[i]) {
			return false
		}
		value, err := url.PathUnescape(parts[i])
		if err != nil {
			return false
		}
		if vars == nil {
			vars = make(map[string]string, len(rt.segments))
		}
		vars[seg.name] = value
	}

	if method != rt.method {
		match.MatchErr = ErrMethodMismatch
		return false
	}

	match.Route = rt
	match.Handler = rt.handler
	match.Vars = vars
	match.MatchErr = nil

	return true
}

// encodedPath returns the percent-encoded request path
// (RFC 3986 Section 2.1). RawPath is only populated when it differs from the
// decoded form, so fall back to re-encoding via EscapedPath.
func encodedPath(u *url.URL) string {
	if u.RawPath != "" {
		return u.RawPath
	}
	return u.EscapedPath()
}
