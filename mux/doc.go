// Package mux implements a typed-template HTTP router.
//
// Routes are registered per method with templates whose variables carry a
// type macro:
//
//	r := mux.NewRouter()
//	r.HandleFunc(http.MethodGet, "/contact/{pk:string}", handler)
//	r.HandleFunc(http.MethodGet, "/contact/{pk:string}/phone/{index:int}", handler)
//	r.HandleFunc(http.MethodGet, "/status/{rqid:uuid}", handler)
//
// Known macros are int, float, string and uuid; a bare {name} is {name:string}.
// Inside handlers, mux.Vars(req) returns the decoded variable values.
//
// Matching is performed against the percent-encoded request path
// (RFC 3986 Section 2.1), so an encoded slash (%2F) stays inside a single
// variable instead of splitting the segment. Values are decoded after the
// match.
//
// The router discriminates between 404 Not Found (RFC 7231 Section 6.5.4)
// and 405 Method Not Allowed (RFC 7231 Section 6.5.5); 405 responses carry
// the Allow header listing the methods registered for the path.
package mux
