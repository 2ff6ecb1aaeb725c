// Package muxhandlers provides the HTTP middleware the gateway mounts in
// front of the route table: panic recovery, transaction id propagation,
// reverse proxy header handling, CORS, basic authentication and server
// identification.
//
// Every middleware is a mux.MiddlewareFunc; constructors that validate
// configuration also return an error.
package muxhandlers
