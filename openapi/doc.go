// Package openapi loads the versioned API specs of a family and compiles
// them into routable, validating operations.
//
// Spec files live under <basedir>/apischemas/openapi/ and are named
//
//	vnd.<family>.<lone>.v<major>.<minor>.<patch>
//
// with '/' in the family name flattened to '_'. Files sort lexicographically;
// the greatest name is the latest version of a lone.
//
// Each operation of a spec compiles into an Operation: a typed route
// template for the mux router, a name→type table for its parameters, a
// JSON-Schema draft-04 validator over the composite {path, query, body}
// input object (additionalProperties disallowed), and a validator over the
// per-status response object. $ref pointers resolve within the document and
// across sibling spec files.
package openapi
