package gateway

import (
	"fmt"
	"net/http"
	"time"
)

// APIError is a request failure carried to the response writer. With request
// context attached the response body is the full error envelope; without it
// the body is a bare {"_error": message} object.
type APIError struct {
	Message any
	Code    int

	Lone string
	Verb string
	PK   string
	Obj  map[string]any
	User string
	Host string
}

// newAPIError returns a bare error with no request context.
func newAPIError(message any, code int) *APIError {
	if code == 0 {
		code = http.StatusInternalServerError
	}
	return &APIError{Message: message, Code: code}
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %v (%d)", e.Message, e.Code)
}

// envelope renders the response body. The when field is the UTC wall clock,
// formatted as the journal and clients expect it.
func (e *APIError) envelope() map[string]any {
	if e.Verb == "" {
		return map[string]any{"_error": e.Message}
	}

	when := time.Now().UTC().Format("2006-01-02 15:04:05") + " GMT"
	return map[string]any{
		"_error": map[string]any{
			"why":   e.Message,
			"who":   e.User,
			"where": e.Lone,
			"when":  when,
			"verb":  e.Verb,
			"pk":    e.PK,
			"in":    e.Obj,
			"from":  e.Host,
		},
	}
}

// reqContext is the request identity an APIError is stamped with once the
// operation is known.
type reqContext struct {
	Lone string
	Verb string
	PK   string
	Obj  map[string]any
	User string
	Host string
}

// fail builds a contextual APIError.
func (c reqContext) fail(message any, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
		Lone:    c.Lone,
		Verb:    c.Verb,
		PK:      c.PK,
		Obj:     c.Obj,
		User:    c.User,
		Host:    c.Host,
	}
}
