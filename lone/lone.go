// Package lone defines the resource-handler interface of the framework: a
// lone registers one handler per operation, and every execution surface
// (CLI, worker, gateway) invokes them through the same table.
package lone

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lafkit/laf/request"
)

// Reply is the outcome of one handler invocation. Handlers build replies
// through Ok, Fail and Error; the zero value is an internal error.
type Reply struct {
	// Value is the response payload, nil for no content.
	Value any

	// Code is the HTTP status code of the reply.
	Code int

	// Aborted marks the request as failed for journaling: the terminal
	// journal step becomes abort instead of commit.
	Aborted bool
}

// Ok returns a successful reply: 200 with the payload, 204 when nil.
func Ok(value any) Reply {
	if value == nil {
		return Reply{Code: http.StatusNoContent}
	}
	return Reply{Value: value, Code: http.StatusOK}
}

// Fail returns a domain failure with a handler-chosen status code.
func Fail(value any, code int) Reply {
	return Reply{Value: value, Code: code, Aborted: true}
}

// Error returns an internal failure (500) carrying the error text.
func Error(err error) Reply {
	return Reply{Value: err.Error(), Code: http.StatusInternalServerError, Aborted: true}
}

// Handler executes one operation of a lone.
type Handler interface {
	Serve(ctx context.Context, req *request.Request) Reply
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *request.Request) Reply

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, req *request.Request) Reply {
	return f(ctx, req)
}

// Operation is one registered handler with its execution annotations.
type Operation struct {
	Handler Handler

	// LongRunning marks the operation for 202-style execution in server
	// mode: the caller gets a status location immediately and the handler
	// runs to completion afterwards.
	LongRunning bool

	// Journaled forces journaling even when the verb stem alone would not.
	Journaled bool

	// Doc is the help text rendered by the help verb.
	Doc string
}

// Option configures a registered operation.
type Option func(*Operation)

// LongRunning marks the operation as long running.
func LongRunning() Option {
	return func(op *Operation) { op.LongRunning = true }
}

// Journaled marks the operation as journaled regardless of its verb.
func Journaled() Option {
	return func(op *Operation) { op.Journaled = true }
}

// Doc attaches help text to the operation.
func Doc(text string) Option {
	return func(op *Operation) { op.Doc = text }
}

// Lone is one resource: a named table of operations.
type Lone struct {
	name string
	ops  map[string]*Operation
}

// New returns an empty lone with the given name.
func New(name string) *Lone {
	return &Lone{
		name: name,
		ops:  make(map[string]*Operation),
	}
}

// Name returns the lone's name.
func (l *Lone) Name() string { return l.name }

// Handle registers a handler under an operation id: the verb, or
// verb_subhandler for sub-resource operations.
func (l *Lone) Handle(operationID string, handler Handler, opts ...Option) *Lone {
	op := &Operation{Handler: handler}
	for _, opt := range opts {
		opt(op)
	}
	l.ops[operationID] = op
	return l
}

// HandleFunc registers a handler function under an operation id.
func (l *Lone) HandleFunc(operationID string, f HandlerFunc, opts ...Option) *Lone {
	return l.Handle(operationID, f, opts...)
}

// OperationID derives the handler key of a request: the verb, suffixed with
// the subhandler when one is set and not "default".
func OperationID(req *request.Request) string {
	if req.Subhandler != "" && req.Subhandler != "default" {
		return req.Verb + "_" + req.Subhandler
	}
	return req.Verb
}

// Operation returns the registered operation for a request.
func (l *Lone) Operation(req *request.Request) (*Operation, error) {
	op, ok := l.ops[OperationID(req)]
	if !ok {
		return nil, fmt.Errorf("lone %s: no handler for operation %q", l.name, OperationID(req))
	}
	return op, nil
}

// OperationIDs returns the registered operation ids, sorted.
func (l *Lone) OperationIDs() []string {
	ids := make([]string, 0, len(l.ops))
	for id := range l.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Help renders the lone's documentation: one section per registered
// operation, in operation-id order.
func (l *Lone) Help() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lone Documentation: %s\n", l.name)

	for _, id := range l.OperationIDs() {
		fmt.Fprintf(&b, "\n%s\n", id)
		if doc := l.ops[id].Doc; doc != "" {
			fmt.Fprintf(&b, "    %s\n", strings.ReplaceAll(strings.TrimSpace(doc), "\n", "\n    "))
		}
	}

	return b.String()
}

// Registry maps lone names to their implementations. A worker binary links
// the lones of its family and hands the registry to the runtime.
type Registry map[string]*Lone

// NewRegistry builds a registry from the given lones.
func NewRegistry(lones ...*Lone) Registry {
	reg := make(Registry, len(lones))
	for _, l := range lones {
		reg[l.Name()] = l
	}
	return reg
}

// Lookup returns the named lone.
func (r Registry) Lookup(name string) (*Lone, error) {
	l, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("lone %q is not registered", name)
	}
	return l, nil
}
