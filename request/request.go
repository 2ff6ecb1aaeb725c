package request

import (
	"os"
	"os/user"

	"github.com/google/uuid"
)

// Mode selects how a request is executed.
type Mode string

// Execution modes. Client sends the request to a remote gateway, Server
// processes it inside a worker, Lone runs the handler in-process.
const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
	ModeLone   Mode = "lone"
)

// Request is the per-invocation envelope carried through the whole pipeline:
// from the CLI input assembler or the HTTP gateway, across the dispatch
// fabric, into the worker state machine and down to the resource handler.
//
// The JSON field names are the wire format spoken between the gateway and
// the workers.
type Request struct {
	Lone          string         `json:"lone"`
	Verb          string         `json:"verb"`
	PK            string         `json:"pk,omitempty"`
	Path          string         `json:"path,omitempty"`
	URLVars       map[string]any `json:"urlvars,omitempty"`
	QueryVars     map[string]any `json:"queryvars,omitempty"`
	Body          any            `json:"body,omitempty"`
	Obj           map[string]any `json:"obj,omitempty"`
	User          string         `json:"user"`
	EffectiveUser string         `json:"effective_user"`
	OBO           string         `json:"obo,omitempty"`
	Role          string         `json:"role,omitempty"`
	CM            string         `json:"cm,omitempty"`
	Host          string         `json:"host"`
	TxID          string         `json:"txid"`
	RqID          string         `json:"rqid"`
	Subhandler    string         `json:"subhandler,omitempty"`
	Mode          Mode           `json:"mode,omitempty"`
}

// New returns a request with a fresh rqid and the identity defaults filled
// in: txid falls back to the rqid, user to the current OS user, host to the
// local hostname, and effective_user to obo when set.
func New(req Request) *Request {
	req.RqID = NewID()

	if req.TxID == "" {
		req.TxID = req.RqID
	}
	if req.User == "" {
		req.User = currentUser()
	}
	if req.Host == "" {
		req.Host, _ = os.Hostname()
	}

	req.Normalize()

	return &req
}

// Normalize re-derives the fields that depend on others: effective_user is
// the obo target when impersonating, the caller otherwise. Called by New and
// again after a request is decoded from the wire.
func (r *Request) Normalize() {
	if r.OBO != "" {
		r.EffectiveUser = r.OBO
	} else {
		r.EffectiveUser = r.User
	}
	if r.TxID == "" {
		r.TxID = r.RqID
	}
	if r.Mode == "" {
		r.Mode = ModeServer
	}
}

// NewID returns a fresh request id (UUID v4).
func NewID() string {
	return uuid.New().String()
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Result is the reply frame exchanged between workers, the broker and the
// gateway: a payload plus the HTTP status code chosen by the worker.
type Result struct {
	Resp any `json:"resp"`
	Code int `json:"code"`
}
