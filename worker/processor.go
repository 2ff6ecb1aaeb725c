// Package worker executes requests inside a worker process: the journaled
// state machine around each handler invocation and the DEALER loop that
// takes work from the broker backend.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/hooks"
	"github.com/lafkit/laf/lone"
	"github.com/lafkit/laf/request"
)

// coreJournalVerbs are the mutation stems: any operation id containing one
// is journaled without annotation.
var coreJournalVerbs = []string{
	"insert", "create", "delete", "update", "remove", "put", "post",
}

// Journal persists one journal entry. Both the journal service client and
// the local journal binary satisfy it.
type Journal interface {
	Write(ctx context.Context, entry *hooks.Entry) error
}

// Processor runs the request state machine: journal begin, record the
// authorization decisions, invoke the handler, then journal commit or
// abort. Journal write failures are logged and never fail the request.
type Processor struct {
	cfg     *family.Config
	lones   lone.Registry
	journal Journal
	notify  string
	log     *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithJournal sets the journal sink. Without one, journal steps are only
// logged.
func WithJournal(j Journal) Option {
	return func(p *Processor) { p.journal = j }
}

// WithNotificationSocket lets handlers publish progress messages for their
// transaction through the notification service.
func WithNotificationSocket(path string) Option {
	return func(p *Processor) { p.notify = path }
}

// WithLogger sets the processor's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

// NewProcessor returns a processor serving the given lones.
func NewProcessor(cfg *family.Config, lones lone.Registry, opts ...Option) *Processor {
	p := &Processor{
		cfg:   cfg,
		lones: lones,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process executes one envelope and returns the wire result.
func (p *Processor) Process(ctx context.Context, env *request.Envelope) *request.Result {
	req := env.Request
	req.Normalize()

	l, err := p.lones.Lookup(req.Lone)
	if err != nil {
		return &request.Result{Resp: err.Error(), Code: http.StatusInternalServerError}
	}
	op, err := l.Operation(req)
	if err != nil {
		return &request.Result{Resp: err.Error(), Code: http.StatusInternalServerError}
	}

	journaled := p.journalingAllowed(req, op)
	p.journalStep(ctx, journaled, req, "begin", req.Obj)

	if env.Auth != nil {
		if req.OBO != "" {
			p.journalStep(ctx, journaled, req, "authobo", env.Auth["oboauth"])
		}
		p.journalStep(ctx, journaled, req, "auth", env.Auth["auth"])
	}

	if p.notify != "" {
		txid := req.TxID
		ctx = lone.WithNotifier(ctx, func(msg any) {
			hooks.Publish(p.notify, txid, msg)
		})
	}

	reply := p.invoke(ctx, op, req)

	if reply.Aborted {
		p.journalStep(ctx, journaled, req, "abort", reply.Value)
	} else {
		p.journalStep(ctx, journaled, req, "commit", reply.Value)
	}

	return &request.Result{Resp: reply.Value, Code: reply.Code}
}

// LongRunning reports whether the request's operation is annotated long
// running and the processor runs in server mode.
func (p *Processor) LongRunning(req *request.Request) bool {
	l, err := p.lones.Lookup(req.Lone)
	if err != nil {
		return false
	}
	op, err := l.Operation(req)
	if err != nil {
		return false
	}
	return p.asyncAllowed(op)
}

func (p *Processor) invoke(ctx context.Context, op *lone.Operation, req *request.Request) (reply lone.Reply) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("handler panic",
				"txid", req.TxID, "lone", req.Lone, "verb", req.Verb, "panic", r)
			reply = lone.Fail(fmt.Sprintf("%v", r), http.StatusInternalServerError)
		}
	}()

	reply = op.Handler.Serve(ctx, req)
	if reply.Code == 0 {
		reply = lone.Ok(reply.Value)
	}
	return reply
}

func (p *Processor) journalingAllowed(req *request.Request, op *lone.Operation) bool {
	id := lone.OperationID(req)
	for _, stem := range coreJournalVerbs {
		if strings.Contains(id, stem) {
			return true
		}
	}
	if op.Journaled {
		return true
	}
	return p.asyncAllowed(op)
}

func (p *Processor) asyncAllowed(op *lone.Operation) bool {
	return p.cfg.Mode == string(request.ModeServer) && op.LongRunning
}

func (p *Processor) journalStep(ctx context.Context, allowed bool, req *request.Request, step string, payload any) {
	if !allowed {
		return
	}

	p.log.Info("journal write", "txid", req.TxID, "step", step, "rqid", req.RqID)
	if p.journal == nil {
		return
	}

	entry := hooks.NewEntry(req, p.cfg, step, payload)
	if err := p.journal.Write(ctx, entry); err != nil {
		p.log.Error("unsaved journal entry",
			"txid", req.TxID, "rqid", req.RqID, "step", step, "error", err)
	}
}
