// Package dispatch implements the fabric between the gateway and the
// workers: an LRU load-balancing broker over ZeroMQ ROUTER sockets, the
// worker process pool it feeds, and the request client the gateway uses to
// reach it.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-zeromq/zmq4"

	"github.com/lafkit/laf/request"
)

// Default broker endpoints.
const (
	DefaultFrontendURL = "ipc://@frontend.ipc"
	DefaultBackendURL  = "ipc://@backend.ipc"
)

// ready is the registration frame a worker sends when it can take a
// request.
var ready = []byte("READY")

// socket is the part of zmq4.Socket the broker uses, so tests can feed the
// loop without real sockets.
type socket interface {
	Recv() (zmq4.Msg, error)
	Send(zmq4.Msg) error
	Close() error
}

// Broker routes requests from gateway clients to the least recently used
// idle worker and replies back. Workers register with a READY frame and are
// re-queued after every reply; with no idle worker the client is answered
// 503 immediately instead of queueing.
//
// All state is owned by the Run loop: socket reads and worker deaths are
// pumped into channels and handled one at a time.
type Broker struct {
	frontend socket
	backend  socket
	pool     *Pool
	log      *slog.Logger

	// order preserves worker registration order for the LRU scan; busy
	// maps a registered worker to the client it serves, nil when idle.
	order []string
	busy  map[string][]byte
}

// Option configures a Broker.
type Option func(*Broker)

// WithPool attaches a worker pool: the broker respawns a worker for every
// death the pool reports.
func WithPool(pool *Pool) Option {
	return func(b *Broker) { b.pool = pool }
}

// WithLogger sets the broker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// New wires a broker over two already-listening ROUTER sockets.
func New(frontend, backend socket, opts ...Option) *Broker {
	b := &Broker{
		frontend: frontend,
		backend:  backend,
		log:      slog.Default(),
		busy:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Listen binds the frontend and backend ROUTER sockets and returns the
// broker serving them.
func Listen(ctx context.Context, frontendURL, backendURL string, opts ...Option) (*Broker, error) {
	frontend := zmq4.NewRouter(ctx)
	if err := frontend.Listen(frontendURL); err != nil {
		return nil, fmt.Errorf("dispatch: bind frontend %s: %w", frontendURL, err)
	}

	backend := zmq4.NewRouter(ctx)
	if err := backend.Listen(backendURL); err != nil {
		frontend.Close()
		return nil, fmt.Errorf("dispatch: bind backend %s: %w", backendURL, err)
	}

	return New(frontend, backend, opts...), nil
}

// Close releases the broker sockets. Run returns once its pending reads
// fail.
func (b *Broker) Close() error {
	err := b.frontend.Close()
	if berr := b.backend.Close(); err == nil {
		err = berr
	}
	return err
}

type recvResult struct {
	msg zmq4.Msg
	err error
}

func pump(s socket, out chan<- recvResult, done <-chan struct{}) {
	for {
		msg, err := s.Recv()
		select {
		case out <- recvResult{msg: msg, err: err}:
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Run serves the broker loop until the context is cancelled or a socket
// fails.
func (b *Broker) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	frontend := make(chan recvResult)
	backend := make(chan recvResult)
	go pump(b.frontend, frontend, done)
	go pump(b.backend, backend, done)

	var deaths <-chan Death
	if b.pool != nil {
		deaths = b.pool.Deaths()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-backend:
			if r.err != nil {
				return fmt.Errorf("dispatch: backend recv: %w", r.err)
			}
			b.handleBackend(r.msg.Frames)

		case r := <-frontend:
			if r.err != nil {
				return fmt.Errorf("dispatch: frontend recv: %w", r.err)
			}
			b.handleFrontend(r.msg.Frames)

		case d := <-deaths:
			b.handleDeath(ctx, d)
		}
	}
}

// handleBackend processes one backend frame: a READY registration
// [worker, "", READY] or a reply [worker, "", client, "", result] to
// forward. Either way the worker becomes idle again.
func (b *Broker) handleBackend(frames [][]byte) {
	if len(frames) < 3 {
		b.log.Warn("dropping short backend message", "frames", len(frames))
		return
	}

	worker := string(frames[0])
	third := frames[2]

	if string(third) == string(ready) {
		b.register(worker)
		return
	}

	if len(frames) < 5 {
		b.log.Warn("dropping malformed worker reply", "worker", worker, "frames", len(frames))
		return
	}

	client, result := third, frames[4]
	if err := b.frontend.Send(zmq4.NewMsgFrom(client, nil, result)); err != nil {
		b.log.Error("forwarding worker reply", "worker", worker, "error", err)
	}
	b.setIdle(worker)
}

// handleFrontend assigns one client request [client, "", request] to the
// first idle worker in registration order, or answers busy.
func (b *Broker) handleFrontend(frames [][]byte) {
	if len(frames) < 3 {
		b.log.Warn("dropping short frontend message", "frames", len(frames))
		return
	}
	client, req := frames[0], frames[2]

	for _, worker := range b.order {
		if b.busy[worker] != nil {
			continue
		}
		if err := b.backend.Send(zmq4.NewMsgFrom([]byte(worker), nil, client, nil, req)); err != nil {
			b.log.Error("sending to worker", "worker", worker, "error", err)
			continue
		}
		b.busy[worker] = client
		return
	}

	b.log.Info("no idle worker, rejecting request")
	b.reply(client, busyReply())
}

// handleDeath removes a dead worker. If it died mid-request the waiting
// client gets a 500; the pool respawns a replacement either way.
func (b *Broker) handleDeath(ctx context.Context, d Death) {
	worker := fmt.Sprintf("Worker-%d", d.PID)
	b.log.Warn("worker died", "worker", worker, "error", d.Err)

	if client, ok := b.busy[worker]; ok && client != nil {
		b.reply(client, deadReply())
	}
	b.remove(worker)

	if err := b.pool.Spawn(ctx); err != nil {
		b.log.Error("respawning worker", "error", err)
	}
}

func (b *Broker) reply(client []byte, result []byte) {
	if err := b.frontend.Send(zmq4.NewMsgFrom(client, nil, result)); err != nil {
		b.log.Error("replying to client", "error", err)
	}
}

func (b *Broker) register(worker string) {
	if _, ok := b.busy[worker]; !ok {
		b.order = append(b.order, worker)
	}
	b.busy[worker] = nil
}

func (b *Broker) setIdle(worker string) {
	if _, ok := b.busy[worker]; ok {
		b.busy[worker] = nil
	}
}

func (b *Broker) remove(worker string) {
	delete(b.busy, worker)
	for i, id := range b.order {
		if id == worker {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

func busyReply() []byte {
	out, _ := json.Marshal(request.Result{
		Resp: map[string]any{"status": "Try again server busy"},
		Code: http.StatusServiceUnavailable,
	})
	return out
}

func deadReply() []byte {
	out, _ := json.Marshal(request.Result{
		Resp: map[string]any{"status": "internal server error"},
		Code: http.StatusInternalServerError,
	})
	return out
}
