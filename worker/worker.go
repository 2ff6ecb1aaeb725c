package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-zeromq/zmq4"

	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/hooks"
	"github.com/lafkit/laf/lone"
	"github.com/lafkit/laf/request"
)

var ready = []byte("READY")

// socket is the part of zmq4.Socket the loop uses, so tests can run it over
// channels.
type socket interface {
	Recv() (zmq4.Msg, error)
	Send(zmq4.Msg) error
	Close() error
}

// Worker serves broker requests over one DEALER socket. It announces READY,
// then answers one request at a time: long-running operations get an
// immediate 202 pointing at /status/<rqid> and run to completion before the
// worker takes new work.
type Worker struct {
	sock socket
	proc *Processor
	log  *slog.Logger
}

// New returns a worker serving the processor over the socket.
func New(sock socket, proc *Processor, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{sock: sock, proc: proc, log: log}
}

// Run serves requests until the socket fails or the context ends.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.sock.Send(zmq4.NewMsgFrom(nil, ready)); err != nil {
		return fmt.Errorf("worker: announce ready: %w", err)
	}

	for {
		msg, err := w.sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker: recv: %w", err)
		}

		w.serve(ctx, msg.Frames)

		if err := w.sock.Send(zmq4.NewMsgFrom(nil, ready)); err != nil {
			return fmt.Errorf("worker: announce ready: %w", err)
		}
	}
}

// serve handles one request frame [empty, client, empty, envelope].
func (w *Worker) serve(ctx context.Context, frames [][]byte) {
	if len(frames) < 4 {
		w.log.Warn("dropping short request", "frames", len(frames))
		return
	}
	address, payload := frames[1], frames[3]

	var env request.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Request == nil {
		w.log.Error("undecodable request envelope", "error", err)
		w.reply(address, &request.Result{
			Resp: "invalid request envelope",
			Code: http.StatusInternalServerError,
		})
		return
	}
	env.Request.Normalize()

	if w.proc.LongRunning(env.Request) {
		w.reply(address, &request.Result{
			Resp: "/status/" + env.Request.RqID,
			Code: http.StatusAccepted,
		})
		w.proc.Process(ctx, &env)
		return
	}

	w.reply(address, w.proc.Process(ctx, &env))
}

func (w *Worker) reply(address []byte, result *request.Result) {
	body, err := json.Marshal(result)
	if err != nil {
		w.log.Error("encoding result", "error", err)
		return
	}
	if err := w.sock.Send(zmq4.NewMsgFrom(nil, address, nil, body)); err != nil {
		w.log.Error("sending result", "error", err)
	}
}

// Main is the entry point of a family worker binary: it loads the family
// rooted at the base directory given as the first argument, connects to the
// broker backend named by WORKER_SOCKET and serves the registered lones
// until terminated.
func Main(reg lone.Registry) error {
	if len(os.Args) < 2 {
		return errors.New("worker: usage: worker <basedir>")
	}
	basedir := os.Args[1]

	envcfg, err := family.ReadEnv()
	if err != nil {
		return err
	}
	deployment := os.Getenv("DEPLOYMENT")
	if deployment == "" {
		deployment = envcfg.Deployment
	}
	os.Setenv("LAF_DEPLOYMENT", deployment)

	cfg, err := family.Load(basedir, family.Options{
		Deployment: deployment,
		Mode:       string(request.ModeServer),
		ConfigDir:  envcfg.ConfigDir,
	})
	if err != nil {
		return err
	}

	srv, err := family.LoadServerConfig(basedir)
	if err != nil {
		return err
	}
	serving := make(lone.Registry, len(srv.Lones))
	for _, name := range srv.Lones {
		l, err := reg.Lookup(name)
		if err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		serving[name] = l
	}

	opts := []Option{}
	if envcfg.JournalSock != "" {
		opts = append(opts, WithJournal(hooks.NewJournalClient(envcfg.JournalSock)))
	}
	if envcfg.NotificationSock != "" {
		opts = append(opts, WithNotificationSocket(envcfg.NotificationSock))
	}
	proc := NewProcessor(cfg, serving, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := zmq4.SocketIdentity(fmt.Sprintf("Worker-%d", os.Getpid()))
	sock := zmq4.NewDealer(ctx, zmq4.WithID(id))
	if err := sock.Dial(envcfg.WorkerSocket); err != nil {
		return fmt.Errorf("worker: dial broker %s: %w", envcfg.WorkerSocket, err)
	}
	defer sock.Close()

	slog.Info("worker starting", "pid", os.Getpid(), "family", cfg.Family, "deployment", cfg.Deployment)
	return New(sock, proc, slog.Default()).Run(ctx)
}
