package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Death reports the exit of one pool worker process.
type Death struct {
	PID int
	Err error
}

// Pool spawns and tracks worker processes. Every worker runs the family's
// worker binary with the family base directory as its only argument and
// learns the broker endpoint and deployment from the environment.
type Pool struct {
	// Binary is the worker executable, BaseDir its argument.
	Binary  string
	BaseDir string
	Size    int

	// Environment handed to every worker on top of the parent's.
	WorkerSocket     string
	Deployment       string
	NotificationSock string
	JournalSock      string

	log    *slog.Logger
	deaths chan Death
}

// NewPool returns a pool of size workers running binary against basedir.
func NewPool(binary, basedir string, size int, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		Binary:  binary,
		BaseDir: basedir,
		Size:    size,
		log:     log,
		deaths:  make(chan Death),
	}
}

// Deaths delivers one Death per exited worker process.
func (p *Pool) Deaths() <-chan Death {
	return p.deaths
}

// Start spawns the initial set of workers.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.Size; i++ {
		if err := p.Spawn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Spawn starts one worker process and watches it until exit.
func (p *Pool) Spawn(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.Binary, p.BaseDir)
	cmd.Env = append(os.Environ(), p.workerEnv()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dispatch: spawn worker %s: %w", p.Binary, err)
	}

	pid := cmd.Process.Pid
	p.log.Info("worker started", "pid", pid, "binary", p.Binary)

	go func() {
		err := cmd.Wait()
		select {
		case p.deaths <- Death{PID: pid, Err: err}:
		case <-ctx.Done():
		}
	}()

	return nil
}

func (p *Pool) workerEnv() []string {
	env := []string{
		"WORKER_SOCKET=" + p.WorkerSocket,
		"DEPLOYMENT=" + p.Deployment,
	}
	if p.NotificationSock != "" {
		env = append(env, "NOTIFICATION_SOCK="+p.NotificationSock)
	}
	if p.JournalSock != "" {
		env = append(env, "JOURNAL_SOCK="+p.JournalSock)
	}
	return env
}
