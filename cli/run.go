package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/lafkit/laf/client"
	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/hooks"
	"github.com/lafkit/laf/lone"
	"github.com/lafkit/laf/request"
	"github.com/lafkit/laf/worker"
)

// Runner executes one lone binary's command line. The streams and terminal
// probe are injectable; Main wires them to the process environment.
type Runner struct {
	Lone    *lone.Lone
	BaseDir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	IsTTY  func() bool

	// Journal receives the journal entries of local executions. Without one,
	// journal steps are only logged.
	Journal worker.Journal

	// ClientOptions configure the remote client in client mode.
	ClientOptions []client.Option
}

// Main runs a lone from os.Args and exits with its status code. It is the
// entry point of a lone binary:
//
//	func main() { cli.Main(contact.New(), basedir) }
func Main(l *lone.Lone, basedir string) {
	r := &Runner{
		Lone:    l,
		BaseDir: basedir,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		IsTTY:   func() bool { return isatty.IsTerminal(os.Stdin.Fd()) },
	}
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}

// Run parses the arguments and executes the invocation, returning the exit
// code. Usage problems are reported as error envelopes on stdout with a zero
// exit code; validation and policy failures exit nonzero.
func (r *Runner) Run(ctx context.Context, args []string) int {
	luser := localUser()
	lhost, _ := os.Hostname()

	asm := &Assembler{
		Lone:    r.Lone.Name(),
		BaseDir: r.BaseDir,
		Stdin:   r.Stdin,
		Stderr:  r.Stderr,
		IsTTY:   r.IsTTY,
	}

	cl, err := asm.Parse(args)
	if err != nil {
		var uerr *UsageError
		if errors.As(err, &uerr) {
			r.printYAML(errorEnvelope(uerr.Reason, r.Lone.Name(), uerr.Verb, uerr.PK, uerr.Obj, luser, lhost))
		} else {
			r.printYAML(errorEnvelope(err.Error(), r.Lone.Name(), "", "", nil, luser, lhost))
		}
		return 0
	}

	if cl.Help {
		fmt.Fprintln(r.Stdout, r.Lone.Help())
		return 0
	}

	cfg, err := family.Load(r.BaseDir, family.Options{
		Deployment: cl.Options.Deployment,
		Mode:       cl.Options.Mode,
		Servers:    cl.Options.Servers,
		ConfigDir:  os.Getenv("LAF_CONFIG"),
	})
	if err != nil {
		r.printYAML(errorEnvelope(err.Error(), r.Lone.Name(), cl.Verb, cl.PK, nil, luser, lhost))
		return 0
	}

	if cl.Options.Status != "" {
		return r.runStatus(ctx, cfg, cl.Options.Status, luser, lhost)
	}

	reqs := makeRequests(r.Lone.Name(), cfg, cl)

	if cfg.Mode == string(request.ModeClient) {
		return r.runRemote(ctx, cfg, reqs, luser, lhost)
	}
	return r.runLocal(ctx, cfg, reqs, cl.Options.Debug)
}

// runStatus looks up the journal state of a long-running task.
func (r *Runner) runStatus(ctx context.Context, cfg *family.Config, rqid, luser, lhost string) int {
	c, err := client.New(cfg, r.ClientOptions...)
	if err != nil {
		r.printYAML(errorEnvelope(err.Error(), r.Lone.Name(), "get", "", nil, luser, lhost))
		return 0
	}

	res, err := c.Status(ctx, rqid)
	if err != nil {
		r.printYAML(errorEnvelope(err.Error(), r.Lone.Name(), "get", "", nil, luser, lhost))
		return 0
	}
	if res != nil {
		r.printYAML(res)
	}
	return 0
}

// runRemote sends the requests to the deployment's gateway. When the
// deployment overlay names a notification socket, progress messages for the
// transaction are streamed to stderr while the requests run.
func (r *Runner) runRemote(ctx context.Context, cfg *family.Config, reqs []*request.Request, luser, lhost string) int {
	c, err := client.New(cfg, r.ClientOptions...)
	if err != nil {
		r.printYAML(errorEnvelope(err.Error(), r.Lone.Name(), "", "", nil, luser, lhost))
		return 0
	}

	if sock, _ := cfg.Overlay["notification"].(string); sock != "" && len(reqs) > 0 {
		nctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if msgs, err := hooks.Subscribe(nctx, sock, reqs[0].TxID); err == nil {
			go func() {
				for msg := range msgs {
					r.printYAMLTo(r.Stderr, msg)
				}
			}()
		}
	}

	for _, req := range reqs {
		res, err := c.Do(ctx, req)
		if err != nil {
			r.printYAML(errorEnvelope(err.Error(), req.Lone, req.Verb, req.PK, req.Obj, luser, lhost))
			continue
		}
		if res != nil {
			r.printYAML(res)
		}
	}

	return 0
}

// localLogger logs local executions to /tmp/<lone>_<user>.log, falling back
// to the default logger when the file cannot be opened.
func (r *Runner) localLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	path := fmt.Sprintf("/tmp/%s_%s.log", r.Lone.Name(), localUser())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
}

func (r *Runner) printYAML(v any) {
	r.printYAMLTo(r.Stdout, v)
}

func (r *Runner) printYAMLTo(w io.Writer, v any) {
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(w, "_error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "%s", data)
}

func localUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
