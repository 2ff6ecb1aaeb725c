// Command laf-server hosts a family as an HTTP service: it compiles the
// family's OpenAPI specs into routes and dispatches validated requests to
// the worker fabric through the broker frontend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lafkit/laf/dispatch"
	"github.com/lafkit/laf/family"
	"github.com/lafkit/laf/gateway"
	"github.com/lafkit/laf/hooks"
	"github.com/lafkit/laf/request"
)

type serverFlags struct {
	deployment     string
	addr           string
	maxConns       int
	brokerURL      string
	authSock       string
	validationSock string
	journalSock    string
	debug          bool
}

func main() {
	var flags serverFlags

	cmd := &cobra.Command{
		Use:          "laf-server <basedir>",
		Short:        "Serve a lone family over HTTP",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.deployment, "deployment", "", "deployment name (default prod)")
	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&flags.maxConns, "max-conns", 0, "maximum concurrent connections, 0 for unlimited")
	cmd.Flags().StringVar(&flags.brokerURL, "broker", dispatch.DefaultFrontendURL, "broker frontend endpoint")
	cmd.Flags().StringVar(&flags.authSock, "auth-sock", "", "authorization service unix socket")
	cmd.Flags().StringVar(&flags.validationSock, "validation-sock", "", "validation service unix socket")
	cmd.Flags().StringVar(&flags.journalSock, "journal-sock", "", "journal service unix socket (default $JOURNAL_SOCK)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "log at debug level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, basedir string, flags serverFlags) error {
	log := newLogger(flags.debug)

	envcfg, err := family.ReadEnv()
	if err != nil {
		return err
	}
	if flags.journalSock == "" {
		flags.journalSock = envcfg.JournalSock
	}

	cfg, err := family.Load(basedir, family.Options{
		Deployment: flags.deployment,
		Mode:       string(request.ModeServer),
		ConfigDir:  envcfg.ConfigDir,
	})
	if err != nil {
		return err
	}

	opts := []gateway.Option{gateway.WithLogger(log)}
	if flags.authSock != "" {
		opts = append(opts, gateway.WithAuthorizer(hooks.NewAuthClient(flags.authSock)))
	}
	if flags.validationSock != "" {
		opts = append(opts, gateway.WithRequestValidator(hooks.NewValidateClient(flags.validationSock)))
	}
	if flags.journalSock != "" {
		opts = append(opts, gateway.WithStatusReader(hooks.NewJournalClient(flags.journalSock)))
	}

	app, err := gateway.New(cfg, dispatch.NewClient(flags.brokerURL), opts...)
	if err != nil {
		return fmt.Errorf("laf-server: %w", err)
	}
	if err := gateway.UseDefaultMiddleware(app); err != nil {
		return fmt.Errorf("laf-server: %w", err)
	}

	log.Info("serving family",
		"family", cfg.Family, "deployment", cfg.Deployment, "broker", flags.brokerURL)

	return gateway.Serve(ctx, gateway.ServeConfig{
		Addr:            flags.addr,
		MaxConns:        flags.maxConns,
		ShutdownTimeout: 30 * time.Second,
	}, app, log)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
