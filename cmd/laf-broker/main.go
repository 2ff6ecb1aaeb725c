// Command laf-broker runs the dispatch fabric of one deployment: the LRU
// broker between the gateway frontend and the worker backend, optionally
// owning the pool of worker processes it feeds.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lafkit/laf/dispatch"
	"github.com/lafkit/laf/family"
)

type brokerFlags struct {
	frontendURL  string
	backendURL   string
	workerBinary string
	workers      int
	deployment   string
	debug        bool
}

func main() {
	var flags brokerFlags

	cmd := &cobra.Command{
		Use:          "laf-broker <basedir>",
		Short:        "Route requests between the gateway and the worker pool",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.frontendURL, "frontend", dispatch.DefaultFrontendURL, "gateway-facing endpoint")
	cmd.Flags().StringVar(&flags.backendURL, "backend", dispatch.DefaultBackendURL, "worker-facing endpoint")
	cmd.Flags().StringVar(&flags.workerBinary, "worker-binary", "", "worker executable to spawn, empty to run without a pool")
	cmd.Flags().IntVar(&flags.workers, "workers", 4, "worker pool size")
	cmd.Flags().StringVar(&flags.deployment, "deployment", "", "deployment name handed to the workers")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "log at debug level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, basedir string, flags brokerFlags) error {
	log := newLogger(flags.debug)

	envcfg, err := family.ReadEnv()
	if err != nil {
		return err
	}

	opts := []dispatch.Option{dispatch.WithLogger(log)}

	var pool *dispatch.Pool
	if flags.workerBinary != "" {
		pool = dispatch.NewPool(flags.workerBinary, basedir, flags.workers, log)
		pool.WorkerSocket = flags.backendURL
		pool.Deployment = flags.deployment
		pool.NotificationSock = envcfg.NotificationSock
		pool.JournalSock = envcfg.JournalSock
		opts = append(opts, dispatch.WithPool(pool))
	}

	broker, err := dispatch.Listen(ctx, flags.frontendURL, flags.backendURL, opts...)
	if err != nil {
		return err
	}
	defer broker.Close()

	if pool != nil {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("laf-broker: %w", err)
		}
	}

	log.Info("broker running",
		"frontend", flags.frontendURL, "backend", flags.backendURL, "workers", flags.workers)

	if err := broker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
