package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/lafkit/laf/muxhandlers"
)

// ServeConfig tunes the HTTP listener.
type ServeConfig struct {
	// Addr is the listen address, ":8080" when empty.
	Addr string

	// MaxConns caps concurrent connections, unlimited when zero.
	MaxConns int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// UseDefaultMiddleware attaches the standard chain to the app's router:
// panic recovery, LAF-TX-ID propagation and proxy header handling.
func UseDefaultMiddleware(app *App) error {
	proxy, err := muxhandlers.ProxyHeadersMiddleware(muxhandlers.ProxyHeadersConfig{})
	if err != nil {
		return err
	}

	app.Router().Use(
		muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{
			LogFunc: func(r *http.Request, err any) {
				app.log.Error("panic serving request", "path", r.URL.Path, "panic", err)
			},
		}),
		muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{
			HeaderName:    "LAF-TX-ID",
			TrustIncoming: true,
		}),
		proxy,
	)
	return nil
}

// Serve runs the handler until the context ends, then drains connections.
func Serve(ctx context.Context, cfg ServeConfig, handler http.Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutting down", "error", err)
		}
	}()

	log.Info("serving", "addr", addr)
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done

	return nil
}
