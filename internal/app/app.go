package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/authgate/internal/gateway"
	"github.com/florianilch/authgate/internal/loginflow"
	"github.com/florianilch/authgate/internal/server"
	"github.com/florianilch/authgate/internal/session"
	"github.com/florianilch/authgate/internal/tokenstore"
)

// App orchestrates the lifecycle of the login server and the session.
type App struct {
	cfg     *Config
	store   tokenstore.Store
	session *session.Store
	server  *server.Server
}

// New creates a new App instance. It reads the persisted session but starts
// nothing.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateLogin(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	a, err := newApp(ctx, cfg, store)
	if err != nil {
		_ = closeStore(store)
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg *Config, store tokenstore.Store) (*App, error) {
	sess, err := session.New(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	gw, err := gateway.New(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	flow, err := loginflow.New(cfg.LoginFlowConfig(), sess, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create login flow: %w", err)
	}

	var opts []server.Option
	if cfg.Backend.APIBaseURL != "" {
		opts = append(opts, server.WithAPIProxy(cfg.Backend.APIBaseURL, gw))
	}
	srv, err := server.New(flow, sess, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		session: sess,
		server:  srv,
	}, nil
}

// Session returns the application's session store.
func (a *App) Session() *session.Store {
	return a.session
}

// LoginURL returns the local page that starts a login.
func (a *App) LoginURL() string {
	return "http://" + a.cfg.Server.Address() + "/login"
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Address()
	var shutdownFuncs []func(context.Context) error
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return closeStore(a.store) })

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting login server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		_ = closeStore(a.store)
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	// Follow logins and logouts made by other processes sharing the store
	// A failed watch leaves the session usable, only without cross-process updates
	g.Go(func() error {
		if err := a.session.Sync(gCtx); err != nil {
			slog.WarnContext(gCtx, "session sync stopped", "error", err)
			<-gCtx.Done()
		}
		return nil
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "authenticated", a.session.Current().IsAuthenticated)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// WaitForLogin blocks until the session is authenticated or ctx is done.
func (a *App) WaitForLogin(ctx context.Context) error {
	for {
		changed := a.session.Changed()
		if a.session.Current().IsAuthenticated {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// closeStore releases stores that hold resources.
func closeStore(store tokenstore.Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
