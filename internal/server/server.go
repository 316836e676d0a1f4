// Package server hosts the login pages, the OAuth callback and the authenticated API proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/a-h/templ"

	"github.com/florianilch/authgate/internal/gateway"
	"github.com/florianilch/authgate/internal/loginflow"
	"github.com/florianilch/authgate/internal/session"
)

// Flow is the login flow the server exposes.
type Flow interface {
	BeginLogin(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, location *url.URL) (loginflow.Outcome, error)
	CallbackPath() string
}

// Session is the session store the server reads and clears.
type Session interface {
	Current() session.Session
	Logout(ctx context.Context) error
}

// Server hosts the login pages and the authenticated API proxy.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	addr   string

	flow    Flow
	session Session
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*config)

type config struct {
	apiBaseURL   string
	apiTransport http.RoundTripper
}

// WithAPIProxy forwards /api/ requests to baseURL through transport, which is
// expected to attach the session token.
func WithAPIProxy(baseURL string, transport http.RoundTripper) Option {
	return func(c *config) {
		c.apiBaseURL = baseURL
		c.apiTransport = transport
	}
}

// New creates the application server.
func New(flow Flow, sess Session, opts ...Option) (*Server, error) {
	if flow == nil {
		return nil, fmt.Errorf("missing login flow")
	}
	if sess == nil {
		return nil, fmt.Errorf("missing session")
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		mux:     http.NewServeMux(),
		flow:    flow,
		session: sess,
	}

	logger := slog.Default()
	wrap := func(h http.Handler) http.Handler {
		return applyMiddlewares(h, Logging(logger), Recovery)
	}

	s.mux.Handle("GET /{$}", wrap(http.HandlerFunc(s.handleHome)))
	s.mux.Handle("GET /login", wrap(http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("GET "+flow.CallbackPath(), wrap(http.HandlerFunc(s.handleCallback)))
	// Cross-site form posts must not end the session
	sameOrigin := http.NewCrossOriginProtection()
	s.mux.Handle("POST /logout", wrap(sameOrigin.Handler(http.HandlerFunc(s.handleLogout))))

	if cfg.apiBaseURL != "" {
		apiProxy, err := newAPIProxy(cfg.apiBaseURL, cfg.apiTransport)
		if err != nil {
			return nil, err
		}
		s.mux.Handle("/api/", wrap(RequireSession(sess, http.StripPrefix("/api", apiProxy))))
	}

	return s, nil
}

// newAPIProxy builds a reverse proxy to the protected backend API.
func newAPIProxy(baseURL string, transport http.RoundTripper) (*httputil.ReverseProxy, error) {
	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("missing API transport")
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			// Local callers never choose the credentials sent upstream
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, gateway.ErrSessionExpired) {
				writeJSONError(r.Context(), w, "session expired", http.StatusUnauthorized)
				return
			}
			slog.ErrorContext(r.Context(), "api proxy error", "error", err)
			writeJSONError(r.Context(), w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, http.StatusOK, homePage(s.session.Current().IsAuthenticated))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	authorizeURL, err := s.flow.BeginLogin(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to begin login", "error", err)
		renderPage(w, r, http.StatusInternalServerError, errorPage("could not start login"))
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	outcome, err := s.flow.HandleCallback(ctx, r.URL)
	if err != nil {
		slog.WarnContext(ctx, "authentication failed", "error", err)
		renderPage(w, r, callbackStatus(err), errorPage(err.Error()))
		return
	}

	if outcome.Redirect != "" {
		http.Redirect(w, r, outcome.Redirect, http.StatusFound)
		return
	}

	renderPage(w, r, http.StatusOK, waitingPage())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "logout failed", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// renderPage writes an HTML page with the given status code.
func renderPage(w http.ResponseWriter, r *http.Request, status int, page templ.Component) {
	templ.Handler(page,
		templ.WithStatus(status),
		templ.WithErrorHandler(func(r *http.Request, err error) http.Handler {
			slog.ErrorContext(r.Context(), "failed to render page", "error", err)
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			})
		}),
	).ServeHTTP(w, r)
}

// callbackStatus maps login failures to HTTP status codes.
func callbackStatus(err error) int {
	switch {
	case errors.Is(err, loginflow.ErrStateMismatch):
		return http.StatusBadRequest
	case errors.Is(err, loginflow.ErrVerificationFailed), errors.Is(err, loginflow.ErrNoAccessToken):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.addr = listener.Addr().String()
	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
