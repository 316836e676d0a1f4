// Package gateway attaches the session's bearer token to outbound HTTP requests
// and ends the session when the server rejects it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrSessionExpired is returned when a request is answered with 401 or 403.
// The session has already been logged out when this error is seen.
var ErrSessionExpired = errors.New("session expired, please log in again")

// Session is the part of the session store the gateway depends on.
type Session interface {
	Token() string
	Logout(ctx context.Context) error
}

// Gateway is an http.RoundTripper that authenticates requests with the current
// session token.
type Gateway struct {
	session Session
	base    http.RoundTripper
}

// Compile-time check that Gateway implements http.RoundTripper.
var _ http.RoundTripper = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithTransport sets the transport used to send requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(g *Gateway) {
		g.base = transport
	}
}

// New creates a Gateway reading tokens from session.
func New(session Session, opts ...Option) (*Gateway, error) {
	if session == nil {
		return nil, fmt.Errorf("missing session")
	}

	g := &Gateway{
		session: session,
		base:    http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RoundTrip implements http.RoundTripper interface.
// The token is read at call time so the latest login state always applies.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	newReq := req.Clone(req.Context())

	if token := g.session.Token(); token != "" {
		newReq.Header.Set("Authorization", "Bearer "+token)
	}

	// JSON is the default body encoding for POST and method-less requests only;
	// PUT and PATCH callers set their own Content-Type.
	if newReq.Header.Get("Content-Type") == "" && (req.Method == "" || req.Method == http.MethodPost) {
		newReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.base.RoundTrip(newReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		ctx := req.Context()
		slog.WarnContext(ctx, "request rejected, ending session", "status", resp.StatusCode, "url", req.URL.Redacted())
		if err := g.session.Logout(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to clear session after rejection", "error", err)
		}
		return nil, ErrSessionExpired
	}

	return resp, nil
}

// Client returns an http.Client sending every request through the gateway.
func (g *Gateway) Client() *http.Client {
	return &http.Client{Transport: g}
}

// Do sends a request with the given method and body to url.
// An empty method defaults to GET on the wire but still receives the JSON
// Content-Type default.
func (g *Gateway) Do(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	// NewRequest normalizes "" to GET; keep the caller's intent for the default
	req.Method = method
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return g.RoundTrip(req)
}
