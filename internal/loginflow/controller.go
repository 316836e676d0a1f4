package loginflow

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/florianilch/authgate/internal/tokenstore"
)

const (
	// DefaultCallbackPath is the application route the identity provider redirects to.
	DefaultCallbackPath = "/auth/callback"

	// StateKey is the storage key holding the pending anti-replay state.
	StateKey = "oauth_state"

	// HomePath is where the browser goes after a successful login.
	HomePath = "/"
)

// DefaultScopes are requested when Config.Scopes is empty.
var DefaultScopes = []string{"openid", "offline_access"}

var (
	// ErrVerificationFailed is returned when the backend rejects the code exchange.
	ErrVerificationFailed = errors.New("backend verification failed")

	// ErrNoAccessToken is returned when the backend accepts the code but sends no token.
	ErrNoAccessToken = errors.New("no access token received")

	// ErrStateMismatch is returned when the callback's state does not match the pending login.
	ErrStateMismatch = errors.New("state parameter does not match pending login")
)

// Config holds the static client configuration.
type Config struct {
	// IdentityProviderBaseURL is the provider origin, e.g. https://auth.example.com.
	IdentityProviderBaseURL string
	ClientID                string
	RedirectURI             string
	// BackendVerifyEndpoint receives {"code": ...} and answers {"access_token": ...}.
	BackendVerifyEndpoint string

	Scopes       []string
	CallbackPath string

	// VerifyState rejects callbacks whose state does not match the pending login.
	VerifyState bool
}

// Session is the part of the session store the flow mutates.
type Session interface {
	Login(ctx context.Context, token string) error
}

// Outcome reports what HandleCallback did.
type Outcome struct {
	Step Step
	// Redirect is set when the caller should navigate away.
	Redirect string
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for the verification request.
// The client should carry a cookie jar if the backend relies on cookies.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// WithStateGenerator replaces the random state source.
func WithStateGenerator(gen func() string) Option {
	return func(c *Controller) {
		c.newState = gen
	}
}

// Controller runs the login and callback halves of the flow.
type Controller struct {
	cfg          Config
	oauth2Config *oauth2.Config
	session      Session
	store        tokenstore.Store
	client       *http.Client
	newState     func() string
}

// New creates a Controller. store keeps the pending state between BeginLogin
// and HandleCallback.
func New(cfg Config, session Session, store tokenstore.Store, opts ...Option) (*Controller, error) {
	if session == nil {
		return nil, fmt.Errorf("missing session")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if cfg.IdentityProviderBaseURL == "" || cfg.ClientID == "" || cfg.RedirectURI == "" || cfg.BackendVerifyEndpoint == "" {
		return nil, fmt.Errorf("identity provider base URL, client ID, redirect URI and verify endpoint are required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}

	base := strings.TrimRight(cfg.IdentityProviderBaseURL, "/")

	c := &Controller{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		session:  session,
		store:    store,
		newState: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		// Cookies set by the verification endpoint are kept and sent back,
		// like a browser request with credentials included.
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		c.client = &http.Client{Jar: jar}
	}

	return c, nil
}

// CallbackPath returns the configured callback route.
func (c *Controller) CallbackPath() string {
	return c.cfg.CallbackPath
}

// NewState returns a fresh anti-replay value.
func (c *Controller) NewState() string {
	return c.newState()
}

// AuthorizeURL builds the identity provider's authorize URL for state.
func (c *Controller) AuthorizeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

// BeginLogin starts an attempt and returns the URL to navigate to.
func (c *Controller) BeginLogin(ctx context.Context) (string, error) {
	state := c.NewState()

	if c.cfg.VerifyState {
		if err := c.store.Set(ctx, StateKey, state); err != nil {
			return "", fmt.Errorf("saving login state: %w", err)
		}
	}

	slog.DebugContext(ctx, "beginning login", "authorize_url", c.oauth2Config.Endpoint.AuthURL)
	return c.AuthorizeURL(state), nil
}

// HandleCallback processes the location the identity provider redirected to.
// The session is only changed on success, and not at all if ctx is done by
// the time the token arrives.
func (c *Controller) HandleCallback(ctx context.Context, location *url.URL) (Outcome, error) {
	step := Transition(c.cfg.CallbackPath, location.Path, location.Query())
	outcome := Outcome{Step: step}

	switch step.Effect {
	case EffectNone:
		return outcome, nil
	case EffectAwaitCode:
		slog.WarnContext(ctx, "callback without authorization code")
		return outcome, nil
	}

	if c.cfg.VerifyState {
		if err := c.checkState(ctx, step.ReturnedState); err != nil {
			return outcome, err
		}
	}

	token, err := c.Exchange(ctx, step.Code)
	if err != nil {
		return outcome, err
	}

	if err := ctx.Err(); err != nil {
		return outcome, fmt.Errorf("login abandoned: %w", err)
	}

	if err := c.session.Login(ctx, token); err != nil {
		return outcome, fmt.Errorf("storing session: %w", err)
	}

	outcome.Redirect = HomePath
	return outcome, nil
}

// checkState compares the returned state with the pending one and consumes it.
func (c *Controller) checkState(ctx context.Context, returned string) error {
	expected, err := c.store.Get(ctx, StateKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return fmt.Errorf("%w: no login in progress", ErrStateMismatch)
	}
	if err != nil {
		return fmt.Errorf("reading login state: %w", err)
	}

	if returned == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(returned)) != 1 {
		return ErrStateMismatch
	}

	if err := c.store.Remove(ctx, StateKey); err != nil {
		slog.WarnContext(ctx, "failed to clear login state", "error", err)
	}
	return nil
}

// verifyRequest is the body sent to the verification endpoint.
type verifyRequest struct {
	Code string `json:"code"`
}

// verifyResponse is the part of the verification response the flow reads.
type verifyResponse struct {
	AccessToken string `json:"access_token"`
}

// Exchange submits code to the backend verification endpoint and returns the access token.
func (c *Controller) Exchange(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(verifyRequest{Code: code})
	if err != nil {
		return "", fmt.Errorf("marshaling verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BackendVerifyEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verification request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.DebugContext(ctx, "verification response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrVerificationFailed, resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding verification response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", ErrNoAccessToken
	}

	return parsed.AccessToken, nil
}
