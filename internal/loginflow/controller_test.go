package loginflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/florianilch/authgate/internal/tokenstore"
)

// recordingSession counts Login calls.
type recordingSession struct {
	tokens []string
}

func (r *recordingSession) Login(_ context.Context, token string) error {
	r.tokens = append(r.tokens, token)
	return nil
}

// verifyServer is a fake backend verification endpoint.
type verifyServer struct {
	*httptest.Server
	hits     atomic.Int32
	lastCode atomic.Value
}

func newVerifyServer(t *testing.T, status int, body string) *verifyServer {
	t.Helper()
	v := &verifyServer{}
	v.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v.hits.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("verify method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("verify Content-Type = %q, want application/json", ct)
		}
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding verify body: %v", err)
		}
		v.lastCode.Store(req.Code)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(v.Close)
	return v
}

func testConfig(verifyURL string) Config {
	return Config{
		IdentityProviderBaseURL: "https://auth.example.com/",
		ClientID:                "client-123",
		RedirectURI:             "http://localhost:3000/auth/callback",
		BackendVerifyEndpoint:   verifyURL,
	}
}

func newController(t *testing.T, cfg Config, sess Session, store tokenstore.Store, opts ...Option) *Controller {
	t.Helper()
	c, err := New(cfg, sess, store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return u
}

func TestAuthorizeURL(t *testing.T) {
	c := newController(t, testConfig("http://backend.invalid/verify"), &recordingSession{}, tokenstore.NewMemoryStore())

	u := mustParse(t, c.AuthorizeURL("s1"))
	if got := u.Scheme + "://" + u.Host + u.Path; got != "https://auth.example.com/oauth2/authorize" {
		t.Errorf("authorize endpoint = %q", got)
	}

	want := map[string]string{
		"client_id":     "client-123",
		"redirect_uri":  "http://localhost:3000/auth/callback",
		"response_type": "code",
		"scope":         "openid offline_access",
		"state":         "s1",
	}
	q := u.Query()
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
}

func TestStateDiffersAcrossAttempts(t *testing.T) {
	c := newController(t, testConfig("http://backend.invalid/verify"), &recordingSession{}, tokenstore.NewMemoryStore())

	first := mustParse(t, mustBegin(t, c)).Query().Get("state")
	second := mustParse(t, mustBegin(t, c)).Query().Get("state")
	if first == "" || first == second {
		t.Errorf("state values %q and %q, want distinct non-empty", first, second)
	}
}

func mustBegin(t *testing.T, c *Controller) string {
	t.Helper()
	u, err := c.BeginLogin(context.Background())
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}
	return u
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantErr      error
		wantTokens   []string
		wantRedirect string
	}{
		{
			name:         "access token received",
			status:       http.StatusOK,
			body:         `{"access_token":"xyz","token_type":"Bearer"}`,
			wantTokens:   []string{"xyz"},
			wantRedirect: "/",
		},
		{
			name:    "no access token field",
			status:  http.StatusOK,
			body:    `{}`,
			wantErr: ErrNoAccessToken,
		},
		{
			name:    "backend rejects code",
			status:  http.StatusBadRequest,
			body:    `{"error":"invalid_grant"}`,
			wantErr: ErrVerificationFailed,
		},
		{
			name:    "backend error",
			status:  http.StatusInternalServerError,
			body:    ``,
			wantErr: ErrVerificationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newVerifyServer(t, tt.status, tt.body)
			sess := &recordingSession{}
			c := newController(t, testConfig(backend.URL), sess, tokenstore.NewMemoryStore())

			outcome, err := c.HandleCallback(context.Background(), mustParse(t, "/auth/callback?code=abc123"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("HandleCallback() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("HandleCallback() error = %v", err)
			}

			if len(sess.tokens) != len(tt.wantTokens) {
				t.Fatalf("Login calls = %v, want %v", sess.tokens, tt.wantTokens)
			}
			for i := range tt.wantTokens {
				if sess.tokens[i] != tt.wantTokens[i] {
					t.Errorf("Login(%q), want Login(%q)", sess.tokens[i], tt.wantTokens[i])
				}
			}
			if outcome.Redirect != tt.wantRedirect {
				t.Errorf("Redirect = %q, want %q", outcome.Redirect, tt.wantRedirect)
			}
			if got, _ := backend.lastCode.Load().(string); got != "abc123" {
				t.Errorf("code sent = %q, want abc123", got)
			}
		})
	}
}

func TestHandleCallbackWithoutCode(t *testing.T) {
	backend := newVerifyServer(t, http.StatusOK, `{"access_token":"xyz"}`)
	sess := &recordingSession{}
	c := newController(t, testConfig(backend.URL), sess, tokenstore.NewMemoryStore())

	outcome, err := c.HandleCallback(context.Background(), mustParse(t, "/auth/callback"))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if outcome.Step.Effect != EffectAwaitCode {
		t.Errorf("Effect = %v, want await-code", outcome.Step.Effect)
	}
	if backend.hits.Load() != 0 {
		t.Errorf("verify endpoint hits = %d, want 0", backend.hits.Load())
	}
	if len(sess.tokens) != 0 || outcome.Redirect != "" {
		t.Errorf("session changed: logins %v, redirect %q", sess.tokens, outcome.Redirect)
	}
}

func TestHandleCallbackOffCallbackPath(t *testing.T) {
	backend := newVerifyServer(t, http.StatusOK, `{"access_token":"xyz"}`)
	c := newController(t, testConfig(backend.URL), &recordingSession{}, tokenstore.NewMemoryStore())

	outcome, err := c.HandleCallback(context.Background(), mustParse(t, "/login?code=abc"))
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if outcome.Step.State != StatePrompt || backend.hits.Load() != 0 {
		t.Errorf("outcome %+v with %d hits, want prompt and no request", outcome, backend.hits.Load())
	}
}

func TestHandleCallbackTransportFailure(t *testing.T) {
	backend := newVerifyServer(t, http.StatusOK, `{}`)
	backend.Close()

	sess := &recordingSession{}
	c := newController(t, testConfig(backend.URL), sess, tokenstore.NewMemoryStore())

	_, err := c.HandleCallback(context.Background(), mustParse(t, "/auth/callback?code=abc"))
	if err == nil {
		t.Fatal("HandleCallback() error = nil, want transport error")
	}
	if !strings.Contains(err.Error(), "verification request") {
		t.Errorf("error %q does not describe the failed request", err)
	}
	if len(sess.tokens) != 0 {
		t.Errorf("Login called %v on transport failure", sess.tokens)
	}
}

// cancelingTransport cancels the login context once the response is produced,
// simulating a page torn down during the exchange.
type cancelingTransport struct {
	cancel context.CancelFunc
}

func (c *cancelingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.cancel()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(`{"access_token":"late"}`)),
	}, nil
}

func TestHandleCallbackCanceledBeforeLogin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &recordingSession{}
	client := &http.Client{Transport: &cancelingTransport{cancel: cancel}}
	c := newController(t, testConfig("http://backend.invalid/verify"), sess, tokenstore.NewMemoryStore(), WithHTTPClient(client))

	_, err := c.HandleCallback(ctx, mustParse(t, "/auth/callback?code=abc"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleCallback() error = %v, want context.Canceled", err)
	}
	if len(sess.tokens) != 0 {
		t.Errorf("Login called %v after cancellation", sess.tokens)
	}
}

func TestVerifyState(t *testing.T) {
	backend := newVerifyServer(t, http.StatusOK, `{"access_token":"xyz"}`)

	cfg := testConfig(backend.URL)
	cfg.VerifyState = true

	t.Run("matching state", func(t *testing.T) {
		sess := &recordingSession{}
		store := tokenstore.NewMemoryStore()
		c := newController(t, cfg, sess, store, WithStateGenerator(func() string { return "expected" }))

		mustBegin(t, c)
		outcome, err := c.HandleCallback(context.Background(), mustParse(t, "/auth/callback?code=abc&state=expected"))
		if err != nil {
			t.Fatalf("HandleCallback() error = %v", err)
		}
		if outcome.Redirect != "/" || len(sess.tokens) != 1 {
			t.Errorf("outcome %+v logins %v, want redirect and one login", outcome, sess.tokens)
		}

		// State is single use
		_, err = c.HandleCallback(context.Background(), mustParse(t, "/auth/callback?code=abc&state=expected"))
		if !errors.Is(err, ErrStateMismatch) {
			t.Errorf("replayed callback error = %v, want ErrStateMismatch", err)
		}
	})

	for _, location := range []string{
		"/auth/callback?code=abc&state=forged",
		"/auth/callback?code=abc",
	} {
		t.Run(location, func(t *testing.T) {
			before := backend.hits.Load()
			sess := &recordingSession{}
			c := newController(t, cfg, sess, tokenstore.NewMemoryStore(), WithStateGenerator(func() string { return "expected" }))

			mustBegin(t, c)
			_, err := c.HandleCallback(context.Background(), mustParse(t, location))
			if !errors.Is(err, ErrStateMismatch) {
				t.Fatalf("HandleCallback() error = %v, want ErrStateMismatch", err)
			}
			if backend.hits.Load() != before || len(sess.tokens) != 0 {
				t.Errorf("mismatched state reached backend or session")
			}
		})
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}, &recordingSession{}, tokenstore.NewMemoryStore()); err == nil {
		t.Error("New() with empty config error = nil, want error")
	}
	if _, err := New(testConfig("http://x/verify"), nil, tokenstore.NewMemoryStore()); err == nil {
		t.Error("New() with nil session error = nil, want error")
	}
}
