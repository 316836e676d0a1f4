package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Server:  ServerConfig{Host: "127.0.0.1"},
		Storage: StorageConfig{Type: StorageTypeMemory},
		IdentityProvider: IdentityProviderConfig{
			BaseURL:  "https://auth.example.com",
			ClientID: "client",
		},
		Backend: BackendConfig{
			VerifyEndpoint: "http://127.0.0.1:1/verify",
			APIBaseURL:     "http://127.0.0.1:1/api",
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}
	// Any free port
	cfg.Server.Port = 0
	return cfg
}

func TestNewRequiresLoginSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdentityProvider.ClientID = ""

	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() error = nil, want missing client_id")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	application, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- application.Start(ctx) }()

	// Log in the way the callback handler would
	loginDone := make(chan error, 1)
	go func() { loginDone <- application.WaitForLogin(ctx) }()

	if err := application.Session().Login(ctx, "token"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	select {
	case err := <-loginDone:
		if err != nil {
			t.Fatalf("WaitForLogin() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForLogin() did not return after login")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestWaitForLoginCanceled(t *testing.T) {
	application, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := application.WaitForLogin(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForLogin() error = %v, want context.Canceled", err)
	}
}
