package tokenstore

import (
	"context"
	"errors"
	"testing"
)

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	t.Setenv("AUTHGATE_TEST_ACCESS_TOKEN", "from-env")

	store, err := NewEnvStore("AUTHGATE_TEST_")
	if err != nil {
		t.Fatalf("NewEnvStore() error = %v", err)
	}

	got, err := store.Get(ctx, "access_token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("Get() = %q, want %q", got, "from-env")
	}

	if _, err := store.Get(ctx, "oauth_state"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() unset error = %v, want ErrNotFound", err)
	}
	if err := store.Set(ctx, "access_token", "x"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Set() error = %v, want ErrReadOnly", err)
	}
	if err := store.Remove(ctx, "access_token"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Remove() error = %v, want ErrReadOnly", err)
	}
}

func TestNewEnvStoreRequiresPrefix(t *testing.T) {
	if _, err := NewEnvStore(""); err == nil {
		t.Error("NewEnvStore(\"\") error = nil, want error")
	}
}
