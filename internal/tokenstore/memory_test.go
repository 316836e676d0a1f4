package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := store.Get(ctx, "k"); got != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Remove error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreWatchFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()

	first, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	second, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := store.Set(ctx, "access_token", "t"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	for i, ch := range []<-chan Change{first, second} {
		select {
		case change := <-ch:
			if change.Key != "access_token" {
				t.Errorf("subscriber %d got key %q, want access_token", i, change.Key)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no notification", i)
		}
	}

	// Removing an absent key is silent
	if err := store.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	select {
	case change := <-first:
		t.Errorf("unexpected notification %+v", change)
	default:
	}

	cancel()
	select {
	case _, ok := <-first:
		if ok {
			t.Error("channel delivered after cancel, want closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
