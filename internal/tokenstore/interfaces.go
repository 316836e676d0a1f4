package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no stored value.
	ErrNotFound = errors.New("key not found")

	// ErrReadOnly is returned by Set and Remove on read-only backends.
	ErrReadOnly = errors.New("storage is read-only")
)

// Store reads, writes and removes string values by key.
type Store interface {
	// Get returns the stored value. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set persists the value, replacing any previous one.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Change reports that the value stored under Key may have changed.
// Receivers re-read the key; the new value is not carried.
type Change struct {
	Key string
}

// Watcher is implemented by stores that can report changes made by other writers.
//
// Delivery is best-effort. The channel is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}
