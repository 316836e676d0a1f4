package tokenstore

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. Every Watch subscriber is told
// about every write, which lets several sessions in one process share a store
// the way browser tabs share local storage.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string]string
	subscribers map[chan Change]struct{}
}

// Compile-time checks to ensure MemoryStore implements Store and Watcher
var (
	_ Store   = (*MemoryStore)(nil)
	_ Watcher = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string]string),
		subscribers: make(map[chan Change]struct{}),
	}
}

// Get returns the value for key or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores the value and notifies subscribers.
func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.values[key] = value
	m.notifyLocked(key)
	m.mu.Unlock()
	return nil
}

// Remove deletes the key and notifies subscribers if it was present.
func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.values[key]; ok {
		delete(m.values, key)
		m.notifyLocked(key)
	}
	m.mu.Unlock()
	return nil
}

// Watch subscribes to changes until ctx is done.
func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := make(chan Change, 16)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

// notifyLocked delivers a change to every subscriber without blocking.
// A subscriber with a full buffer misses the notification.
func (m *MemoryStore) notifyLocked(key string) {
	for ch := range m.subscribers {
		select {
		case ch <- Change{Key: key}:
		default:
		}
	}
}
