// Package session holds the current bearer token and the authentication flag
// derived from it.
//
// A Store is created once per application and shared by reference with the
// request gateway and the login flow. The token is persisted in a
// tokenstore.Store under TokenKey; stores that implement tokenstore.Watcher
// let Sync pick up logins and logouts performed by other processes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/florianilch/authgate/internal/tokenstore"
)

// TokenKey is the storage key holding the bearer token.
const TokenKey = "access_token"

// User is reserved for profile data decoded from the token. It is never
// populated by this package.
type User struct {
	Subject string
	Email   string
}

// Session is a snapshot of the authentication state.
type Session struct {
	Token           string
	IsAuthenticated bool
	User            *User
}

// Store owns the in-memory session and keeps it consistent with storage.
type Store struct {
	backend tokenstore.Store

	mu      sync.RWMutex
	current Session
	// generation counts transitions so a slow read can tell it was superseded.
	generation uint64

	// changed is closed and replaced on every state transition.
	changed chan struct{}
}

// New creates a Store and loads any previously persisted token.
func New(ctx context.Context, backend tokenstore.Store) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing token store")
	}

	s := &Store{
		backend: backend,
		changed: make(chan struct{}),
	}

	if err := s.Resync(ctx); err != nil {
		return nil, fmt.Errorf("failed to read initial token: %w", err)
	}

	return s, nil
}

// Login persists token and marks the session authenticated. The token is not
// validated.
func (s *Store) Login(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	s.setLocked(token)

	slog.InfoContext(ctx, "session authenticated")
	return nil
}

// Logout removes the persisted token and clears the session. Calling it while
// logged out leaves the same end state.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasAuthenticated := s.current.IsAuthenticated
	err := s.backend.Remove(ctx, TokenKey)
	// In-memory state is cleared even when storage fails so this process stops
	// sending the token.
	s.setLocked("")
	if err != nil {
		return fmt.Errorf("removing token: %w", err)
	}

	if wasAuthenticated {
		slog.InfoContext(ctx, "session cleared")
	}
	return nil
}

// Current returns the latest session snapshot.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// Changed returns a channel that is closed on the next state transition.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Resync re-reads the persisted token and updates the session to match.
// A read that overlaps a Login or Logout is discarded.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.RLock()
	generation := s.generation
	s.mu.RUnlock()

	token, err := s.backend.Get(ctx, TokenKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		token, err = "", nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		slog.DebugContext(ctx, "discarding stale session read")
		return nil
	}
	if token != s.current.Token {
		s.setLocked(token)
		slog.DebugContext(ctx, "session resynchronized from storage", "authenticated", token != "")
	}
	return nil
}

// Sync follows storage change notifications until ctx is done, resynchronizing
// whenever the token key changes. Without a watchable backend it just waits.
func (s *Store) Sync(ctx context.Context) error {
	watcher, ok := s.backend.(tokenstore.Watcher)
	if !ok {
		<-ctx.Done()
		return nil
	}

	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watching token store: %w", err)
	}

	for change := range changes {
		if change.Key != TokenKey {
			continue
		}
		if err := s.Resync(ctx); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "session resync failed", "error", err)
		}
	}
	return nil
}

// setLocked replaces the session and wakes waiters. Callers hold s.mu.
func (s *Store) setLocked(token string) {
	s.current = Session{
		Token:           token,
		IsAuthenticated: token != "",
	}
	s.generation++
	close(s.changed)
	s.changed = make(chan struct{})
}
