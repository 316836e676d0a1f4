package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSQLitePollInterval is how often SQLiteStore.Watch checks for changes.
const DefaultSQLitePollInterval = time.Second

// SQLiteStore persists values in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// PollInterval controls how often Watch scans for changes made by other connections.
	PollInterval time.Duration
}

// Compile-time checks to ensure SQLiteStore implements Store and Watcher
var (
	_ Store   = (*SQLiteStore)(nil)
	_ Watcher = (*SQLiteStore)(nil)
)

// OpenSQLiteStore opens (creating if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	return &SQLiteStore{db: db, PollInterval: DefaultSQLitePollInterval}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value for key or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the value for key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the key. A missing key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Watch polls the table and reports keys whose row was added, updated or deleted
// since the previous scan.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan Change, error) {
	last, err := s.versions(ctx)
	if err != nil {
		return nil, err
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultSQLitePollInterval
	}

	changes := make(chan Change, 16)

	go func() {
		defer close(changes)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, err := s.versions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.WarnContext(ctx, "sqlite store poll failed", "error", err)
				}
				continue
			}

			for _, key := range diffVersions(last, current) {
				select {
				case changes <- Change{Key: key}:
				case <-ctx.Done():
					return
				}
			}
			last = current
		}
	}()

	return changes, nil
}

// versions returns updated_at per key.
func (s *SQLiteStore) versions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, updated_at FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("scan kv: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]int64)
	for rows.Next() {
		var key string
		var updatedAt int64
		if err := rows.Scan(&key, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		versions[key] = updatedAt
	}
	return versions, rows.Err()
}

// diffVersions lists keys present in only one snapshot or with differing versions.
func diffVersions(before, after map[string]int64) []string {
	var changed []string
	for key, v := range after {
		if prev, ok := before[key]; !ok || prev != v {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	return changed
}
