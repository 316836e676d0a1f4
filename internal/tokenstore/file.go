package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileStore keeps one file per key inside a directory, with secure permissions.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	dir string
}

// Compile-time checks to ensure FileStore implements Store and Watcher
var (
	_ Store   = (*FileStore)(nil)
	_ Watcher = (*FileStore)(nil)
)

// NewFileStore creates a FileStore rooted at dir, creating it with 0700
// permissions if it doesn't exist.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		dir: dir,
	}, nil
}

// path maps a key to its file, rejecting keys that would escape the directory.
func (f *FileStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".tmp") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}

// Get returns the stored value after trimming whitespace. Returns ErrNotFound if
// the file doesn't exist or is empty, and an error if it has insecure permissions.
func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filePath, err := f.path(key)
	if err != nil {
		return "", err
	}

	// Check file permissions before reading
	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		// Removed between Stat and ReadFile
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: empty file %s", ErrNotFound, filePath)
	}
	return value, nil
}

// Set atomically saves the value using temp file + rename for crash safety.
// The file keeps the 0600 permissions of its temp file (owner read/write only).
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := f.path(key)
	if err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(f.dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.WriteString(strings.TrimSpace(value) + "\n"); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	return os.Rename(tempName, filePath)
}

// Remove deletes the file for key. A missing file is not an error.
func (f *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Watch reports changes to files in the store directory, including those made
// by other processes sharing the directory.
func (f *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", f.dir, err)
	}

	changes := make(chan Change, 16)

	go func() {
		defer close(changes)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// Permission-only updates and temp files never change a value
				if event.Op == fsnotify.Chmod {
					continue
				}
				key := filepath.Base(event.Name)
				if _, err := f.path(key); err != nil {
					continue
				}
				select {
				case changes <- Change{Key: key}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "file store watcher error", "dir", f.dir, "error", err)
			}
		}
	}()

	return changes, nil
}
