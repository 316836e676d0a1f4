package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore provides read-only access to values stored in environment variables.
// The variable name is the prefix followed by the upper-cased key
// (e.g. prefix AUTHGATE_ and key access_token → AUTHGATE_ACCESS_TOKEN).
// Suitable for issuing requests with an externally provided token, not for login.
type EnvStore struct {
	prefix  string
	environ func(string) (string, bool)
}

// Compile-time check to ensure EnvStore implements Store
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore reading variables with the given prefix.
func NewEnvStore(prefix string) (*EnvStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvStore{
		prefix:  prefix,
		environ: os.LookupEnv,
	}, nil
}

// variable returns the environment variable name for key.
func (e *EnvStore) variable(key string) string {
	return e.prefix + strings.ToUpper(key)
}

// Get returns the value from the environment variable. Returns ErrNotFound if unset or empty.
func (e *EnvStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, ok := e.environ(e.variable(key))
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, e.variable(key))
	}
	return value, nil
}

// Set is not supported for environment variables (they are read-only).
func (e *EnvStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.variable(key))
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.variable(key))
}
