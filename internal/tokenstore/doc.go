// Package tokenstore provides persistent key-value storage for session data.
//
// The session layer stores the bearer token (and the pending OAuth state) under
// fixed keys. Backends trade off security and deployment needs:
//   - File: one file per key with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - SQLite: a single local database file, handy when several tools share a session
//   - Memory: process-local map, used in tests and for multiple sessions in one process
//   - Env: read-only environment variables (requires external secret management)
//
// Backends that can observe writes from other processes or other sessions also
// implement Watcher, which the session layer uses to stay in sync.
package tokenstore
