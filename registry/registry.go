// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry persists manually registered remote agent servers.
//
// Local instances are found by scanning listening ports; anything
// off-host has to be told to us. The registry is a small SQLite table
// of {url, name, proxy_address} records at an XDG data path. The
// discovery loop reads the full list on every pass, so writes here
// take effect within one poll interval.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fleetglass/fleetglass/lib/clock"
	"github.com/fleetglass/fleetglass/lib/sqlitepool"
)

// Sentinel errors callers branch on.
var (
	ErrExists   = errors.New("registry: remote already exists")
	ErrNotFound = errors.New("registry: remote not found")
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS remotes (
	url           TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	proxy_address TEXT NOT NULL DEFAULT '',
	added_at      INTEGER NOT NULL
);
`

// Remote is one manually registered agent server.
type Remote struct {
	// URL is the server's base URL and the record's identity. Stored
	// normalized: scheme and host required, trailing slash stripped.
	URL string

	// Name is an optional display name. The UI falls back to the URL
	// host when empty.
	Name string

	// ProxyAddress is an optional host:port through which the server
	// is reachable (SSH tunnel, port forward). When set, probes and
	// event streams dial http://{ProxyAddress} while URL remains the
	// record's identity.
	ProxyAddress string

	// AddedAt is the registration time in Unix milliseconds.
	AddedAt int64
}

// Config holds the parameters for opening a registry store.
type Config struct {
	// Path is the SQLite database file. Parent directories are created
	// as needed. Required.
	Path string

	// PoolSize is the connection pool size. Defaults per sqlitepool.
	PoolSize int

	// Clock provides registration timestamps. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil discards.
	Logger *slog.Logger
}

// Store is the SQLite-backed remote registry. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens (creating if necessary) the registry database at
// config.Path and ensures its schema.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("registry: Path is required")
	}
	timeSource := config.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: creating data directory: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schemaSQL, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return &Store{pool: pool, clock: timeSource, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Add registers a remote. The URL is validated and normalized before
// storage. Returns ErrExists (wrapped) when the normalized URL is
// already registered.
func (s *Store) Add(ctx context.Context, remote Remote) error {
	normalized, err := normalizeRemote(remote)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("registry: add: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("registry: add: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	exists, err := remoteExists(conn, normalized.URL)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrExists, normalized.URL)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO remotes (url, name, proxy_address, added_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				normalized.URL,
				normalized.Name,
				normalized.ProxyAddress,
				s.clock.Now().UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("registry: insert %s: %w", normalized.URL, err)
	}

	s.logger.Info("remote registered",
		"url", normalized.URL,
		"name", normalized.Name,
		"proxy_address", normalized.ProxyAddress,
	)
	return nil
}

// Remove deletes a remote by URL. Returns ErrNotFound (wrapped) when
// the URL is not registered.
func (s *Store) Remove(ctx context.Context, rawURL string) error {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("registry: remove: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("registry: remove: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	exists, err := remoteExists(conn, normalized)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, normalized)
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM remotes WHERE url = ?`,
		&sqlitex.ExecOptions{Args: []any{normalized}})
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", normalized, err)
	}

	s.logger.Info("remote removed", "url", normalized)
	return nil
}

// Get returns the remote registered under the given URL. Returns
// ErrNotFound (wrapped) when absent.
func (s *Store) Get(ctx context.Context, rawURL string) (Remote, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return Remote{}, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Remote{}, fmt.Errorf("registry: get: %w", err)
	}
	defer s.pool.Put(conn)

	var remote Remote
	found := false
	err = sqlitex.Execute(conn,
		`SELECT url, name, proxy_address, added_at FROM remotes WHERE url = ?`,
		&sqlitex.ExecOptions{
			Args: []any{normalized},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				remote = scanRemote(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Remote{}, fmt.Errorf("registry: get %s: %w", normalized, err)
	}
	if !found {
		return Remote{}, fmt.Errorf("%w: %s", ErrNotFound, normalized)
	}
	return remote, nil
}

// List returns all registered remotes in registration order.
func (s *Store) List(ctx context.Context) ([]Remote, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer s.pool.Put(conn)

	var remotes []Remote
	err = sqlitex.Execute(conn,
		`SELECT url, name, proxy_address, added_at FROM remotes ORDER BY added_at, url`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				remotes = append(remotes, scanRemote(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return remotes, nil
}

func scanRemote(stmt *sqlite.Stmt) Remote {
	return Remote{
		URL:          stmt.ColumnText(0),
		Name:         stmt.ColumnText(1),
		ProxyAddress: stmt.ColumnText(2),
		AddedAt:      stmt.ColumnInt64(3),
	}
}

func remoteExists(conn *sqlite.Conn, normalizedURL string) (bool, error) {
	exists := false
	err := sqlitex.Execute(conn,
		`SELECT 1 FROM remotes WHERE url = ?`,
		&sqlitex.ExecOptions{
			Args: []any{normalizedURL},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("registry: lookup %s: %w", normalizedURL, err)
	}
	return exists, nil
}

// normalizeRemote validates a remote's fields and returns it with the
// URL in canonical form.
func normalizeRemote(remote Remote) (Remote, error) {
	normalized, err := normalizeURL(remote.URL)
	if err != nil {
		return Remote{}, err
	}
	remote.URL = normalized

	if remote.ProxyAddress != "" {
		host, port, err := net.SplitHostPort(remote.ProxyAddress)
		if err != nil || host == "" || port == "" {
			return Remote{}, fmt.Errorf("registry: invalid proxy address %q (want host:port)", remote.ProxyAddress)
		}
	}
	return remote, nil
}

// normalizeURL requires an absolute http(s) URL with a host and strips
// any trailing slash so lookups are insensitive to it.
func normalizeURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("registry: URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("registry: invalid URL %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("registry: URL %q must be http or https", rawURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("registry: URL %q has no host", rawURL)
	}
	return strings.TrimRight(rawURL, "/"), nil
}
