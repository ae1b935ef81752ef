// Mixpanel Data - Analytics Ingestion and Local Query Library
// Copyright 2026 Jared McFarland (jaredmcfarland)
// SPDX-License-Identifier: Apache-2.0
// https://github.com/jaredmcfarland/mixpanel-data-sub004

// Package store is the embedded analytical engine: one DuckDB database per
// project holding event and profile tables plus a reserved _metadata table
// with fetch provenance. The engine is single-writer; reads may run
// concurrently, writes serialize on a store-level mutex, and a second
// write-intent open of the same file fails with DATABASE_LOCKED.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/config"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/creds"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/logging"
	"github.com/jaredmcfarland/mixpanel-data-sub004/internal/mperr"
)

// metadataTable is the reserved provenance table. Names with a leading
// underscore are reserved for the engine and rejected for user tables.
const metadataTable = "_metadata"

// Store wraps one DuckDB database.
type Store struct {
	conn      *sql.DB
	path      string // empty for in-memory
	readOnly  bool
	ephemeral bool

	// writeMu serializes ingest and drop operations. DuckDB uses
	// optimistic concurrency; concurrent index-maintaining inserts into
	// the same table can abort each other, so writes take turns while
	// network I/O overlaps upstream.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Option customizes how a store is opened.
type Option func(*options)

type options struct {
	settings config.StoreSettings
}

// WithStoreSettings applies resource tuning (threads, memory ceiling).
func WithStoreSettings(s config.StoreSettings) Option {
	return func(o *options) { o.settings = s }
}

// DefaultPath returns the conventional per-project database location,
// ${HOME}/.mixpanel-data/{project_id}.db.
func DefaultPath(projectID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", mperr.Wrap(mperr.CodeConfigError, "cannot resolve home directory for the database path", err)
	}
	return filepath.Join(home, creds.AppDirName, projectID+".db"), nil
}

// Open opens (creating if absent) a persistent database with write intent.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, mperr.New(mperr.CodeValidationError, "database path must not be empty")
	}
	return open(path, false, false, opts)
}

// OpenDefault opens the project's conventional database file.
func OpenDefault(projectID string, opts ...Option) (*Store, error) {
	path, err := DefaultPath(projectID)
	if err != nil {
		return nil, err
	}
	return open(path, false, false, opts)
}

// OpenReadOnly opens an existing database without write intent. Read-only
// handles coexist with a live writer.
func OpenReadOnly(path string, opts ...Option) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, mperr.Wrapf(mperr.CodeDatabaseNotFound, err,
			"database %s does not exist", path)
	}
	return open(path, true, false, opts)
}

// OpenMemory opens a database with zero disk footprint.
func OpenMemory(opts ...Option) (*Store, error) {
	return open("", false, false, opts)
}

// OpenEphemeral creates a database in the OS temp dir that is deleted on
// Close and, failing that, by the process-exit handler.
func OpenEphemeral(opts ...Option) (*Store, error) {
	f, err := os.CreateTemp("", "mixpanel-data-*.db")
	if err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "creating ephemeral database file", err)
	}
	path := f.Name()
	// DuckDB wants to create the file itself.
	if err := f.Close(); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "creating ephemeral database file", err)
	}
	if err := os.Remove(path); err != nil {
		return nil, mperr.Wrap(mperr.CodeQueryFailed, "creating ephemeral database file", err)
	}

	s, err := open(path, false, true, opts)
	if err != nil {
		return nil, err
	}
	registerEphemeral(path)
	return s, nil
}

// WithEphemeral runs fn against a temp-backed store and removes the file
// when fn returns, even on panic.
func WithEphemeral(fn func(*Store) error, opts ...Option) error {
	s, err := OpenEphemeral(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

func open(path string, readOnly, ephemeral bool, opts []Option) (*Store, error) {
	o := options{settings: config.Default().Store}
	for _, opt := range opts {
		opt(&o)
	}

	threads := o.settings.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := o.settings.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}

	if path != "" && !readOnly {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, mperr.Wrapf(mperr.CodeQueryFailed, err,
					"creating database directory %s", dir)
			}
		}
	}

	accessMode := "read_write"
	if readOnly {
		accessMode = "read_only"
	}
	dsnPath := path
	if dsnPath == "" {
		dsnPath = ":memory:"
	}
	dsn := fmt.Sprintf("%s?access_mode=%s&threads=%d&max_memory=%s",
		dsnPath, accessMode, threads, maxMemory)

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, mapOpenError(path, err)
	}

	// database/sql defers the real open; force it so lock conflicts
	// surface here instead of on the first query.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, mapOpenError(path, err)
	}

	conn.SetMaxOpenConns(threads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{
		conn:      conn,
		path:      path,
		readOnly:  readOnly,
		ephemeral: ephemeral,
	}

	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			closeQuietly(conn)
			return nil, err
		}
	}

	logging.Debug().
		Str("path", displayPath(path)).
		Bool("read_only", readOnly).
		Bool("ephemeral", ephemeral).
		Int("threads", threads).
		Str("max_memory", maxMemory).
		Msg("store opened")

	return s, nil
}

// initSchema creates the reserved metadata table.
func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+metadataTable+` (
		table_name       VARCHAR PRIMARY KEY,
		type             VARCHAR NOT NULL,
		fetched_at       TIMESTAMP NOT NULL,
		from_date        VARCHAR,
		to_date          VARCHAR,
		filter_events    VARCHAR,
		filter_where     VARCHAR,
		filter_cohort_id VARCHAR,
		filter_group_id  VARCHAR,
		filter_behaviors VARCHAR,
		row_count        BIGINT NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return mperr.Wrap(mperr.CodeQueryFailed, "initializing metadata table", err)
	}
	return nil
}

// Path returns the backing file path, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the store was opened without write intent.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Conn exposes the underlying connection pool for advanced composition.
func (s *Store) Conn() *sql.DB { return s.conn }

// Close checkpoints, releases the database, and removes the backing file
// for ephemeral stores. Safe to call multiple times.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if !s.readOnly && s.path != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
				logging.Warn().Err(err).Msg("checkpoint on close failed")
			}
			cancel()
		}

		s.closeErr = s.conn.Close()

		if s.ephemeral {
			unregisterEphemeral(s.path)
			if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
				logging.Warn().Err(err).Str("path", s.path).Msg("removing ephemeral database failed")
				if s.closeErr == nil {
					s.closeErr = err
				}
			}
			// DuckDB may leave a WAL next to the file.
			_ = os.Remove(s.path + ".wal")
		}
	})
	return s.closeErr
}

// ensureContext bounds operations that arrive without a deadline.
func (s *Store) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}

// mapOpenError converts DuckDB open failures into taxonomy errors.
func mapOpenError(path string, err error) error {
	display := displayPath(path)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "lock"):
		return mperr.Wrapf(mperr.CodeDatabaseLocked, err,
			"database %s is locked by another process; close the other writer or open read-only", display)
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such file"):
		return mperr.Wrapf(mperr.CodeDatabaseNotFound, err,
			"database %s does not exist", display)
	default:
		return mperr.Wrapf(mperr.CodeQueryFailed, err, "opening database %s", display)
	}
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// closeQuietly closes a resource in an error path where the close error
// is not actionable.
func closeQuietly(c interface{ Close() error }) {
	if c != nil {
		_ = c.Close()
	}
}
