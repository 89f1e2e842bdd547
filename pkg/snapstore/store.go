// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// rowBits is the width of the snapshot-ordinal field of the row id space:
// each snapshot's rows are addressed as
// (snapshotOrdinal<<(63-rowBits))|rowOrdinal, so a single database can
// carry at most 2^rowBits snapshots and 2^(63-rowBits) rows per snapshot.
const rowBits = 23

var (
	errTooManySnapshots = fmt.Errorf("snapstore: too many snapshots (limit 2^%d)", rowBits)
	errTooManyRows      = fmt.Errorf("snapstore: too many rows in one snapshot (limit 2^%d)", 63-rowBits)
)

// generateRowID packs (snapshotOrdinal, rowOrdinal) into the row id space
// shared across every attached snapshot database, so ids stay globally
// orderable without a central sequence.
func generateRowID(snapshotOrdinal, rowOrdinal uint64) (uint64, error) {
	if snapshotOrdinal >= 1<<rowBits {
		return 0, errTooManySnapshots
	}
	if rowOrdinal >= 1<<(63-rowBits) {
		return 0, errTooManyRows
	}
	return (snapshotOrdinal << (63 - rowBits)) | rowOrdinal, nil
}

// Store is the catalog of every snapshot taken under one root directory.
// It holds a single SQLite connection, deliberately capped to one
// connection: ATTACH DATABASE is connection-scoped, so every snapshot
// attached through this Store must share the same underlying connection
// or attachments silently vanish between queries.
type Store struct {
	db   *sql.DB
	root string

	snapshotCount uint64
}

// Open opens (creating if absent) the catalog rooted at dir. dir holds
// the root db.sqlite3 plus one <name>.db file per snapshot.
func Open(ctx context.Context, dir string) (*Store, error) {
	dbPath := filepath.Join(dir, "db.sqlite3")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("snapstore: open %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			filled_at DATETIME,
			is_uploaded BOOLEAN
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapstore: creating snapshots table: %w", err)
	}

	var count uint64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapstore: counting snapshots: %w", err)
	}

	return &Store{db: db, root: dir, snapshotCount: count}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the shared connection so sibling packages (diffengine) can
// issue queries across attached snapshot databases without re-attaching
// through a second connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) attachSQL(name SqlName) string {
	path := filepath.Join(s.root, name.String()+".db")
	return fmt.Sprintf("ATTACH DATABASE '%s' AS %s", path, name.String())
}

// Attach attaches name's database file to the shared connection. It is
// idempotent-safe to call repeatedly within a session: SQLite itself
// errors on a duplicate attach, which callers here treat as already-done.
func (s *Store) Attach(ctx context.Context, name SqlName) error {
	if _, err := s.db.ExecContext(ctx, s.attachSQL(name)); err != nil {
		if isAlreadyAttached(err) {
			return nil
		}
		return fmt.Errorf("snapstore: attach %s: %w", name, err)
	}
	return nil
}

// Detach detaches name's database from the shared connection.
func (s *Store) Detach(ctx context.Context, name SqlName) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DETACH DATABASE %s", name.String()))
	return err
}

func isAlreadyAttached(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces the sqlite3 message verbatim; attach
	// failures for a database already attached under the same name say so.
	msg := err.Error()
	return containsFold(msg, "already in use") || containsFold(msg, "database is already attached")
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if equalFold(s[i:i+len(substr)], substr) {
				return true
			}
		}
		return false
	})()
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (s *Store) snapshotExists(ctx context.Context, name SqlName) (bool, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s.sqlite_master WHERE type='table' AND name='snap'`, name.String())
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return false, fmt.Errorf("snapstore: checking %s: %w", name, err)
	}
	return count != 0, nil
}

// initSnapshot attaches name and creates its snap table if this is the
// first time it has been opened. It returns whether a new snapshot was
// created.
func (s *Store) initSnapshot(ctx context.Context, name SqlName) (bool, error) {
	if err := s.Attach(ctx, name); err != nil {
		return false, err
	}
	exists, err := s.snapshotExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("snapstore: begin: %w", err)
	}
	defer tx.Rollback()

	firstID, err := generateRowID(s.snapshotCount, 0)
	if err != nil {
		return false, err
	}

	// The insert-then-delete of a seed row forces SQLite's AUTOINCREMENT
	// counter to start past firstID, so subsequently inserted rows get ids
	// in this snapshot's reserved range rather than starting from 1.
	createSnap := fmt.Sprintf(`
		CREATE TABLE %[1]s.snap (
			id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			path BLOB,
			size INTEGER,
			identifier BLOB,
			info TEXT
		);
		INSERT INTO %[1]s.snap(id) VALUES (%[2]d);
		DELETE FROM %[1]s.snap WHERE id=%[2]d;
	`, name.String(), firstID)
	if _, err := tx.ExecContext(ctx, createSnap); err != nil {
		return false, fmt.Errorf("snapstore: creating snap table: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(name, created_at, filled_at) VALUES (?, ?, NULL)`,
		name.String(), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return false, fmt.Errorf("snapstore: registering snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("snapstore: commit: %w", err)
	}
	return true, nil
}

// OpenSnapshot attaches name, creating a new empty snapshot database if
// it does not already exist, and returns a writable handle.
func (s *Store) OpenSnapshot(ctx context.Context, name SqlName) (*SnapshotRW, error) {
	created, err := s.initSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	if created {
		s.snapshotCount++
	}
	return &SnapshotRW{store: s, name: name}, nil
}

// ReadonlySnapshot attaches an existing snapshot for reading. It errors if
// the snapshot's table does not exist; whether the snapshot was ever
// filled (saved) is not checked.
func (s *Store) ReadonlySnapshot(ctx context.Context, name SqlName) (*SnapshotRO, error) {
	if err := s.Attach(ctx, name); err != nil {
		return nil, err
	}
	exists, err := s.snapshotExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("snapstore: no snapshot named %s", name)
	}
	return &SnapshotRO{store: s, name: name}, nil
}

// EmptySnapshot returns a fixed, always-empty snapshot handle, useful as
// the "before" side of a diff against a from-scratch walk.
func (s *Store) EmptySnapshot(ctx context.Context) (*SnapshotRO, error) {
	name, err := NewSqlName("empty_snap")
	if err != nil {
		return nil, err
	}
	if _, err := s.initSnapshot(ctx, name); err != nil {
		return nil, err
	}
	return &SnapshotRO{store: s, name: name}, nil
}
