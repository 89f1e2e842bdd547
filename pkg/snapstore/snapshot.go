// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
)

// SnapshotRO is a read-only handle to an attached snapshot database.
type SnapshotRO struct {
	store *Store
	name  SqlName
}

// Name returns the snapshot's identifier.
func (s *SnapshotRO) Name() SqlName { return s.name }

// Close detaches the snapshot's database from the shared connection.
func (s *SnapshotRO) Close(ctx context.Context) error {
	return s.store.Detach(ctx, s.name)
}

// Row is one file-info record stored in a snapshot, keyed by its row id.
type Row struct {
	ID         uint64
	Path       []byte
	Size       uint64
	Identifier fileinfo.Identifier
	Info       fileinfo.Info
}

// Get loads a single row by id.
func (s *SnapshotRO) Get(ctx context.Context, id uint64) (*Row, error) {
	query := fmt.Sprintf(`SELECT id, path, size, identifier, info FROM %s.snap WHERE id = ?`, s.name.String())
	row := s.store.db.QueryRowContext(ctx, query, id)
	return scanRow(row)
}

// ForEach invokes fn for every row in the snapshot, in id order.
func (s *SnapshotRO) ForEach(ctx context.Context, fn func(Row) error) error {
	query := fmt.Sprintf(`SELECT id, path, size, identifier, info FROM %s.snap ORDER BY id`, s.name.String())
	rows, err := s.store.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("snapstore: query %s: %w", s.name, err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRowCursor(rows)
		if err != nil {
			return err
		}
		if err := fn(*r); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(row scannable) (*Row, error) {
	var r Row
	var path []byte
	var identifier []byte
	var infoJSON string
	if err := row.Scan(&r.ID, &path, &r.Size, &identifier, &infoJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("snapstore: scan row: %w", err)
	}
	r.Path = path
	copy(r.Identifier[:], identifier)
	if err := json.Unmarshal([]byte(infoJSON), &r.Info); err != nil {
		return nil, fmt.Errorf("snapstore: decoding info for row %d: %w", r.ID, err)
	}
	return &r, nil
}

func scanRowCursor(rows *sql.Rows) (*Row, error) {
	return scanRow(rows)
}

// SnapshotRW is a writable handle used to fill a freshly opened snapshot.
// Rows are inserted inside a single transaction; call Save to commit it,
// or let it go unsaved (its transaction is never started until Filler is
// called) to leave the snapshot marked unfilled.
type SnapshotRW struct {
	store *Store
	name  SqlName
}

// Name returns the snapshot's identifier.
func (s *SnapshotRW) Name() SqlName { return s.name }

// Filler begins a transaction for populating this snapshot. The
// transaction is rolled back unless Save is called.
func (s *SnapshotRW) Filler(ctx context.Context) (*Filler, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("snapstore: begin filler: %w", err)
	}
	return &Filler{store: s.store, name: s.name, tx: tx}, nil
}

// Filler accumulates rows for one snapshot inside a single transaction.
type Filler struct {
	store *Store
	name  SqlName
	tx    *sql.Tx
	saved bool
}

// Add inserts one file-info record.
func (f *Filler) Add(ctx context.Context, path []byte, info fileinfo.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("snapstore: encoding info: %w", err)
	}
	id := info.Identifier()
	query := fmt.Sprintf(`INSERT INTO %s.snap(path, identifier, info, size) VALUES (?, ?, ?, ?)`, f.name.String())
	if _, err := f.tx.ExecContext(ctx, query, path, id[:], string(data), info.Size); err != nil {
		return fmt.Errorf("snapstore: inserting row: %w", err)
	}
	return nil
}

// Save marks the snapshot filled and commits the transaction. Without a
// call to Save, the Filler's changes are discarded on Abandon.
func (f *Filler) Save(ctx context.Context) error {
	if _, err := f.tx.ExecContext(ctx,
		`UPDATE snapshots SET filled_at = ? WHERE name = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), f.name.String(),
	); err != nil {
		f.tx.Rollback()
		return fmt.Errorf("snapstore: marking filled: %w", err)
	}
	if err := f.tx.Commit(); err != nil {
		return fmt.Errorf("snapstore: commit: %w", err)
	}
	f.saved = true
	return nil
}

// Abandon rolls back the filler's transaction, leaving the snapshot
// unfilled. Safe to call after Save (a no-op then).
func (f *Filler) Abandon() error {
	if f.saved {
		return nil
	}
	return f.tx.Rollback()
}
