// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package diffengine computes the set of changes between two snapshots
// already attached to a snapstore.Store, entirely in SQL: one indexed
// table holding deleted/created/changed rows, queried with a kind bitmask
// and an inclusive size range.
package diffengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/snapstore"
)

// Kind is a bitmask tag on a diff row. Unlike a typical enum, a row's kind
// is represented as one set bit so Query can filter by OR-ing several
// kinds into a single allowed-mask without a SQL IN-list.
type Kind uint8

const (
	Deleted Kind = 1 << iota
	Created
	Changed
)

func (k Kind) String() string {
	switch k {
	case Deleted:
		return "deleted"
	case Created:
		return "created"
	case Changed:
		return "changed"
	default:
		return "unknown"
	}
}

// Diff holds the materialized delta between a before and after snapshot.
type Diff struct {
	store  *snapstore.Store
	name   snapstore.SqlName
	before snapstore.SqlName
	after  snapstore.SqlName
}

// New computes the difference between before and after, creating (or
// reusing) the diff's own attached database. Both snapshots must already
// have been opened against store (ReadonlySnapshot/OpenSnapshot).
func New(ctx context.Context, store *snapstore.Store, before, after snapstore.SqlName) (*Diff, error) {
	name, err := snapstore.NewSqlName(fmt.Sprintf("diff_%s_vs_%s", before.String(), after.String()))
	if err != nil {
		return nil, fmt.Errorf("diffengine: building diff name: %w", err)
	}

	if err := store.Attach(ctx, name); err != nil {
		return nil, err
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.diff (
			before INTEGER,
			after  INTEGER,
			type   INTEGER,
			size   INTEGER,
			path   BLOB
		)`, name.String())
	if _, err := store.DB().ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("diffengine: creating diff table: %w", err)
	}

	d := &Diff{store: store, name: name, before: before, after: after}
	if err := d.fill(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Diff) fill(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s.idx_ident ON snap ( identifier )`, d.after.String()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s.idx_ident ON snap ( identifier )`, d.before.String()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s.idx_info ON snap ( info )`, d.after.String()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s.idx_info ON snap ( info )`, d.before.String()),
		fmt.Sprintf(`DELETE FROM %s.diff`, d.name.String()),
		fmt.Sprintf(`
			INSERT INTO %[1]s.diff (before, after, type, size, path)
			SELECT id, NULL, %[4]d, size, path
			FROM %[2]s.snap
			WHERE identifier NOT IN (SELECT identifier FROM %[3]s.snap)`,
			d.name.String(), d.before.String(), d.after.String(), Deleted),
		fmt.Sprintf(`
			INSERT INTO %[1]s.diff (before, after, type, size, path)
			SELECT NULL, id, %[4]d, size, path
			FROM %[3]s.snap
			WHERE identifier NOT IN (SELECT identifier FROM %[2]s.snap)`,
			d.name.String(), d.before.String(), d.after.String(), Created),
		fmt.Sprintf(`
			INSERT INTO %[1]s.diff (before, after, type, size, path)
			SELECT %[2]s.snap.id, %[3]s.snap.id, %[4]d, %[3]s.snap.size, %[3]s.snap.path
			FROM %[3]s.snap
			INNER JOIN %[2]s.snap USING (identifier)
			WHERE %[3]s.snap.info != %[2]s.snap.info`,
			d.name.String(), d.before.String(), d.after.String(), Changed),
	}
	tx, err := d.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diffengine: begin fill: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("diffengine: filling diff: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("diffengine: commit fill: %w", err)
	}
	return nil
}

// Close detaches the diff's database from the shared connection.
func (d *Diff) Close(ctx context.Context) error {
	return d.store.Detach(ctx, d.name)
}

// ByRowID resolves a single diff row by its ROWID, the lookup the packer
// uses to turn a Pack's row ids back into the before/after info it needs
// to stream an archive.
func (d *Diff) ByRowID(ctx context.Context, rowID int64) (*Row, error) {
	query := fmt.Sprintf(`
		SELECT type, before, after, size, path
		FROM %s.diff
		WHERE ROWID = ?`, d.name.String())
	row := d.store.DB().QueryRowContext(ctx, query, rowID)

	var kindNum int
	var before, after sql.NullInt64
	var size uint64
	var path []byte
	if err := row.Scan(&kindNum, &before, &after, &size, &path); err != nil {
		return nil, fmt.Errorf("diffengine: looking up row %d: %w", rowID, err)
	}

	kind := Kind(kindNum)
	if kind != Deleted && kind != Created && kind != Changed {
		return nil, fmt.Errorf("diffengine: unrecognized diff row type %d", kindNum)
	}

	q := d.Query()
	r := Row{RowID: rowID, Kind: kind, Size: size, Path: path}
	if before.Valid {
		info, err := q.loadInfo(ctx, d.before, uint64(before.Int64))
		if err != nil {
			return nil, err
		}
		r.Before = info
	}
	if after.Valid {
		info, err := q.loadInfo(ctx, d.after, uint64(after.Int64))
		if err != nil {
			return nil, err
		}
		r.After = info
	}
	return &r, nil
}

// Query returns a Query over this diff, initially unfiltered (every
// kind, every size).
func (d *Diff) Query() *Query {
	return &Query{diff: d, enabledKinds: Deleted | Created | Changed, minSize: 0, maxSize: math.MaxUint64}
}

// Row is one resolved entry from a diff, with before/after info loaded
// on demand from the corresponding snapshot.
type Row struct {
	RowID  int64
	Kind   Kind
	Before *fileinfo.Info
	After  *fileinfo.Info
	Size   uint64
	Path   []byte
}

// Query narrows a Diff by kind and size before materializing rows.
type Query struct {
	diff         *Diff
	enabledKinds Kind
	minSize      uint64
	maxSize      uint64
}

// OnlyKind restricts the query to a single kind.
func (q *Query) OnlyKind(k Kind) *Query {
	q.enabledKinds = k
	return q
}

// DenyKind excludes a kind from the query.
func (q *Query) DenyKind(k Kind) *Query {
	q.enabledKinds &^= k
	return q
}

// WithSize restricts the query to files with size in [min, max].
func (q *Query) WithSize(min, max uint64) *Query {
	q.minSize, q.maxSize = min, max
	return q
}

// LessThan restricts the query to files smaller than size.
func (q *Query) LessThan(size uint64) *Query {
	if size == 0 {
		return q.WithSize(1, 0)
	}
	return q.WithSize(0, size-1)
}

// LargerOrEqual restricts the query to files at or above size.
func (q *Query) LargerOrEqual(size uint64) *Query {
	return q.WithSize(size, math.MaxUint64)
}

func (q *Query) selectSQL(columns string) string {
	return fmt.Sprintf(`
		SELECT %s
		FROM %s.diff
		WHERE (type & %d) != 0
		AND %d <= size AND size <= %d`,
		columns, q.diff.name.String(), q.enabledKinds, q.minSize, q.maxSize)
}

// Count returns the number of rows matching the query.
func (q *Query) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := q.diff.store.DB().QueryRowContext(ctx, q.selectSQL("COUNT(*)")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("diffengine: counting rows: %w", err)
	}
	return n, nil
}

// ForEach resolves and visits every row matching the query, in no
// particular order. Info records are fetched lazily, one query per side
// per row, to avoid loading unused info for rows the caller's fn rejects.
func (q *Query) ForEach(ctx context.Context, fn func(Row) error) error {
	rows, err := q.diff.store.DB().QueryContext(ctx, q.selectSQL("type, before, after, size, path, ROWID"))
	if err != nil {
		return fmt.Errorf("diffengine: querying diff: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kindNum int
		var before, after sql.NullInt64
		var size uint64
		var path []byte
		var rowID int64
		if err := rows.Scan(&kindNum, &before, &after, &size, &path, &rowID); err != nil {
			return fmt.Errorf("diffengine: scanning diff row: %w", err)
		}

		kind := Kind(kindNum)
		if kind != Deleted && kind != Created && kind != Changed {
			return fmt.Errorf("diffengine: unrecognized diff row type %d", kindNum)
		}

		row := Row{RowID: rowID, Kind: kind, Size: size, Path: path}
		if before.Valid {
			info, err := q.loadInfo(ctx, q.diff.before, uint64(before.Int64))
			if err != nil {
				return err
			}
			row.Before = info
		}
		if after.Valid {
			info, err := q.loadInfo(ctx, q.diff.after, uint64(after.Int64))
			if err != nil {
				return err
			}
			row.After = info
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (q *Query) loadInfo(ctx context.Context, snap snapstore.SqlName, id uint64) (*fileinfo.Info, error) {
	query := fmt.Sprintf(`SELECT info FROM %s.snap WHERE id = ?`, snap.String())
	var raw string
	if err := q.diff.store.DB().QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		return nil, fmt.Errorf("diffengine: loading info from %s: %w", snap, err)
	}
	var info fileinfo.Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("diffengine: decoding info from %s: %w", snap, err)
	}
	return &info, nil
}
