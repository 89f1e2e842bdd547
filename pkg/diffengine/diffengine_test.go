// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package diffengine

import (
	"context"
	"testing"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/snapstore"
	"github.com/coldvault/coldvault/pkg/vpath"
)

// fileEntry describes one row to seed into a test snapshot. inode/mtime
// feed fileinfo.Identifier, so two entries meant to collapse into a
// Changed diff row must share both while differing in mode.
type fileEntry struct {
	size  uint64
	inode uint64
	mtime int64
	mode  uint32
}

func fillSnapshot(t *testing.T, ctx context.Context, store *snapstore.Store, name string, files map[string]fileEntry) snapstore.SqlName {
	t.Helper()
	sqlName, err := snapstore.NewSqlName(name)
	if err != nil {
		t.Fatal(err)
	}
	rw, err := store.OpenSnapshot(ctx, sqlName)
	if err != nil {
		t.Fatal(err)
	}
	filler, err := rw.Filler(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for path, e := range files {
		p, err := vpath.FromBytes([]byte(path))
		if err != nil {
			t.Fatal(err)
		}
		info := fileinfo.Info{
			Path:  p,
			Inode: e.inode,
			Mode:  e.mode,
			Kind:  fileinfo.KindFile,
			Size:  e.size,
			Ctime: time.Unix(1, 0).UTC(),
			Mtime: time.Unix(e.mtime, 0).UTC(),
		}
		if err := filler.Add(ctx, p.Bytes(), info); err != nil {
			t.Fatal(err)
		}
	}
	if err := filler.Save(ctx); err != nil {
		t.Fatal(err)
	}
	return sqlName
}

func TestDiffCoversAllChangeKinds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := snapstore.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	before := fillSnapshot(t, ctx, store, "before_snap", map[string]fileEntry{
		"unchanged.txt": {size: 100, inode: 1, mtime: 100},
		"removed.txt":   {size: 50, inode: 2, mtime: 50},
		"modified.txt":  {size: 10, inode: 3, mtime: 10, mode: 0o644},
	})
	after := fillSnapshot(t, ctx, store, "after_snap", map[string]fileEntry{
		"unchanged.txt": {size: 100, inode: 1, mtime: 100},
		"added.txt":     {size: 30, inode: 4, mtime: 30},
		// same identifier (inode/size/mtime/ctime) as before, mode differs.
		"modified.txt": {size: 10, inode: 3, mtime: 10, mode: 0o600},
	})

	diff, err := New(ctx, store, before, after)
	if err != nil {
		t.Fatal(err)
	}
	defer diff.Close(ctx)

	counts := map[Kind]int{}
	paths := map[Kind][]string{}
	err = diff.Query().ForEach(ctx, func(r Row) error {
		counts[r.Kind]++
		paths[r.Kind] = append(paths[r.Kind], string(r.Path))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if counts[Deleted] != 1 {
		t.Errorf("expected 1 deleted row, got %d (%v)", counts[Deleted], paths[Deleted])
	}
	if counts[Created] != 1 {
		t.Errorf("expected 1 created row, got %d (%v)", counts[Created], paths[Created])
	}
	if counts[Changed] != 1 {
		t.Errorf("expected 1 changed row, got %d (%v)", counts[Changed], paths[Changed])
	}

	count, err := diff.Query().OnlyKind(Created).Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected OnlyKind(Created) count 1, got %d", count)
	}
}

func TestDiffSizeFilter(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := snapstore.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	before := fillSnapshot(t, ctx, store, "b2", map[string]fileEntry{})
	after := fillSnapshot(t, ctx, store, "a2", map[string]fileEntry{
		"small.txt": {size: 5, inode: 1, mtime: 5},
		"big.txt":   {size: 5000, inode: 2, mtime: 5000},
	})

	diff, err := New(ctx, store, before, after)
	if err != nil {
		t.Fatal(err)
	}
	defer diff.Close(ctx)

	count, err := diff.Query().LessThan(100).Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row under size 100, got %d", count)
	}

	count, err = diff.Query().LargerOrEqual(100).Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row at/above size 100, got %d", count)
	}
}

func TestByRowIDResolvesRow(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := snapstore.Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	before := fillSnapshot(t, ctx, store, "b3", map[string]fileEntry{
		"removed.txt": {size: 50, inode: 1, mtime: 50},
	})
	after := fillSnapshot(t, ctx, store, "a3", map[string]fileEntry{
		"added.txt": {size: 30, inode: 2, mtime: 30},
	})

	diff, err := New(ctx, store, before, after)
	if err != nil {
		t.Fatal(err)
	}
	defer diff.Close(ctx)

	var rowIDs []int64
	var kinds []Kind
	if err := diff.Query().ForEach(ctx, func(r Row) error {
		rowIDs = append(rowIDs, r.RowID)
		kinds = append(kinds, r.Kind)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(rowIDs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rowIDs))
	}

	for i, id := range rowIDs {
		row, err := diff.ByRowID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if row.Kind != kinds[i] {
			t.Errorf("row %d: expected kind %v, got %v", id, kinds[i], row.Kind)
		}
	}

	if _, err := diff.ByRowID(ctx, 999999); err == nil {
		t.Error("expected an error for a nonexistent row id")
	}
}
