// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package snapstore

import (
	"context"
	"testing"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/vpath"
)

func TestSqlNameValidation(t *testing.T) {
	valid := []string{"a", "snap1", "at_2026", "Z9"}
	for _, v := range valid {
		if _, err := NewSqlName(v); err != nil {
			t.Errorf("expected %q to be valid: %v", v, err)
		}
	}
	invalid := []string{"", "1abc", "has space", "semi;colon", "diff.db"}
	for _, v := range invalid {
		if _, err := NewSqlName(v); err == nil {
			t.Errorf("expected %q to be rejected", v)
		}
	}
}

func TestGenerateRowIDUniqueness(t *testing.T) {
	a, err := generateRowID(0, 5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateRowID(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected different snapshot ordinals to produce different ids")
	}

	c, err := generateRowID(0, 6)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("expected different row ordinals to produce different ids")
	}

	if _, err := generateRowID(1<<rowBits, 0); err == nil {
		t.Error("expected an out-of-range snapshot ordinal to be rejected")
	}
	if _, err := generateRowID(0, 1<<(63-rowBits)); err == nil {
		t.Error("expected an out-of-range row ordinal to be rejected")
	}
}

// TestGenerateRowIDNoCollisionAcrossSnapshots pins down the id formula
// itself: a row ordinal large enough to spill into the next snapshot
// ordinal's bits under a wrong shift amount must not collide.
func TestGenerateRowIDNoCollisionAcrossSnapshots(t *testing.T) {
	big, err := generateRowID(0, 1<<rowBits)
	if err != nil {
		t.Fatal(err)
	}
	next, err := generateRowID(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if big == next {
		t.Errorf("generateRowID(0, 1<<%d) collided with generateRowID(1, 0): both %d", rowBits, big)
	}

	id, err := generateRowID(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(1) << (63 - rowBits); id != want {
		t.Errorf("generateRowID(1, 0) = %d, want %d", id, want)
	}
}

func TestOpenFillReadSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	name, err := NewSqlName("snap_one")
	if err != nil {
		t.Fatal(err)
	}

	rw, err := store.OpenSnapshot(ctx, name)
	if err != nil {
		t.Fatal(err)
	}

	filler, err := rw.Filler(ctx)
	if err != nil {
		t.Fatal(err)
	}

	p, err := vpath.FromBytes([]byte("a/b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	info := fileinfo.Info{
		Path:  p,
		Inode: 1,
		Kind:  fileinfo.KindFile,
		Size:  10,
		Ctime: time.Unix(1, 0).UTC(),
		Mtime: time.Unix(2, 0).UTC(),
	}
	if err := filler.Add(ctx, p.Bytes(), info); err != nil {
		t.Fatal(err)
	}
	if err := filler.Save(ctx); err != nil {
		t.Fatal(err)
	}

	ro, err := store.ReadonlySnapshot(ctx, name)
	if err != nil {
		t.Fatal(err)
	}

	var count int
	err = ro.ForEach(ctx, func(r Row) error {
		count++
		if string(r.Path) != "a/b.txt" {
			t.Errorf("unexpected path: %q", r.Path)
		}
		if r.Size != 10 {
			t.Errorf("unexpected size: %d", r.Size)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestReadonlySnapshotMissing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	name, err := NewSqlName("never_created")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.ReadonlySnapshot(ctx, name); err == nil {
		t.Error("expected an error for a snapshot that was never filled")
	}
}
