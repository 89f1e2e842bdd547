// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archivestate

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSetUploadedAndFindByHash(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(ctx, filepath.Join(dir, "state.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	hashA := [32]byte{1}
	hashB := [32]byte{2}

	id, err := st.SetUploaded(ctx, UploadedArchive{
		Key:        "archive-1",
		Hashes:     [][32]byte{hashA, hashB},
		UploadedAt: time.Unix(1000, 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := st.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != "archive-1" {
		t.Errorf("unexpected key: %q", got.Key)
	}

	found, err := st.FindByHash(ctx, hashA)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != id {
		t.Errorf("expected to find archive %d by hash, got %+v", id, found)
	}

	missing, err := st.FindByHash(ctx, [32]byte{9, 9, 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no archives for an unused hash, got %+v", missing)
	}
}

func TestArchiveWithNoContentsIsLegal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(ctx, filepath.Join(dir, "state.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	id, err := st.SetUploaded(ctx, UploadedArchive{Key: "empty-archive", UploadedAt: time.Unix(1, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Get(ctx, id); err != nil {
		t.Fatal(err)
	}
}
