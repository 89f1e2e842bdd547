// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coldvault/coldvault/pkg/archivestate"
	"github.com/coldvault/coldvault/pkg/cpio"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/snapstore"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSnapshotWalksTree(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":       "hello",
		"sub/b.txt":   "world",
		"sub/c/d.txt": "nested",
	})

	store, err := snapstore.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := New(store, nil, nil, nil)
	name, err := snapstore.NewSqlName("snap_a")
	if err != nil {
		t.Fatal(err)
	}

	stats, err := o.Snapshot(ctx, root, name)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesWalked != 3 {
		t.Errorf("expected 3 files walked, got %d", stats.FilesWalked)
	}
	if stats.DirsWalked < 2 {
		t.Errorf("expected at least 2 dirs walked, got %d", stats.DirsWalked)
	}
}

func TestDiffBetweenTwoSnapshots(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "v1"})

	store, err := snapstore.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := New(store, nil, nil, nil)
	before, _ := snapstore.NewSqlName("before")
	if _, err := o.Snapshot(ctx, root, before); err != nil {
		t.Fatal(err)
	}

	writeTree(t, root, map[string]string{"a.txt": "v2", "b.txt": "new"})
	after, _ := snapstore.NewSqlName("after")
	if _, err := o.Snapshot(ctx, root, after); err != nil {
		t.Fatal(err)
	}

	diff, err := o.Diff(ctx, before, after)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := PrintDiff(ctx, &buf, diff); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("a.txt")) || !bytes.Contains([]byte(out), []byte("b.txt")) {
		t.Errorf("expected diff output to mention both changed files, got:\n%s", out)
	}
}

func TestPackUploadAndExtractRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":     "hello world",
		"sub/b.txt": "goodbye world",
	})

	store, err := snapstore.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	archives, err := archivestate.Open(ctx, filepath.Join(t.TempDir(), "archivestate.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer archives.Close()

	objDir := t.TempDir()
	transport, err := objectstore.NewLocalFs(objDir)
	if err != nil {
		t.Fatal(err)
	}

	o := New(store, transport, archives, nil)

	empty, err := store.EmptySnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	after, _ := snapstore.NewSqlName("full")
	if _, err := o.Snapshot(ctx, root, after); err != nil {
		t.Fatal(err)
	}

	diff, err := o.Diff(ctx, empty.Name(), after)
	if err != nil {
		t.Fatal(err)
	}

	stats, err := o.PackUpload(ctx, diff, root, 0)
	if err != nil {
		t.Fatal(err)
	}
	if stats.FilesPacked != 2 {
		t.Errorf("expected 2 files packed, got %d", stats.FilesPacked)
	}
	if stats.PacksUploaded == 0 {
		t.Error("expected at least one pack uploaded")
	}

	entries, err := os.ReadDir(objDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("expected the local object store to contain uploaded archives")
	}

	destDir := t.TempDir()
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.Name())
		f, err := os.Open(filepath.Join(objDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		extractStats, err := o.Extract(f, destDir)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if len(extractStats.Mismatches) != 0 {
			t.Errorf("unexpected mismatches: %+v", extractStats.Mismatches)
		}
	}

	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("unexpected content for a.txt: %q", got)
	}

	restoreDir := t.TempDir()
	for _, k := range keys {
		if _, err := o.Restore(ctx, archivestate.Key(k), restoreDir); err != nil {
			t.Fatal(err)
		}
	}
	restored, err := os.ReadFile(filepath.Join(restoreDir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "hello world" {
		t.Errorf("unexpected restored content for a.txt: %q", restored)
	}
}

func TestPreviewPacksReportsGrouping(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one", "b.txt": "two"})

	store, err := snapstore.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	o := New(store, nil, nil, nil)
	empty, err := store.EmptySnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := snapstore.NewSqlName("snap")
	if _, err := o.Snapshot(ctx, root, after); err != nil {
		t.Fatal(err)
	}

	diff, err := o.Diff(ctx, empty.Name(), after)
	if err != nil {
		t.Fatal(err)
	}

	previews, err := o.PreviewPacks(ctx, diff, 0)
	if err != nil {
		t.Fatal(err)
	}
	var total int
	for _, p := range previews {
		total += len(p.Files)
	}
	if total != 2 {
		t.Errorf("expected 2 files across all previewed packs, got %d", total)
	}
}

func TestSafeJoinRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	if _, err := safeJoin(root, "../../etc/passwd"); err == nil {
		t.Error("expected traversal outside root to be rejected")
	}
	if _, err := safeJoin(root, "sub/../../escape"); err == nil {
		t.Error("expected a path that climbs above root after cleaning to be rejected")
	}

	got, err := safeJoin(root, "sub/file.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "sub", "file.txt")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildArchiveAdHocPaths(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"one.txt": "content"})

	archive, err := BuildArchive(root, []string{"one.txt", ""})
	if err != nil {
		t.Fatal(err)
	}
	if archive.Len() != 1 {
		t.Fatalf("expected 1 entry (blank line skipped), got %d", archive.Len())
	}
}

func TestListArchiveReportsManifestCount(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"one.txt": "content"})

	archive, err := BuildArchive(root, []string{"one.txt"})
	if err != nil {
		t.Fatal(err)
	}

	w := cpio.NewWriter(archive)
	defer w.Close()

	var buf bytes.Buffer
	if err := ListArchive(w, &buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("one.txt")) {
		t.Errorf("expected listing to mention one.txt, got:\n%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("manifest: 1 records")) {
		t.Errorf("expected listing to report a one-record manifest, got:\n%s", buf.String())
	}
}
