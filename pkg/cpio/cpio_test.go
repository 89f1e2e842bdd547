// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cpio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/vpath"
)

func mustPath(t *testing.T, s string) vpath.Path[vpath.External] {
	t.Helper()
	p, err := vpath.FromBytes([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// TestEmptyArchiveSize pins down the exact byte layout of an archive with
// no entries: trailer header (26 B) + "TRAILER!!!\0" (11 B) + a single
// padding NUL standing in for an absent manifest.
func TestEmptyArchiveSize(t *testing.T) {
	a := NewArchive()
	w := NewWriter(a)
	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 38 {
		t.Fatalf("expected 38 bytes, got %d", len(out))
	}
}

func TestSingleOddNameFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := []byte("123456789012345") // 15 bytes, odd length
	local := writeTempFile(t, dir, "odd", content)

	info := fileinfo.Info{
		Path:  mustPath(t, "tests/archive/odd"), // 17 bytes, namesize 18 (even, no name pad)
		Inode: 7,
		Mode:  0o644,
		Ctime: time.Unix(1000, 0).UTC(),
		Mtime: time.Unix(2000, 0).UTC(),
		Kind:  fileinfo.KindFile,
		Size:  uint64(len(content)),
	}
	pend := NewPending(info, vpath.Path[vpath.External]{})
	pend.LocalPath = local

	a := NewArchive()
	a.Add(pend)
	w := NewWriter(a)

	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}

	// header(26) + name(17)+NUL(1) + content(15)+pad(1) = 60 bytes
	// precede the trailer.
	if len(out) < 60 {
		t.Fatalf("archive too short: %d bytes", len(out))
	}

	r := NewReader(bytes.NewReader(out))
	item, err := r.NextItem()
	if err != nil {
		t.Fatal(err)
	}
	if string(item.Name) != "tests/archive/odd" {
		t.Errorf("name mismatch: %q", item.Name)
	}
	if item.Size != uint64(len(content)) {
		t.Errorf("size mismatch: %d", item.Size)
	}
	got, err := io.ReadAll(item.Content)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %q vs %q", got, content)
	}

	if _, err := r.NextItem(); err != io.EOF {
		t.Fatalf("expected io.EOF after last entry, got %v", err)
	}
	manifest, err := r.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest) != 1 {
		t.Fatalf("expected 1 manifest record, got %d", len(manifest))
	}
	if manifest[0].Path.String() != "tests/archive/odd" {
		t.Errorf("manifest path mismatch: %q", manifest[0].Path.String())
	}
	if manifest[0].Identifier() != info.Identifier() {
		t.Errorf("manifest identifier mismatch")
	}
}

func TestManifestCarriesCalculatedDigest(t *testing.T) {
	dir := t.TempDir()
	content := []byte("digest me")
	local := writeTempFile(t, dir, "digest.txt", content)

	info := fileinfo.Info{
		Path:  mustPath(t, "tests/digest.txt"),
		Inode: 1,
		Mode:  0o644,
		Ctime: time.Unix(1, 0).UTC(),
		Mtime: time.Unix(2, 0).UTC(),
		Kind:  fileinfo.KindFile,
		Size:  uint64(len(content)),
	}
	pend := NewPending(info, vpath.Path[vpath.External]{})
	pend.LocalPath = local

	a := NewArchive()
	a.Add(pend)
	w := NewWriter(a)

	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(out))
	if _, err := r.NextItem(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.NextItem(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	manifest, err := r.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest) != 1 {
		t.Fatalf("expected 1 manifest record, got %d", len(manifest))
	}
	if manifest[0].Hash == nil {
		t.Fatal("expected the manifest record to carry a digest computed during streaming")
	}
	if pend.Calculated() == nil {
		t.Fatal("expected the pending entry to record its calculated digest")
	}
	if *manifest[0].Hash != *pend.Calculated() {
		t.Errorf("manifest digest %x does not match the pending entry's calculated digest %x", *manifest[0].Hash, *pend.Calculated())
	}
}

// TestLargeMtimeAndSizeRoundTrip pins the header word order for values that
// don't fit in the header's low 16-bit word: an mtime and a file size both
// above 2^16 must round-trip, which a low-word-first/high-word-first mixup
// would silently truncate or scramble.
func TestLargeMtimeAndSizeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{'x'}, 70000) // > 2^16 bytes
	local := writeTempFile(t, dir, "large", content)

	const bigMtime = 100_000_123 // > 2^16 seconds since epoch
	info := fileinfo.Info{
		Path:  mustPath(t, "large"),
		Inode: 1,
		Mode:  0o644,
		Kind:  fileinfo.KindFile,
		Size:  uint64(len(content)),
		Ctime: time.Unix(1, 0).UTC(),
		Mtime: time.Unix(bigMtime, 0).UTC(),
	}
	pend := NewPending(info, vpath.Path[vpath.External]{})
	pend.LocalPath = local

	a := NewArchive()
	a.Add(pend)
	w := NewWriter(a)

	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(out))
	item, err := r.NextItem()
	if err != nil {
		t.Fatal(err)
	}
	if item.Size != uint64(len(content)) {
		t.Errorf("size mismatch: got %d, want %d", item.Size, len(content))
	}
	if !item.Mtime.Equal(time.Unix(bigMtime, 0).UTC()) {
		t.Errorf("mtime mismatch: got %v, want %v", item.Mtime, time.Unix(bigMtime, 0).UTC())
	}
	got, err := io.ReadAll(item.Content)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch for large file")
	}
	if _, err := r.NextItem(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestThreeFileSortedOrder(t *testing.T) {
	dir := t.TempDir()
	files := []struct {
		name    string
		content []byte
	}{
		{"odd", bytes.Repeat([]byte{'o'}, 15)},
		{"even", bytes.Repeat([]byte{'e'}, 16)},
		{"foobar", bytes.Repeat([]byte{'f'}, 12)},
	}

	a := NewArchive()
	for _, f := range files {
		local := writeTempFile(t, dir, f.name, f.content)
		info := fileinfo.Info{
			Path:  mustPath(t, f.name),
			Inode: 1,
			Kind:  fileinfo.KindFile,
			Mtime: time.Unix(1, 0).UTC(),
			Ctime: time.Unix(1, 0).UTC(),
			Size:  uint64(len(f.content)),
		}
		pend := NewPending(info, vpath.Path[vpath.External]{})
		pend.LocalPath = local
		a.Add(pend)
	}

	w := NewWriter(a)
	out, err := io.ReadAll(w)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(out))
	wantOrder := []string{"even", "foobar", "odd"}
	for _, want := range wantOrder {
		item, err := r.NextItem()
		if err != nil {
			t.Fatal(err)
		}
		if string(item.Name) != want {
			t.Errorf("expected %q, got %q", want, item.Name)
		}
		if _, err := io.Copy(io.Discard, item.Content); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.NextItem(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	manifest, err := r.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest) != 3 {
		t.Fatalf("expected 3 manifest records, got %d", len(manifest))
	}
}

func TestSizeMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	local := writeTempFile(t, dir, "f", []byte("short"))

	info := fileinfo.Info{
		Path: mustPath(t, "f"),
		Kind: fileinfo.KindFile,
		Size: 99, // wrong on purpose
	}
	pend := NewPending(info, vpath.Path[vpath.External]{})
	pend.LocalPath = local

	a := NewArchive()
	a.Add(pend)
	w := NewWriter(a)

	_, err := io.ReadAll(w)
	var mismatch *Mismatch
	if err == nil {
		t.Fatal("expected a size mismatch error")
	}
	if !asMismatch(err, &mismatch) {
		t.Fatalf("expected *Mismatch, got %T: %v", err, err)
	}
	if mismatch.Kind != "size" {
		t.Errorf("expected size mismatch, got %q", mismatch.Kind)
	}
}

func asMismatch(err error, target **Mismatch) bool {
	if m, ok := err.(*Mismatch); ok {
		*target = m
		return true
	}
	return false
}
