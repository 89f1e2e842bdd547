// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalFs stores archives as plain files under root. It exists for local
// development and for tests that need a real Transport without cloud
// credentials.
type LocalFs struct {
	root string
}

// NewLocalFs returns a LocalFs backend rooted at dir, creating dir if it
// does not already exist.
func NewLocalFs(dir string) (*LocalFs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: creating local root %q: %w", dir, err)
	}
	return &LocalFs{root: dir}, nil
}

// Upload assigns archive a fresh UUID key and copies it into root. Unlike
// the reference implementation this backend is based on, the destination
// is opened for writing (created exclusively: it fails if a file with that
// key already exists), not for reading.
func (l *LocalFs) Upload(ctx context.Context, archive io.Reader) (Key, error) {
	key := Key(uuid.New().String())
	path := filepath.Join(l.root, string(key))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("objectstore: creating %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, archive); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("objectstore: writing %q: %w", path, err)
	}
	return key, nil
}

// Download opens the file stored under key.
func (l *LocalFs) Download(ctx context.Context, key Key) (io.ReadCloser, error) {
	path := filepath.Join(l.root, string(key))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("objectstore: opening %q: %w", path, err)
	}
	return f, nil
}

// Delete removes the file stored under key.
func (l *LocalFs) Delete(ctx context.Context, key Key) error {
	path := filepath.Join(l.root, string(key))
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("objectstore: removing %q: %w", path, err)
	}
	return nil
}
