// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package objectstore is the cold-storage transport capability: upload a
// packed archive, fetch it back by key, or delete it. Three backends
// exercise the same Transport interface — a local-filesystem store for
// development and tests, and Amazon S3 / Azure Blob Storage for the
// production cold tiers coldvault actually targets.
package objectstore

import (
	"context"
	"io"
)

// Key identifies one uploaded archive within a backend. Its shape is
// backend-specific (a UUID for the local backend, an S3 object key, an
// Azure blob name) and opaque to everything above this package.
type Key string

// Transport is the capability an orchestrator needs from cold storage:
// put an archive, get it back, remove it. Every backend in this package
// implements it.
type Transport interface {
	// Upload streams archive to the backend and returns the key it was
	// stored under.
	Upload(ctx context.Context, archive io.Reader) (Key, error)
	// Download opens a reader over the archive stored under key. The
	// caller must Close it.
	Download(ctx context.Context, key Key) (io.ReadCloser, error)
	// Delete removes the archive stored under key.
	Delete(ctx context.Context, key Key) error
}
