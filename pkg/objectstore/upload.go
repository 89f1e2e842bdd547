// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// UploadAll uploads every archive in archives through transport, running up
// to parallelism uploads concurrently, and returns their keys in the same
// order as the input. Unlike a typical fan-out, a failed upload does not
// cancel the others in flight: every upload runs to completion and failures
// are accumulated into a single joined error, so one slow or broken
// backend doesn't abort transfers that would otherwise have succeeded.
func UploadAll(ctx context.Context, transport Transport, archives []io.Reader, parallelism int) ([]Key, error) {
	keys := make([]Key, len(archives))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	var mu sync.Mutex
	var errs []error

	for i, archive := range archives {
		i, archive := i, archive
		g.Go(func() error {
			key, err := transport.Upload(ctx, archive)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("objectstore: uploading archive %d: %w", i, err))
				mu.Unlock()
				return nil
			}
			keys[i] = key
			return nil
		})
	}
	g.Wait() // never returns an error: failures are collected in errs instead

	if len(errs) > 0 {
		return keys, errors.Join(errs...)
	}
	return keys, nil
}
