// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"io"

	"github.com/coldvault/coldvault/pkg/diffengine"
	"github.com/coldvault/coldvault/pkg/snapstore"
)

// Diff attaches both snapshots (each must already exist in the store),
// then computes and materializes the difference between them.
func (o *Orchestrator) Diff(ctx context.Context, before, after snapstore.SqlName) (*diffengine.Diff, error) {
	if _, err := o.Store.ReadonlySnapshot(ctx, before); err != nil {
		return nil, fmt.Errorf("orchestrator: opening before-snapshot %s: %w", before, err)
	}
	if _, err := o.Store.ReadonlySnapshot(ctx, after); err != nil {
		return nil, fmt.Errorf("orchestrator: opening after-snapshot %s: %w", after, err)
	}

	diff, err := diffengine.New(ctx, o.Store, before, after)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: computing diff %s..%s: %w", before, after, err)
	}
	return diff, nil
}

// PrintDiff writes one line per row of diff, of every kind, to w, in the
// form "<kind> <size> <path>". It is the backing implementation for the
// diff-snapshot CLI command.
func PrintDiff(ctx context.Context, w io.Writer, diff *diffengine.Diff) error {
	return diff.Query().ForEach(ctx, func(r diffengine.Row) error {
		_, err := fmt.Fprintf(w, "%-8s %10d %s\n", r.Kind, r.Size, r.Path)
		return err
	})
}
