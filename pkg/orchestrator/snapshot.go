// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/snapstore"
	"github.com/coldvault/coldvault/pkg/walker"
)

// SnapshotStats summarizes one Snapshot call, mirroring the
// counted-not-just-boolean result shape an upload or walk reports: how
// much work happened, broken out by kind, so a caller can log or assert
// on it without re-deriving it from the snapshot itself.
type SnapshotStats struct {
	FilesWalked int64
	DirsWalked  int64
	OtherWalked int64
	BytesWalked int64
}

// Snapshot walks root and fills a new (or reused) snapshot named name. The
// filler's transaction is only committed if the walk completes without
// error; a failed walk leaves the snapshot unfilled.
func (o *Orchestrator) Snapshot(ctx context.Context, root string, name snapstore.SqlName) (SnapshotStats, error) {
	rw, err := o.Store.OpenSnapshot(ctx, name)
	if err != nil {
		return SnapshotStats{}, fmt.Errorf("orchestrator: opening snapshot %s: %w", name, err)
	}

	filler, err := rw.Filler(ctx)
	if err != nil {
		return SnapshotStats{}, fmt.Errorf("orchestrator: starting filler for %s: %w", name, err)
	}
	defer filler.Abandon()

	var stats SnapshotStats
	walkErr := walker.Walk(root, func(e walker.Entry) error {
		switch e.Info.Kind {
		case fileinfo.KindFile:
			stats.FilesWalked++
			stats.BytesWalked += int64(e.Info.Size)
		case fileinfo.KindDir:
			stats.DirsWalked++
		default:
			stats.OtherWalked++
		}
		return filler.Add(ctx, e.Info.Path.Bytes(), e.Info)
	}, o.WalkOptions...)
	if walkErr != nil {
		return SnapshotStats{}, fmt.Errorf("orchestrator: walking %s: %w", root, walkErr)
	}

	if err := filler.Save(ctx); err != nil {
		return SnapshotStats{}, fmt.Errorf("orchestrator: saving snapshot %s: %w", name, err)
	}

	o.Log.Info("snapshot filled",
		"name", name.String(),
		"files", stats.FilesWalked,
		"dirs", stats.DirsWalked,
		"other", stats.OtherWalked,
		"bytes", stats.BytesWalked,
	)
	return stats, nil
}

// NewSnapshotName derives a timestamped snapshot name from the current
// time, matching the default naming scheme create-snapshot uses when the
// caller does not supply one.
func NewSnapshotName() snapstore.SqlName {
	return snapstore.NowSqlName(time.Now())
}
