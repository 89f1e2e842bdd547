// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/coldvault/coldvault/pkg/archivestate"
	"github.com/coldvault/coldvault/pkg/cpio"
	"github.com/coldvault/coldvault/pkg/diffengine"
	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/hashstream"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/packer"
	"github.com/coldvault/coldvault/pkg/vpath"
)

// PackPreviewFile is one row destined for a pack, as reported back to a
// caller that only wants to see the grouping, not perform it.
type PackPreviewFile struct {
	Path string
	Size uint64
}

// PackPreview is one pack's worth of rows, in the order the packer chose
// them.
type PackPreview struct {
	Index     int
	Files     []PackPreviewFile
	TotalSize uint64
}

// PreviewPacks resolves diff's Created/Changed rows into the packer's
// grouping without streaming or uploading anything, for the
// preview-packs CLI command.
func (o *Orchestrator) PreviewPacks(ctx context.Context, diff *diffengine.Diff, minSize uint64) ([]PackPreview, error) {
	packs, err := packer.Pack(ctx, diff, minSize, o.packOptions())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: previewing packs: %w", err)
	}

	previews := make([]PackPreview, len(packs))
	for i, pack := range packs {
		preview := PackPreview{Index: i}
		for _, rowID := range pack {
			row, err := diff.ByRowID(ctx, rowID)
			if err != nil {
				return nil, err
			}
			preview.Files = append(preview.Files, PackPreviewFile{Path: string(row.Path), Size: row.Size})
			preview.TotalSize += row.Size
		}
		previews[i] = preview
	}
	return previews, nil
}

// UploadStats summarizes one PackUpload call.
type UploadStats struct {
	PacksUploaded int
	FilesPacked   int
	BytesUploaded int64
}

// PackUpload groups diff's Created/Changed rows into packs, streams each
// pack as a cpio archive rooted at root, and uploads all of them through
// the orchestrator's transport with up to o.Parallelism transfers
// in flight at once, recording each successful upload in the archive-state
// ledger. A failed upload does not stop the others: every pack is given
// a chance to complete, and any failures are reported together once all
// of them have finished or failed.
func (o *Orchestrator) PackUpload(ctx context.Context, diff *diffengine.Diff, root string, minSize uint64) (UploadStats, error) {
	packs, err := packer.Pack(ctx, diff, minSize, o.packOptions())
	if err != nil {
		return UploadStats{}, fmt.Errorf("orchestrator: grouping packs: %w", err)
	}

	var readers []io.Reader
	var hashed []*hashstream.ReadStream
	var writers []*cpio.Writer
	var pendingsByPack [][]*cpio.Pending
	for i, pack := range packs {
		archive, pendings, err := o.buildArchive(ctx, diff, root, pack)
		if err != nil {
			return UploadStats{}, fmt.Errorf("orchestrator: building pack %d: %w", i, err)
		}
		if archive.Len() == 0 {
			continue
		}
		w := cpio.NewWriter(archive)
		h := hashstream.NewReader(w)
		readers = append(readers, h)
		hashed = append(hashed, h)
		writers = append(writers, w)
		pendingsByPack = append(pendingsByPack, pendings)
	}
	defer func() {
		for _, w := range writers {
			w.Close()
		}
	}()

	parallelism := o.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	keys, uploadErr := objectstore.UploadAll(ctx, o.Transport, readers, parallelism)

	var stats UploadStats
	for i := range readers {
		if keys[i] == "" {
			continue // this pack's upload failed; its error is part of uploadErr
		}
		hashed[i].Finalize() // archive-level digest; per-file digests are what archivestate records

		pendings := pendingsByPack[i]
		hashes := make([][32]byte, 0, len(pendings))
		for _, p := range pendings {
			if h := p.Calculated(); h != nil {
				hashes = append(hashes, *h)
			}
		}

		if _, err := o.Archives.SetUploaded(ctx, archivestate.UploadedArchive{
			Key:        archivestate.Key(keys[i]),
			Hashes:     hashes,
			UploadedAt: time.Now(),
		}); err != nil {
			return stats, fmt.Errorf("orchestrator: recording upload for pack %d: %w", i, err)
		}

		stats.PacksUploaded++
		for _, p := range pendings {
			if p.Info.Kind == fileinfo.KindFile {
				stats.FilesPacked++
				stats.BytesUploaded += int64(p.Info.Size)
			}
		}
		o.Log.Info("pack uploaded", "index", i, "files", len(pendings))
	}

	if uploadErr != nil {
		return stats, fmt.Errorf("orchestrator: uploading packs: %w", uploadErr)
	}
	return stats, nil
}

func (o *Orchestrator) buildArchive(ctx context.Context, diff *diffengine.Diff, root string, pack packer.Pack) (*cpio.Archive, []*cpio.Pending, error) {
	archive := cpio.NewArchive()
	pendings := make([]*cpio.Pending, 0, len(pack))

	for _, rowID := range pack {
		row, err := diff.ByRowID(ctx, rowID)
		if err != nil {
			return nil, nil, err
		}
		if row.After == nil {
			// Created/Changed rows always carry an after-side record; a
			// missing one here means the diff query and the packer have
			// disagreed about which kinds are eligible.
			continue
		}

		info := *row.After
		pend := cpio.NewPending(info, vpath.Path[vpath.External]{})
		if info.Kind == fileinfo.KindFile {
			pend.LocalPath = filepath.Join(root, info.Path.ToNative())
		}
		archive.Add(pend)
		pendings = append(pendings, pend)
	}
	return archive, pendings, nil
}

func (o *Orchestrator) packOptions() packer.Options {
	if o.PackOptions == (packer.Options{}) {
		return packer.DefaultOptions()
	}
	return o.PackOptions
}
