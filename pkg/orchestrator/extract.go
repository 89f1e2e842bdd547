// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/coldvault/coldvault/pkg/archivestate"
	"github.com/coldvault/coldvault/pkg/cpio"
	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/objectstore"
)

// Restore downloads the archive stored under key through the
// orchestrator's transport and extracts it into destDir, the CLI's
// restore operation: a transport download followed by an Extract.
func (o *Orchestrator) Restore(ctx context.Context, key archivestate.Key, destDir string) (ExtractStats, error) {
	r, err := o.Transport.Download(ctx, objectstore.Key(key))
	if err != nil {
		return ExtractStats{}, fmt.Errorf("orchestrator: downloading %s: %w", key, err)
	}
	defer r.Close()

	return o.Extract(r, destDir)
}

// ExtractStats summarizes one Extract call.
type ExtractStats struct {
	FilesWritten int
	DirsCreated  int
	BytesWritten int64
	Mismatches   []cpio.Mismatch
}

// Extract reads a cpio stream from r and recreates its entries under
// destDir. Size mismatches are recorded as they're found; hash mismatches
// against the trailing manifest (if any) are checked once extraction is
// complete, since the manifest isn't known until the stream's end.
// Mismatches are warnings, not failures: extraction continues regardless.
func (o *Orchestrator) Extract(r io.Reader, destDir string) (ExtractStats, error) {
	rd := cpio.NewReader(r)
	var stats ExtractStats

	for {
		item, err := rd.NextItem()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("orchestrator: reading archive: %w", err)
		}

		localPath, err := safeJoin(destDir, string(item.Name))
		if err != nil {
			return stats, err
		}

		switch item.Kind {
		case fileinfo.KindDir:
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return stats, fmt.Errorf("orchestrator: creating dir %q: %w", localPath, err)
			}
			stats.DirsCreated++
		case fileinfo.KindFile:
			n, err := writeFile(localPath, item.Content)
			if err != nil {
				return stats, err
			}
			stats.FilesWritten++
			stats.BytesWritten += n
			if uint64(n) != item.Size {
				stats.Mismatches = append(stats.Mismatches, cpio.Mismatch{
					Path: string(item.Name), Expected: item.Size, Found: uint64(n), Kind: "size",
				})
			}
		default:
			// Symlinks, devices, and sockets carry no content in this
			// codec; the entry's header is all there ever was to restore.
		}
	}

	manifest, manifestErr := rd.Manifest()
	if manifestErr != nil {
		o.Log.Warn("cpio trailer carried an unreadable manifest", "error", manifestErr)
	}
	for _, info := range manifest {
		if info.Hash == nil {
			continue
		}
		localPath, err := safeJoin(destDir, info.Path.String())
		if err != nil {
			continue
		}
		sum, err := hashFile(localPath)
		if err != nil {
			continue
		}
		if sum != *info.Hash {
			stats.Mismatches = append(stats.Mismatches, cpio.Mismatch{
				Path: info.Path.String(), Expected: *info.Hash, Found: sum, Kind: "hash",
			})
		}
	}

	for _, m := range stats.Mismatches {
		o.Log.Warn("extracted content disagreed with manifest", "path", m.Path, "kind", m.Kind)
	}
	return stats, nil
}

// ListArchive walks a cpio stream from r, writing one line per entry to w,
// draining each entry's content without writing it anywhere, then
// reporting the trailing manifest if one was attached.
func ListArchive(r io.Reader, w io.Writer) error {
	rd := cpio.NewReader(r)
	for {
		item, err := rd.NextItem()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("orchestrator: reading archive: %w", err)
		}
		if _, err := io.Copy(io.Discard, item.Content); err != nil {
			return fmt.Errorf("orchestrator: draining %q: %w", item.Name, err)
		}
		if _, err := fmt.Fprintf(w, "%-5s %10d %s\n", item.Kind, item.Size, item.Name); err != nil {
			return err
		}
	}

	manifest, err := rd.Manifest()
	if err != nil {
		fmt.Fprintf(w, "manifest: unreadable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(w, "manifest: %d records\n", len(manifest))
	return nil
}

func writeFile(path string, content io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("orchestrator: creating dir for %q: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: creating %q: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, content)
	if err != nil {
		return n, fmt.Errorf("orchestrator: writing %q: %w", path, err)
	}
	return n, nil
}

func hashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// safeJoin joins rel onto root, treating a leading '/' as relative to
// root, and rejects any name whose '..' components climb out of root, so
// an archive entry's name (External path, not to be trusted) can never
// write outside destDir.
func safeJoin(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, rel)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("orchestrator: archive entry %q escapes destination", rel)
	}
	return full, nil
}
