// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coldvault/coldvault/pkg/cpio"
	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/vpath"
)

// BuildArchive stats each of relPaths (relative to root) and queues it as
// a Pending entry, for the ad-hoc create-cpio CLI command: unlike
// Snapshot, it never touches the snapshot store, so it can run over a
// bare newline-separated path list with no database at all.
func BuildArchive(root string, relPaths []string) (*cpio.Archive, error) {
	archive := cpio.NewArchive()
	for _, rel := range relPaths {
		rel = strings.TrimSpace(rel)
		if rel == "" {
			continue
		}

		localPath := filepath.Join(root, rel)
		lst, err := os.Lstat(localPath)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: stat %q: %w", rel, err)
		}

		localVPath, err := vpath.FromNative(rel)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: path %q: %w", rel, err)
		}

		info, err := buildPendingInfo(localVPath, lst)
		if err != nil {
			return nil, err
		}

		pend := cpio.NewPending(info, vpath.Path[vpath.External]{})
		if info.Kind == fileinfo.KindFile {
			pend.LocalPath = localPath
		}
		archive.Add(pend)
	}
	return archive, nil
}

func buildPendingInfo(p vpath.Path[vpath.Local], lst fs.FileInfo) (fileinfo.Info, error) {
	kind := fileinfo.KindUnknown
	var size uint64
	switch {
	case lst.IsDir():
		kind = fileinfo.KindDir
	case lst.Mode().IsRegular():
		kind = fileinfo.KindFile
		size = uint64(lst.Size())
	}

	inode, uid, gid, ctime := statExtra(lst)
	return fileinfo.Info{
		Path:  vpath.ToExternal(p),
		Inode: inode,
		Mode:  uint32(lst.Mode().Perm()),
		UID:   uid,
		GID:   gid,
		Ctime: ctime,
		Mtime: lst.ModTime(),
		Kind:  kind,
		Size:  size,
	}, nil
}

// statExtra pulls the platform fields Go's fs.FileInfo does not expose
// directly out of the raw syscall stat structure, mirroring
// pkg/walker's own statExtra for the ad-hoc (non-snapshot) archiving path.
func statExtra(lst fs.FileInfo) (inode uint64, uid, gid uint32, ctime time.Time) {
	st, ok := lst.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, lst.ModTime()
	}
	return st.Ino, st.Uid, st.Gid, time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
