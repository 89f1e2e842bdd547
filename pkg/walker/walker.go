// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package walker discovers the files and directories under a root and
// reports them as fileinfo.Info records in deterministic, depth-first
// order, ready for a snapshot filler to insert. It also owns an optional
// persisted cache (see cache.go) that lets repeated walks of a mostly
// unchanged tree skip rehashing files they have already fingerprinted.
package walker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/vpath"
)

// ErrTooManyFiles is returned once a walk visits more regular files than
// its WithMaxFiles bound allows.
var ErrTooManyFiles = errors.New("walker: too many files")

// ErrCyclicLink is returned when following symlinks (WithFollowSymlinks)
// would recurse into a directory already on the current path.
var ErrCyclicLink = errors.New("walker: cyclic symbolic link detected")

// Entry carries one walked entry's metadata. The rewalk cache's content
// fingerprint is kept inside the Cache and is not part of Entry.
type Entry struct {
	Info fileinfo.Info
}

// Visitor is called once per entry Walk discovers, in sorted, depth-first
// order. Returning an error aborts the walk.
type Visitor func(Entry) error

// Walk traverses root and invokes visit for every directory and file found,
// skipping anything excluded by opts. Paths carried in the resulting
// fileinfo.Info are '/'-separated and relative to root.
func Walk(root string, visit Visitor, opts ...Option) error {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("walker: resolving root: %w", err)
	}
	fi, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("walker: stat root: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("walker: root is not a directory: %s", absRoot)
	}

	w := &walk{
		root:    absRoot,
		opts:    o,
		visit:   visit,
		visited: make(map[string]bool),
	}
	return w.dir(absRoot, "")
}

type walk struct {
	root      string
	opts      *options
	visit     Visitor
	visited   map[string]bool
	fileCount int
}

// dir visits relPath (a directory, '/'-separated relative to the walk
// root) and recurses into its children in name-sorted order.
func (w *walk) dir(absPath, relPath string) error {
	if real, err := filepath.EvalSymlinks(absPath); err == nil {
		if w.visited[real] {
			return ErrCyclicLink
		}
		w.visited[real] = true
		defer delete(w.visited, real)
	}

	if relPath != "" {
		info, err := os.Lstat(absPath)
		if err != nil {
			return fmt.Errorf("walker: stat %s: %w", relPath, err)
		}
		entry, err := w.buildInfo(absPath, relPath, info, fileinfo.KindDir)
		if err != nil {
			return err
		}
		if err := w.visit(Entry{Info: entry}); err != nil {
			return err
		}
	}

	children, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("walker: read dir %s: %w", relPath, err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	for _, de := range children {
		name := de.Name()
		childRel := name
		if relPath != "" {
			childRel = relPath + "/" + name
		}
		childAbs := filepath.Join(absPath, name)

		isDir := de.IsDir()
		if w.opts.shouldExclude(childRel, isDir) {
			continue
		}

		if isDir {
			if err := w.dir(childAbs, childRel); err != nil {
				return err
			}
			continue
		}

		if err := w.file(childAbs, childRel, de); err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) file(absPath, relPath string, de fs.DirEntry) error {
	var lst fs.FileInfo
	var err error
	if w.opts.followSymlinks {
		lst, err = os.Stat(absPath)
	} else {
		lst, err = de.Info()
	}
	if err != nil {
		// Unreadable entries (permission errors, races) are skipped rather
		// than failing the whole walk.
		return nil
	}

	if w.opts.followSymlinks && lst.IsDir() {
		return w.dir(absPath, relPath)
	}

	if lst.Mode()&os.ModeSymlink != 0 && !w.opts.followSymlinks {
		entry, err := w.buildInfo(absPath, relPath, lst, fileinfo.KindUnknown)
		if err != nil {
			return err
		}
		return w.visit(Entry{Info: entry})
	}

	if !lst.Mode().IsRegular() {
		entry, err := w.buildInfo(absPath, relPath, lst, fileinfo.KindUnknown)
		if err != nil {
			return err
		}
		return w.visit(Entry{Info: entry})
	}

	if w.fileCount >= w.opts.maxFiles {
		return ErrTooManyFiles
	}
	if lst.Size() > w.opts.maxFileSize {
		return nil
	}
	w.fileCount++

	entry, err := w.buildInfo(absPath, relPath, lst, fileinfo.KindFile)
	if err != nil {
		return err
	}
	return w.visit(Entry{Info: entry})
}

// buildInfo assembles a fileinfo.Info for one entry. When a cache is
// attached, it also refreshes a regular file's cache entry, hashing the
// content only on a cache miss; the fingerprint stays in the cache and
// does not reach the returned Info.
func (w *walk) buildInfo(absPath, relPath string, lst fs.FileInfo, kind fileinfo.Kind) (fileinfo.Info, error) {
	p, err := vpath.FromBytes([]byte(relPath))
	if err != nil {
		return fileinfo.Info{}, fmt.Errorf("walker: path %q: %w", relPath, err)
	}

	inode, uid, gid, ctime := statExtra(lst)
	size := uint64(0)
	if kind == fileinfo.KindFile {
		size = uint64(lst.Size())
	}

	info := fileinfo.Info{
		Path:  p,
		Inode: inode,
		Mode:  uint32(lst.Mode().Perm()),
		UID:   uid,
		GID:   gid,
		Ctime: ctime,
		Mtime: lst.ModTime(),
		Kind:  kind,
		Size:  size,
	}

	if kind == fileinfo.KindFile && w.opts.cache != nil {
		// A cache hit means this file's (mtime, size) match the last walk,
		// so its content fingerprint is still valid; recompute it only on
		// a miss. Either way the fingerprint never reaches Info.Hash, which
		// is reserved for the archival SHA-256 digest computed later.
		if _, ok := w.opts.cache.lookup(absPath, lst.ModTime(), size); !ok {
			if fp, err := fingerprintFile(absPath); err == nil {
				w.opts.cache.record(absPath, lst.ModTime(), size, fp)
			}
		}
	}

	return info, nil
}

// statExtra pulls the platform fields Go's fs.FileInfo does not expose
// directly out of the raw syscall stat structure.
func statExtra(lst fs.FileInfo) (inode uint64, uid, gid uint32, ctime time.Time) {
	st, ok := lst.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, lst.ModTime()
	}
	return st.Ino, st.Uid, st.Gid, time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
