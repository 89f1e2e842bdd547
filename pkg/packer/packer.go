// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package packer groups small changed/created files from a diff into
// packs that share on-disk locality, so a single archive's worth of tiny
// files reads back from cold storage with fewer round trips. Files at or
// above a size threshold get their own singleton pack instead.
package packer

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/coldvault/coldvault/pkg/diffengine"
)

// Options configures how far the related-directories search looks when
// padding out a pack around its largest member.
type Options struct {
	// ForwardDepth bounds how many levels of subdirectories under the
	// anchor file's directory are searched for companion files.
	ForwardDepth int
	// BackDepth bounds how many levels up (parent, grandparent) are
	// searched; the parent's other children are searched as well.
	BackDepth int
}

// DefaultOptions matches the depths used when none are specified: three
// levels down, two levels up.
func DefaultOptions() Options {
	return Options{ForwardDepth: 3, BackDepth: 2}
}

// Pack is one group of row ids to archive together.
type Pack []int64

// Pack groups every Created and Changed row in diff smaller than minSize
// into multi-file packs by directory locality, and returns every row at
// or above minSize as its own singleton pack.
func Pack(ctx context.Context, diff *diffengine.Diff, minSize uint64, opts Options) ([]Pack, error) {
	root := newDirectory(nil)
	dirs := map[string]*directory{"": root}
	var allFiles []*packFile

	err := diff.Query().
		OnlyKind(diffengine.Created | diffengine.Changed).
		LessThan(minSize).
		ForEach(ctx, func(r diffengine.Row) error {
			dir := ensureDirectory(dirs, root, dirPrefix(r.Path))
			f := &packFile{rowID: r.RowID, size: r.Size, dir: dir}
			dir.files = append(dir.files, f)
			allFiles = append(allFiles, f)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("packer: scanning small rows: %w", err)
	}

	global := newFileHeap(allFiles)

	var packs []Pack
	for packSize := 2; global.Len() > 0; packSize++ {
		anchor := global.popUnused()
		if anchor == nil {
			break
		}

		wanted := packSize - 1
		companions := collectCompanions(anchor, opts, wanted)

		pack := make(Pack, 0, len(companions)+1)
		for _, c := range companions {
			c.used = true
			pack = append(pack, c.rowID)
		}
		anchor.used = true
		pack = append(pack, anchor.rowID)
		packs = append(packs, pack)
	}

	err = diff.Query().
		OnlyKind(diffengine.Created | diffengine.Changed).
		LargerOrEqual(minSize).
		ForEach(ctx, func(r diffengine.Row) error {
			packs = append(packs, Pack{r.RowID})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("packer: scanning large rows: %w", err)
	}

	return packs, nil
}

// dirPrefix returns the '/'-joined ancestor directory components of path,
// dropping the final (file name) component.
func dirPrefix(path []byte) []byte {
	last := -1
	for i, c := range path {
		if c == '/' {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	return path[:last]
}

type directory struct {
	parent  *directory
	files   []*packFile
	subdirs []*directory
}

func newDirectory(parent *directory) *directory {
	return &directory{parent: parent}
}

// ensureDirectory walks dirPath's '/'-separated components from the root,
// creating any missing directory nodes, and returns the leaf.
func ensureDirectory(dirs map[string]*directory, root *directory, dirPath []byte) *directory {
	if len(dirPath) == 0 {
		return root
	}
	cur := root
	curKey := []byte{}
	start := 0
	for i := 0; i <= len(dirPath); i++ {
		if i == len(dirPath) || dirPath[i] == '/' {
			if i > start {
				if len(curKey) > 0 {
					curKey = append(curKey, '/')
				}
				curKey = append(curKey, dirPath[start:i]...)
				key := string(curKey)
				next, ok := dirs[key]
				if !ok {
					next = newDirectory(cur)
					cur.subdirs = append(cur.subdirs, next)
					dirs[key] = next
				}
				cur = next
			}
			start = i + 1
		}
	}
	return cur
}

type packFile struct {
	rowID int64
	size  uint64
	dir   *directory
	used  bool
}

// collectCompanions searches the directories related to anchor's
// directory (its descendants up to ForwardDepth levels, and its ancestors
// up to BackDepth levels together with their other children), gathering
// up to `wanted` of the smallest unused files found. Files already used by
// an earlier pack are skipped rather than reconsidered.
func collectCompanions(anchor *packFile, opts Options, wanted int) []*packFile {
	if wanted <= 0 {
		return nil
	}

	var top []*packFile
	consider := func(f *packFile) {
		if f.used {
			return
		}
		// The anchor's own directory is reached both going forward and
		// as one of the parent's children; never take a file twice.
		for _, t := range top {
			if t == f {
				return
			}
		}
		if len(top) < wanted {
			top = append(top, f)
			return
		}
		// Replace the current largest in top if f is smaller.
		maxIdx, maxSize := -1, f.size
		for i, t := range top {
			if t.size > maxSize {
				maxIdx, maxSize = i, t.size
			}
		}
		if maxIdx >= 0 {
			top[maxIdx] = f
		}
	}

	for _, dir := range findRelatedDirectories(anchor.dir, opts) {
		for _, f := range dir.files {
			if f == anchor {
				continue
			}
			consider(f)
		}
	}

	return top
}

// findRelatedDirectories mirrors the two-phase forward/backward search:
// forward through up to ForwardDepth levels of subdirectories starting at
// dir itself, then backward through up to BackDepth levels of ancestors,
// including each ancestor's other children at the first backward level.
func findRelatedDirectories(dir *directory, opts Options) []*directory {
	var result []*directory

	front := []*directory{dir}
	for level := 0; level < opts.ForwardDepth+1 && len(front) > 0; level++ {
		var next []*directory
		for _, d := range front {
			result = append(result, d)
			next = append(next, d.subdirs...)
		}
		front = next
	}

	back := dir.parent
	for level := 0; level < opts.BackDepth && back != nil; level++ {
		result = append(result, back)
		if level == 0 {
			result = append(result, back.subdirs...)
		}
		back = back.parent
	}

	return result
}

// fileHeap is a max-heap over *packFile by size, with lazy deletion: an
// entry flagged used is discarded the next time it would be popped rather
// than physically removed on selection.
type fileHeap struct {
	items []*packFile
}

func newFileHeap(items []*packFile) *fileHeap {
	h := &fileHeap{items: append([]*packFile(nil), items...)}
	heap.Init((*heapAdapter)(h))
	return h
}

func (h *fileHeap) Len() int { return len(h.items) }

// popUnused pops entries off the heap until it finds one not yet used (or
// the heap is exhausted), returning nil in the latter case.
func (h *fileHeap) popUnused() *packFile {
	for len(h.items) > 0 {
		f := heap.Pop((*heapAdapter)(h)).(*packFile)
		if !f.used {
			return f
		}
	}
	return nil
}

type heapAdapter fileHeap

func (h *heapAdapter) Len() int { return len(h.items) }
func (h *heapAdapter) Less(i, j int) bool {
	return h.items[i].size > h.items[j].size // max-heap
}
func (h *heapAdapter) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *heapAdapter) Push(x any)    { h.items = append(h.items, x.(*packFile)) }
func (h *heapAdapter) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
