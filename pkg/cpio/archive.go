// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cpio

import (
	"encoding/json"
	"sort"

	"github.com/coldvault/coldvault/pkg/fileinfo"
)

// Archive is a queued set of files to stream as an old-binary cpio
// archive, in the lexical order their names are encoded.
type Archive struct {
	files []*Pending
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{}
}

// Add queues p for archiving. Entries are sorted lexically by header name
// before streaming begins.
func (a *Archive) Add(p *Pending) {
	a.files = append(a.files, p)
}

// Len reports the number of queued entries.
func (a *Archive) Len() int {
	return len(a.files)
}

func (a *Archive) sorted() []*Pending {
	out := make([]*Pending, len(a.files))
	copy(out, a.files)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].headerName()) < string(out[j].headerName())
	})
	return out
}

// Manifest renders the trailing JSON array of file-info records. It
// returns nil (not "[]") when the archive holds no files, so that an
// empty archive ends right after the trailer's padding NUL rather than
// carrying a two-byte array, matching the on-disk layout of an archive
// that never attached a manifest.
func (a *Archive) Manifest() ([]byte, error) {
	if len(a.files) == 0 {
		return nil, nil
	}
	infos := make([]fileinfo.Info, len(a.files))
	for i, p := range a.sorted() {
		info := p.Info
		if info.Hash == nil {
			info.Hash = p.Calculated()
		}
		infos[i] = info
	}
	return json.Marshal(infos)
}

// decodeManifest parses the bytes following the trailer's padding NUL. No
// bytes (or a lone zero byte) decode to (nil, nil); anything else must be
// a valid JSON array of fileinfo.Info records, else ErrCantDeserializeArchive.
func decodeManifest(b []byte) ([]fileinfo.Info, error) {
	if len(b) == 0 || (len(b) == 1 && b[0] == 0) {
		return nil, nil
	}
	var infos []fileinfo.Info
	if err := json.Unmarshal(b, &infos); err != nil {
		return nil, ErrCantDeserializeArchive
	}
	return infos, nil
}
