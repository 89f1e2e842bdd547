// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package fileinfo defines the per-entry metadata record carried through
// every layer of coldvault: the snapshot store's rows, the cpio codec's
// headers and manifest, and the packer's size-ordered queries all operate
// on Info values.
package fileinfo

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coldvault/coldvault/pkg/vpath"
)

// Kind tags the payload a file-info record carries.
type Kind uint8

const (
	// KindFile marks a regular file; Size is meaningful.
	KindFile Kind = iota
	// KindDir marks a directory.
	KindDir
	// KindUnknown marks anything else (symlink, device, socket, ...).
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Info is the tagged, self-describing per-entry metadata record.
type Info struct {
	Path  vpath.Path[vpath.External] `json:"-"`
	Inode uint64                     `json:"inode"`
	Mode  uint32                     `json:"mode"`
	UID   uint32                     `json:"uid"`
	GID   uint32                     `json:"gid"`
	Ctime time.Time                  `json:"ctime"`
	Mtime time.Time                  `json:"mtime"`

	// Hash is the optional 256-bit content digest, present once the entry
	// has been read and hashed (e.g. by the cpio writer or hashstream).
	Hash *[32]byte `json:"hash,omitempty"`

	Kind Kind   `json:"kind"`
	Size uint64 `json:"size,omitempty"` // meaningful only for KindFile
}

// infoWire is the JSON-serialisable shape of Info; Path is carried as a
// plain string because vpath.Path has no exported fields to marshal.
type infoWire struct {
	Path  string    `json:"path"`
	Inode uint64    `json:"inode"`
	Mode  uint32    `json:"mode"`
	UID   uint32    `json:"uid"`
	GID   uint32    `json:"gid"`
	Ctime time.Time `json:"ctime"`
	Mtime time.Time `json:"mtime"`
	Hash  *[32]byte `json:"hash,omitempty"`
	Kind  Kind      `json:"kind"`
	Size  uint64    `json:"size,omitempty"`
}

// MarshalJSON renders Info as its self-describing wire form.
func (i Info) MarshalJSON() ([]byte, error) {
	return json.Marshal(infoWire{
		Path:  i.Path.String(),
		Inode: i.Inode,
		Mode:  i.Mode,
		UID:   i.UID,
		GID:   i.GID,
		Ctime: i.Ctime,
		Mtime: i.Mtime,
		Hash:  i.Hash,
		Kind:  i.Kind,
		Size:  i.Size,
	})
}

// UnmarshalJSON parses Info from its wire form.
func (i *Info) UnmarshalJSON(data []byte) error {
	var w infoWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("fileinfo: unmarshal: %w", err)
	}
	p, err := vpath.FromBytes([]byte(w.Path))
	if err != nil {
		return fmt.Errorf("fileinfo: path %q: %w", w.Path, err)
	}
	i.Path = p
	i.Inode = w.Inode
	i.Mode = w.Mode
	i.UID = w.UID
	i.GID = w.GID
	i.Ctime = w.Ctime
	i.Mtime = w.Mtime
	i.Hash = w.Hash
	i.Kind = w.Kind
	i.Size = w.Size
	return nil
}

// Identifier is the 32-byte packed dedup key used inside a snapshot. It is
// deliberately not a cryptographic hash: it only has to be a cheap,
// reliable change detector.
type Identifier [32]byte

// NewIdentifier packs (inode, ctime, size, mtime) into a FileIdentifier.
func NewIdentifier(inode uint64, ctime time.Time, size uint64, mtime time.Time) Identifier {
	var id Identifier
	binary.BigEndian.PutUint64(id[0:8], inode)
	binary.BigEndian.PutUint64(id[8:16], uint64(ctime.UnixNano()))
	binary.BigEndian.PutUint64(id[16:24], size)
	binary.BigEndian.PutUint64(id[24:32], uint64(mtime.UnixNano()))
	return id
}

// Identifier computes this Info's FileIdentifier.
func (i Info) Identifier() Identifier {
	return NewIdentifier(i.Inode, i.Ctime, i.Size, i.Mtime)
}
