// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cpio

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/coldvault/coldvault/pkg/fileinfo"
	"github.com/coldvault/coldvault/pkg/vpath"
)

// largeFileThreshold is the size at and above which a pending file is
// streamed through a running hasher instead of being buffered whole, per
// original_source/src/cpio/pending.rs's Reading::Large/SmallBegin split.
const largeFileThreshold = 10 * 1024 * 1024

// Mismatch is returned when a file's actual size or content hash disagrees
// with the expected values carried by its Info record. It is fatal on
// write (the archive stream errors) and a warning on read (collected, the
// extract continues).
type Mismatch struct {
	Path     string
	Expected any
	Found    any
	Kind     string // "size" or "hash"
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("cpio: %s mismatch for %q: expected %v, found %v", m.Kind, m.Path, m.Expected, m.Found)
}

// Pending is a file queued for archive streaming but not yet read.
type Pending struct {
	Info      fileinfo.Info
	Alias     vpath.Path[vpath.External] // name to encode in the header; defaults to Info.Path
	LocalPath string                     // filesystem path to read content from, for Kind == KindFile

	calculated *[32]byte
}

// NewPending queues info for archiving, aliasing it to name in the header
// (e.g. after vpath.CropTo truncation). If alias is the zero value, the
// entry's own path is used verbatim.
func NewPending(info fileinfo.Info, alias vpath.Path[vpath.External]) *Pending {
	return &Pending{Info: info, Alias: alias}
}

// Calculated returns the SHA-256 digest computed while this entry's
// content was streamed, or nil if the entry has not been read yet (or
// carries no content, e.g. a directory).
func (p *Pending) Calculated() *[32]byte {
	return p.calculated
}

func (p *Pending) headerName() []byte {
	if p.Alias.Len() > 0 {
		return p.Alias.Bytes()
	}
	return p.Info.Path.Bytes()
}

// header renders the 26-byte fixed header plus NUL-padded name for this
// pending entry.
func (p *Pending) header() ([]byte, error) {
	name := p.headerName()
	cropped, err := vpath.FromBytes(name)
	if err != nil {
		return nil, err
	}
	name = cropped.CropTo(0xFFFE)
	return encodeEntry(p.Info, name)
}

// openLocal opens the underlying file for reading under an advisory
// exclusive lock, returning a reader that hashes its content and validates
// it against the expected size/hash on EOF.
func (p *Pending) openLocal(localPath string) (io.ReadCloser, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("cpio: open %q: %w", localPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("cpio: lock %q: %w", localPath, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cpio: stat %q: %w", localPath, err)
	}

	if st.Size() < largeFileThreshold {
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("cpio: read %q: %w", localPath, err)
		}
		if err := p.checkSize(uint64(len(data))); err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		if err := p.checkHash(sum); err != nil {
			return nil, err
		}
		p.calculated = &sum
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	return &largeReader{pending: p, file: f, digest: sha256.New(), size: uint64(st.Size())}, nil
}

// largeReader streams a file at or above largeFileThreshold, hashing each
// chunk as it passes through and validating size/hash once the final byte
// has been delivered.
type largeReader struct {
	pending  *Pending
	file     *os.File
	digest   hashDigest
	size     uint64
	read     uint64
	checked  bool
	checkErr error
}

type hashDigest interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

func (r *largeReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if n > 0 {
		r.digest.Write(p[:n])
		r.read += uint64(n)
	}
	if err == io.EOF && !r.checked {
		r.checked = true
		r.checkErr = r.finish()
	}
	if r.checkErr != nil {
		return n, r.checkErr
	}
	return n, err
}

func (r *largeReader) finish() error {
	if err := r.pending.checkSize(r.read); err != nil {
		return err
	}
	var sum [32]byte
	copy(sum[:], r.digest.Sum(nil))
	if err := r.pending.checkHash(sum); err != nil {
		return err
	}
	r.pending.calculated = &sum
	return nil
}

func (r *largeReader) Close() error {
	return r.file.Close()
}

func (p *Pending) checkSize(found uint64) error {
	if p.Info.Kind == fileinfo.KindFile && p.Info.Size != found {
		return &Mismatch{Path: p.Info.Path.String(), Expected: p.Info.Size, Found: found, Kind: "size"}
	}
	return nil
}

func (p *Pending) checkHash(found [32]byte) error {
	if p.Info.Hash != nil && *p.Info.Hash != found {
		return &Mismatch{Path: p.Info.Path.String(), Expected: *p.Info.Hash, Found: found, Kind: "hash"}
	}
	return nil
}
