// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cpio

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/coldvault/coldvault/pkg/fileinfo"
)

// Item is a single cpio entry as seen by a cursor-based read: the fields
// carried in the fixed header, plus a bounded reader over its content.
// Content must be fully drained (or the Reader will drain it on the next
// NextItem call) before advancing.
type Item struct {
	Name  []byte
	Kind  fileinfo.Kind
	Mode  uint32
	Inode uint64
	Mtime time.Time
	Size  uint64

	Content io.Reader
}

// Reader walks a cpio byte stream entry by entry. After the final regular
// entry, NextItem returns (nil, io.EOF) and Manifest becomes available.
type Reader struct {
	r   *bufio.Reader
	cur *boundedReader

	manifest    []fileinfo.Info
	manifestErr error
	done        bool
}

// NewReader wraps r for cursor-based reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Manifest returns the trailing file-info records once the stream has been
// fully consumed (NextItem has returned io.EOF). It is nil before then.
func (rd *Reader) Manifest() ([]fileinfo.Info, error) {
	return rd.manifest, rd.manifestErr
}

// NextItem drains any unread content from the previous item, then decodes
// and returns the next entry. It returns (nil, io.EOF) once the trailer is
// reached; Manifest then holds the decoded manifest, if any.
func (rd *Reader) NextItem() (*Item, error) {
	if rd.done {
		return nil, io.EOF
	}
	if rd.cur != nil {
		if _, err := io.Copy(io.Discard, rd.cur); err != nil {
			return nil, fmt.Errorf("cpio: draining previous entry: %w", err)
		}
		if err := rd.consumePad(rd.cur.declaredSize); err != nil {
			return nil, err
		}
		rd.cur = nil
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(rd.r, hdrBuf); err != nil {
		return nil, fmt.Errorf("cpio: reading header: %w", err)
	}
	h, err := decodeHeader(hdrBuf)
	if err != nil {
		return nil, err
	}

	name, err := rd.readName(h.namesize)
	if err != nil {
		return nil, err
	}

	if h.isTrailer() && string(name) == string(trailerName) {
		rest, err := io.ReadAll(rd.r)
		if err != nil {
			return nil, fmt.Errorf("cpio: reading trailing manifest: %w", err)
		}
		rd.manifest, rd.manifestErr = decodeManifest(rest)
		rd.done = true
		return nil, io.EOF
	}

	size := h.size()
	kind := fileinfo.KindUnknown
	switch h.mode & modeTypeMask {
	case modeFile:
		kind = fileinfo.KindFile
	case modeDir:
		kind = fileinfo.KindDir
	}

	rd.cur = &boundedReader{r: rd.r, remaining: size, declaredSize: size}
	return &Item{
		Name:    name,
		Kind:    kind,
		Mode:    uint32(h.mode) &^ modeTypeMask,
		Inode:   uint64(h.devIno[1]) | uint64(h.devIno[0])<<16,
		Mtime:   decodeTimestamp(h.mtime),
		Size:    size,
		Content: rd.cur,
	}, nil
}

// readName reads namesize bytes (the NUL-terminated name) and, if namesize
// is odd, the single alignment pad byte that follows it.
func (rd *Reader) readName(namesize uint16) ([]byte, error) {
	buf := make([]byte, namesize)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, fmt.Errorf("cpio: reading name: %w", err)
	}
	if len(buf) == 0 || buf[len(buf)-1] != 0 {
		return nil, ErrInvalidName
	}
	name := buf[:len(buf)-1]
	if namesize%2 != 0 {
		if _, err := rd.r.Discard(1); err != nil {
			return nil, fmt.Errorf("cpio: reading name padding: %w", err)
		}
	}
	return name, nil
}

func (rd *Reader) consumePad(size uint64) error {
	if size%2 == 0 {
		return nil
	}
	if _, err := rd.r.Discard(1); err != nil {
		return fmt.Errorf("cpio: reading content padding: %w", err)
	}
	return nil
}

// decodeTimestamp reverses convertTimestamp: t is stored higher word first.
func decodeTimestamp(t [2]uint16) time.Time {
	if t[0] == 0 && t[1] == 0 {
		return time.Unix(0, 0).UTC()
	}
	u := uint32(t[1]) | uint32(t[0])<<16
	return time.Unix(int64(u), 0).UTC()
}

// boundedReader limits reads to declaredSize bytes of the underlying
// stream, so a caller that doesn't read to EOF still leaves the stream
// positioned correctly once Reader drains the remainder.
type boundedReader struct {
	r            *bufio.Reader
	remaining    uint64
	declaredSize uint64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= uint64(n)
	if err == nil && b.remaining == 0 {
		err = io.EOF
	}
	return n, err
}
