// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package cpio

import (
	"bytes"
	"io"

	"github.com/coldvault/coldvault/pkg/fileinfo"
)

// Writer streams an Archive as an old-binary cpio byte sequence. It walks
// the queued entries in sorted order through a small set of conceptual
// states — emit header, stream file content, pad, advance; emit trailer
// and manifest; done — without buffering more than one entry's header or
// padding bytes at a time. File content is streamed directly from disk,
// never buffered in full by the writer itself (Pending.openLocal already
// makes the small/large split).
type Writer struct {
	archive *Archive
	entries []*Pending
	idx     int

	buf    bytes.Buffer // header/padding/trailer bytes not yet consumed
	active io.ReadCloser
	read   uint64 // bytes read from the current active file, to decide padding

	trailerWritten bool
}

// NewWriter returns a streaming io.Reader over archive's queued entries.
// The archive must not be mutated after streaming begins.
func NewWriter(archive *Archive) *Writer {
	return &Writer{archive: archive, entries: archive.sorted()}
}

func (w *Writer) Read(p []byte) (int, error) {
	for {
		if w.buf.Len() > 0 {
			return w.buf.Read(p)
		}

		if w.active != nil {
			n, err := w.active.Read(p)
			if n > 0 {
				w.read += uint64(n)
				return n, nil
			}
			if err == io.EOF {
				w.active.Close()
				w.active = nil
				if w.read%2 != 0 {
					w.buf.WriteByte(0)
				}
				w.idx++
				continue
			}
			return n, err
		}

		if w.idx < len(w.entries) {
			if err := w.enterEntry(w.entries[w.idx]); err != nil {
				return 0, err
			}
			continue
		}

		if !w.trailerWritten {
			manifest, err := w.archive.Manifest()
			if err != nil {
				return 0, err
			}
			w.buf.Write(encodeTrailer(manifest))
			w.trailerWritten = true
			continue
		}

		return 0, io.EOF
	}
}

// enterEntry emits the header for the entry at w.idx and, for regular
// files, opens the content reader; directories and unknown entries have
// no content and advance immediately.
func (w *Writer) enterEntry(pend *Pending) error {
	hdr, err := pend.header()
	if err != nil {
		return err
	}
	w.buf.Write(hdr)

	if pend.Info.Kind != fileinfo.KindFile {
		w.idx++
		return nil
	}

	r, err := pend.openLocal(pend.LocalPath)
	if err != nil {
		return err
	}
	w.active = r
	w.read = 0
	return nil
}

// Close releases any file currently open for streaming. Safe to call
// after the reader has been fully drained.
func (w *Writer) Close() error {
	if w.active != nil {
		err := w.active.Close()
		w.active = nil
		return err
	}
	return nil
}
