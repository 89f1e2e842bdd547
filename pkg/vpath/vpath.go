// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package vpath implements the byte-safe path codec described in the
// coldvault data model: paths are stored as `/`-separated byte strings,
// constructed from and exported back to the host's native path form, with
// a length-bounded projection for names that would otherwise overflow a
// cpio header's 16-bit namesize field.
package vpath

import (
	"errors"
	"fmt"
	"hash/maphash"
	"os"
	"strings"
)

// MaxLength is the largest path this codec will accept.
const MaxLength = 65534

var (
	// ErrTooLong is returned when a path exceeds MaxLength bytes.
	ErrTooLong = errors.New("vpath: path exceeds maximum length")
	// ErrContainsNUL is returned when a path contains a NUL byte.
	ErrContainsNUL = errors.New("vpath: path contains NUL byte")
)

// Kind is a phantom marker distinguishing where a Path came from.
type Kind interface {
	kindName() string
}

// Local marks a path that originated on this host's filesystem and is
// therefore safe to open directly.
type Local struct{}

func (Local) kindName() string { return "local" }

// External marks a path that came from an archive or a remote store; it
// must be remapped under a destination root before it is safe to open.
type External struct{}

func (External) kindName() string { return "external" }

// Path is a `/`-separated byte string tagged with its Kind at compile time.
// All conversions between kinds are explicit, via ToExternal/ToLocal.
type Path[K Kind] struct {
	raw []byte
}

// FromNative builds a Local path from a string in the host's native path
// form, normalising the platform separator to '/'.
func FromNative(p string) (Path[Local], error) {
	b := []byte(p)
	if len(b) > MaxLength {
		return Path[Local]{}, fmt.Errorf("%w: %d bytes", ErrTooLong, len(b))
	}
	for _, c := range b {
		if c == 0 {
			return Path[Local]{}, ErrContainsNUL
		}
	}
	sep := byte(os.PathSeparator)
	if sep != '/' {
		for i, c := range b {
			if c == sep {
				b[i] = '/'
			}
		}
	}
	return Path[Local]{raw: b}, nil
}

// ToNative renders the path back into the host's native separator form.
func (p Path[K]) ToNative() string {
	sep := byte(os.PathSeparator)
	if sep == '/' {
		return string(p.raw)
	}
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	for i, c := range out {
		if c == '/' {
			out[i] = sep
		}
	}
	return string(out)
}

// FromBytes builds an External path directly from already-'/'-separated
// bytes, as read back from an archive or snapshot row.
func FromBytes(b []byte) (Path[External], error) {
	if len(b) > MaxLength {
		return Path[External]{}, fmt.Errorf("%w: %d bytes", ErrTooLong, len(b))
	}
	for _, c := range b {
		if c == 0 {
			return Path[External]{}, ErrContainsNUL
		}
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return Path[External]{raw: raw}, nil
}

// ToExternal casts a Local path to External, e.g. before it is written into
// an archive or a snapshot row.
func ToExternal(p Path[Local]) Path[External] {
	return Path[External]{raw: p.raw}
}

// ToLocal casts an External path to Local. Callers must have already
// remapped/validated the path against a destination root; this function
// performs no such check itself.
func ToLocal(p Path[External]) Path[Local] {
	return Path[Local]{raw: p.raw}
}

// Bytes returns the raw `/`-separated byte representation.
func (p Path[K]) Bytes() []byte {
	return p.raw
}

// String renders the `/`-separated form.
func (p Path[K]) String() string {
	return string(p.raw)
}

// Len reports the length in bytes.
func (p Path[K]) Len() int {
	return len(p.raw)
}

// SplitParent splits the path at its last '/', returning (dir, base).
// Unlike path.Split, the separator belongs to neither half, and dir is nil
// when the path contains no '/'.
func (p Path[K]) SplitParent() (dir, base []byte) {
	idx := strings.LastIndexByte(string(p.raw), '/')
	if idx < 0 {
		return nil, p.raw
	}
	return p.raw[:idx], p.raw[idx+1:]
}

const base41Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-+!=_"

func init() {
	if len(base41Alphabet) != 41 {
		panic("vpath: base41Alphabet must have exactly 41 symbols")
	}
}

// u64ToBase41 renders num as a fixed 12-character string in a 41-symbol
// alphabet, padding with the alphabet's first symbol.
func u64ToBase41(num uint64) [12]byte {
	var result [12]byte
	for i := range result {
		result[i] = base41Alphabet[0]
	}
	idx := 0
	for num != 0 && idx < 12 {
		result[idx] = base41Alphabet[num%41]
		num /= 41
		idx++
	}
	return result
}

var pathHashSeed = maphash.MakeSeed()

// CropTo returns p unchanged if it already fits within maxLength bytes;
// otherwise it returns a same-length byte slice built from as much of the
// original prefix as fits, followed by a 12-character base-41 hash of the
// full original path, followed by the original's dot-extension if one was
// present in its final 10 bytes.
func (p Path[K]) CropTo(maxLength int) []byte {
	if len(p.raw) <= maxLength {
		return p.raw
	}

	var h maphash.Hash
	h.SetSeed(pathHashSeed)
	h.Write(p.raw)
	hash := u64ToBase41(h.Sum64())

	extStart := len(p.raw) - 10
	if extStart < 0 {
		extStart = 0
	}
	tail := p.raw[extStart:]
	dotIdx := strings.LastIndexByte(string(tail), '.')
	var extension []byte
	nameEnd := len(p.raw)
	if dotIdx >= 0 {
		extension = p.raw[extStart+dotIdx:]
		nameEnd = extStart + dotIdx
	}

	spaceAvailable := maxLength - len(extension) - len(hash)
	if spaceAvailable < 0 {
		spaceAvailable = 0
	}
	if spaceAvailable > nameEnd {
		spaceAvailable = nameEnd
	}

	out := make([]byte, 0, maxLength)
	out = append(out, p.raw[:spaceAvailable]...)
	out = append(out, hash[:]...)
	out = append(out, extension...)
	return out
}
