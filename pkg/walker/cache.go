// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package walker

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// cacheEntry is one path's remembered state from a prior walk.
type cacheEntry struct {
	MtimeUnixNano int64    `msgpack:"mtime"`
	Size          uint64   `msgpack:"size"`
	Fingerprint   [32]byte `msgpack:"fingerprint"`
}

// Cache is a persisted, path-keyed rewalk cache: it lets a walk reuse a
// file's previously computed BLAKE3 fingerprint instead of rereading its
// content when the file's mtime and size have not moved since the cache
// was last saved. It is purely a walker-side optimization; the snapshot
// store's own identifier-based change detection is authoritative.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty, in-memory cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// LoadCache reads a cache previously written by Save. A missing file is not
// an error: it yields an empty cache, since the very first walk of a tree
// has nothing to load.
func LoadCache(path string) (*Cache, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("walker: reading cache %q: %w", path, err)
	}

	var entries map[string]cacheEntry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("walker: decoding cache %q: %w", path, err)
	}
	if entries == nil {
		entries = make(map[string]cacheEntry)
	}
	return &Cache{entries: entries}, nil
}

// Save persists the cache to path, overwriting any existing file.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := msgpack.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("walker: encoding cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("walker: writing cache %q: %w", path, err)
	}
	return nil
}

// lookup reports whether absPath has a cache entry whose mtime and size
// exactly match the ones just observed.
func (c *Cache) lookup(absPath string, mtime time.Time, size uint64) ([32]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[absPath]
	if !ok || e.MtimeUnixNano != mtime.UnixNano() || e.Size != size {
		return [32]byte{}, false
	}
	return e.Fingerprint, true
}

// record stores absPath's current mtime, size and fingerprint, replacing
// any previous entry.
func (c *Cache) record(absPath string, mtime time.Time, size uint64, fp [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[absPath] = cacheEntry{
		MtimeUnixNano: mtime.UnixNano(),
		Size:          size,
		Fingerprint:   fp,
	}
}

// fingerprintFile computes the BLAKE3-256 digest of a file's content.
func fingerprintFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
