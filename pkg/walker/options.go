// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package walker

import "path/filepath"

// Option configures a Walk call.
type Option func(*options)

type options struct {
	excludePatterns []string
	excludeFn       func(path string, isDir bool) bool
	followSymlinks  bool
	maxFileSize     int64
	maxFiles        int
	cache           *Cache
}

func defaultOptions() *options {
	return &options{
		excludePatterns: nil,
		followSymlinks:  false,
		maxFileSize:     100 * 1024 * 1024, // 100MB default max file size
		maxFiles:        1_000_000,
	}
}

// WithExclude adds glob patterns for paths to exclude. Patterns are matched
// against the '/'-separated path relative to the walk root.
// Examples: "*.log", ".git/**", "node_modules/**"
func WithExclude(patterns ...string) Option {
	return func(o *options) {
		o.excludePatterns = append(o.excludePatterns, patterns...)
	}
}

// WithExcludeFunc sets a custom exclusion function. Return true to exclude
// the path. Called for every file and directory.
func WithExcludeFunc(fn func(path string, isDir bool) bool) Option {
	return func(o *options) {
		o.excludeFn = fn
	}
}

// WithFollowSymlinks enables dereferencing symbolic links: a link to a
// directory is walked as that directory, a link to a file as that file.
// By default a symlink is reported as a fileinfo.KindUnknown entry; its
// target is not recorded.
func WithFollowSymlinks() Option {
	return func(o *options) {
		o.followSymlinks = true
	}
}

// WithMaxFileSize sets the largest regular file Walk will stat-and-hash
// bookkeeping for. Larger files are skipped. Default is 100MB.
func WithMaxFileSize(bytes int64) Option {
	return func(o *options) {
		o.maxFileSize = bytes
	}
}

// WithMaxFiles bounds the number of regular files a single Walk call will
// visit before it gives up with ErrTooManyFiles.
func WithMaxFiles(n int) Option {
	return func(o *options) {
		o.maxFiles = n
	}
}

// WithCache attaches a rewalk cache: directories whose mtime Walk can prove
// unchanged since the cache entry was recorded are still visited (a walker
// never trusts a directory mtime for its children's contents), but individual
// files whose (mtime, size) match the cached fingerprint skip rehashing.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

func (o *options) shouldExclude(relPath string, isDir bool) bool {
	if o.excludeFn != nil && o.excludeFn(relPath, isDir) {
		return true
	}

	for _, pattern := range o.excludePatterns {
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(relPath)); matched {
			return true
		}
		if isDir && len(pattern) > 3 && pattern[len(pattern)-3:] == "/**" {
			prefix := pattern[:len(pattern)-3]
			if matched, _ := filepath.Match(prefix, relPath); matched {
				return true
			}
		}
	}

	return false
}
