// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package snapstore is the on-disk snapshot catalog: one root SQLite
// database listing every snapshot taken, plus one attached auxiliary
// database per snapshot holding its file rows. Attaching is how a single
// connection queries across two snapshots at once (for diffing) without
// a cross-database join engine.
package snapstore

import (
	"fmt"
	"regexp"
	"time"
)

var sqlNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// SqlName is a validated identifier safe to interpolate directly into SQL
// as a table/database name (placeholders can't parameterize those).
// Validation, not escaping, is what keeps this safe: the alphabet it
// accepts has no characters SQL treats specially.
type SqlName struct {
	name string
}

// NewSqlName validates name as a bare identifier: a letter followed by
// letters, digits, or underscores.
func NewSqlName(name string) (SqlName, error) {
	if !sqlNamePattern.MatchString(name) {
		return SqlName{}, fmt.Errorf("snapstore: %q is not a valid SQL name", name)
	}
	return SqlName{name: name}, nil
}

// String returns the validated identifier.
func (n SqlName) String() string {
	return n.name
}

// NowSqlName derives a snapshot name from the current time, matching the
// timestamped default names used when no explicit name is given.
func NowSqlName(now time.Time) SqlName {
	u := now.UTC()
	name := fmt.Sprintf("at%04d_%02d_%02d_%02d_%02d_%02d_%09d",
		u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond())
	return SqlName{name: name}
}
