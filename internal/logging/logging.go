// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the structured slog.Logger every coldvault command
// runs with, and attaches the request-scoped fields (the snapshot or
// archive a command is operating on) so warnings surfaced mid-run carry
// that context without the core packages importing a logging library of
// their own.
package logging

import (
	"log/slog"
	"os"

	"github.com/coldvault/coldvault/internal/config"
)

// New builds the base logger for a CLI invocation: a text handler writing
// to stderr at cfg.LogLevel, matching the rest of the ambient stack's
// preference for plain, greppable output over a structured sink.
func New(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// ForSnapshot scopes log to one snapshot name, for commands (create-snapshot,
// diff-snapshot, preview-packs, pack-upload) that walk or compare a snapshot
// database.
func ForSnapshot(log *slog.Logger, name string) *slog.Logger {
	return log.With("snapshot", name)
}

// ForArchive scopes log to one uploaded archive's object-store key, for
// the restore command, which reads an archive back through a transport.
func ForArchive(log *slog.Logger, key string) *slog.Logger {
	return log.With("archive", key)
}
