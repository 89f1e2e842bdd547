// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator glues the snapshot store, diff engine, cpio codec,
// packer, and object-store transport into the user-visible operations:
// snapshot, diff, preview-packs, pack+upload, and extract. It owns no
// algorithm of its own — every decision about what a snapshot contains,
// how two snapshots differ, or how changed files get grouped into
// archives lives in the package that implements it; this package only
// sequences those calls and reports what happened.
package orchestrator

import (
	"log/slog"

	"github.com/coldvault/coldvault/pkg/archivestate"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/packer"
	"github.com/coldvault/coldvault/pkg/snapstore"
	"github.com/coldvault/coldvault/pkg/walker"
)

// Orchestrator holds the long-lived handles a backup cycle needs: the
// snapshot catalog, the cold-storage transport, the archive-upload
// ledger, and the tuning knobs for walking and packing.
type Orchestrator struct {
	Store     *snapstore.Store
	Transport objectstore.Transport
	Archives  *archivestate.State
	Log       *slog.Logger

	PackOptions packer.Options
	WalkOptions []walker.Option
	Parallelism int
	MinPackSize uint64
}

// New returns an Orchestrator wired to store, transport and archives. A
// nil log falls back to slog.Default(); a zero PackOptions/Parallelism
// falls back to packer.DefaultOptions() and a parallelism of 1.
func New(store *snapstore.Store, transport objectstore.Transport, archives *archivestate.State, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		Store:       store,
		Transport:   transport,
		Archives:    archives,
		Log:         log,
		PackOptions: packer.DefaultOptions(),
		Parallelism: 1,
	}
}
