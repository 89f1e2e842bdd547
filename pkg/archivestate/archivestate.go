// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package archivestate records which archives have been uploaded to an
// object store and which content hashes each one carries, so future
// snapshots can skip content that is already safely stored remotely.
package archivestate

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Key identifies an archive in the remote object store (e.g. an S3 key,
// an Azure blob name, or a local-filesystem UUID).
type Key string

// UploadedArchive is one archive's worth of bookkeeping to record.
type UploadedArchive struct {
	Key        Key
	Hashes     [][32]byte // content digest of every file packed into the archive
	UploadedAt time.Time

	// ContentKeySlot carries an opaque, uninterpreted encryption-key
	// reference for this archive. coldvault itself never reads or
	// validates it; it exists so a caller layering client-side encryption
	// on top of the object store has somewhere durable to record which
	// key protected a given archive.
	ContentKeySlot []byte
}

// ArchiveID is the row id assigned to an uploaded archive.
type ArchiveID int64

// Archive is one recorded upload.
type Archive struct {
	ID             ArchiveID
	Key            Key
	UploadedAt     time.Time
	ContentKeySlot []byte
}

// State is the archive-upload ledger, backed by its own SQLite database
// distinct from the snapshot catalog.
type State struct {
	db *sql.DB
}

// Open opens (creating if absent) the archive-state database at path.
func Open(ctx context.Context, path string) (*State, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archivestate: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS archives (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,
			content_key_slot BLOB
		);
		CREATE TABLE IF NOT EXISTS contents (
			hash TEXT NOT NULL,
			archive_id INTEGER NOT NULL REFERENCES archives(id)
		);
		CREATE INDEX IF NOT EXISTS idx_contents_hash ON contents(hash);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archivestate: creating tables: %w", err)
	}

	return &State{db: db}, nil
}

// Close releases the underlying connection.
func (s *State) Close() error {
	return s.db.Close()
}

// SetUploaded records archive as uploaded: one archives row, then one
// contents row per content hash, inside a single transaction.
func (s *State) SetUploaded(ctx context.Context, archive UploadedArchive) (ArchiveID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archivestate: begin: %w", err)
	}
	defer tx.Rollback()

	// Fixed-width fractional seconds keep the text order of uploaded_at
	// chronological, which FindByHash's ORDER BY relies on.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO archives(key, uploaded_at, content_key_slot) VALUES (?, ?, ?)`,
		string(archive.Key), archive.UploadedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), archive.ContentKeySlot,
	)
	if err != nil {
		return 0, fmt.Errorf("archivestate: inserting archive: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("archivestate: reading archive id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO contents(hash, archive_id) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archivestate: preparing content insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range archive.Hashes {
		if _, err := stmt.ExecContext(ctx, hex.EncodeToString(h[:]), id); err != nil {
			return 0, fmt.Errorf("archivestate: inserting content row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archivestate: commit: %w", err)
	}
	return ArchiveID(id), nil
}

// Get loads a single archive by id.
func (s *State) Get(ctx context.Context, id ArchiveID) (*Archive, error) {
	var a Archive
	var uploadedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, uploaded_at, content_key_slot FROM archives WHERE id = ?`, id,
	).Scan(&a.ID, &a.Key, &uploadedAt, &a.ContentKeySlot)
	if err != nil {
		return nil, fmt.Errorf("archivestate: get %d: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339Nano, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("archivestate: parsing uploaded_at: %w", err)
	}
	a.UploadedAt = t
	return &a, nil
}

// FindByHash returns every archive that carries a file with the given
// content digest, most recently uploaded first.
func (s *State) FindByHash(ctx context.Context, hash [32]byte) ([]Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT archives.id, archives.key, archives.uploaded_at, archives.content_key_slot
		FROM contents
		INNER JOIN archives ON archives.id = contents.archive_id
		WHERE contents.hash = ?
		ORDER BY archives.uploaded_at DESC
	`, hex.EncodeToString(hash[:]))
	if err != nil {
		return nil, fmt.Errorf("archivestate: querying by hash: %w", err)
	}
	defer rows.Close()

	var out []Archive
	for rows.Next() {
		var a Archive
		var uploadedAt string
		if err := rows.Scan(&a.ID, &a.Key, &uploadedAt, &a.ContentKeySlot); err != nil {
			return nil, fmt.Errorf("archivestate: scanning row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("archivestate: parsing uploaded_at: %w", err)
		}
		a.UploadedAt = t
		out = append(out, a)
	}
	return out, rows.Err()
}
