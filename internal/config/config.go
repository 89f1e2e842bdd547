// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads coldvault's runtime configuration from environment
// variables (optionally via a .env file), validating and defaulting
// values so startup fails fast rather than producing confusing errors
// deep inside a backup cycle.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend names the object-store transport a Config selects.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendS3     Backend = "s3"
	BackendAzure  Backend = "azure"
	BackendRemote Backend = "remote"
)

// Config captures all runtime configuration for coldvault.
type Config struct {
	// SnapshotRoot holds the snapshot catalog (db.sqlite3) plus one
	// attached database per snapshot and per diff.
	SnapshotRoot string
	// ArchiveStatePath is the archive-upload ledger's own database file.
	ArchiveStatePath string

	ObjectStoreBackend Backend

	// LocalObjectStoreRoot is used when ObjectStoreBackend == local.
	LocalObjectStoreRoot string

	// S3 configuration, used when ObjectStoreBackend == s3.
	S3Bucket string
	S3Region string
	S3Prefix string

	// Azure configuration, used when ObjectStoreBackend == azure.
	AzureServiceURL  string
	AzureContainer   string
	AzureAccountName string
	AzureAccountKey  string

	// Remote configuration, used when ObjectStoreBackend == remote: a
	// peer coldvault process speaking pkg/remote's binary protocol.
	RemoteAddr  string
	RemoteToken string

	// MinPackSize is the packer's size threshold in bytes: Created/Changed
	// rows below it are grouped by locality; at or above it, each gets its
	// own singleton pack.
	MinPackSize uint64
	// Parallelism bounds how many pack uploads the orchestrator runs
	// concurrently.
	Parallelism int
	// PackForwardDepth/PackBackDepth are the packer's related-directories
	// search depths (spec.md §9: "make the depths parameters").
	PackForwardDepth int
	PackBackDepth    int

	LogLevel slog.Level
}

const (
	defaultSnapshotRoot     = "./data/snapshots"
	defaultArchiveStatePath = "./data/archivestate.db"
	defaultObjectStoreRoot  = "./data/objects"
	defaultMinPackSize      = 8 * 1024 * 1024 // 8MiB
	defaultParallelism      = 4
	defaultForwardDepth     = 3
	defaultBackDepth        = 2
)

// Load reads configuration from environment variables and validates
// required fields for the selected backend.
func Load() (Config, error) {
	// Best-effort load from common .env locations so both `go run ./cmd/...`
	// from the repo root and from a subdirectory pick up the same file.
	_ = godotenv.Load(".env", "../.env", "../../.env")

	cfg := Config{
		SnapshotRoot:         firstNonEmpty(os.Getenv("SNAPSHOT_ROOT"), defaultSnapshotRoot),
		ArchiveStatePath:     firstNonEmpty(os.Getenv("ARCHIVE_STATE_PATH"), defaultArchiveStatePath),
		ObjectStoreBackend:   Backend(strings.ToLower(firstNonEmpty(os.Getenv("OBJECT_STORE_BACKEND"), string(BackendLocal)))),
		LocalObjectStoreRoot: firstNonEmpty(os.Getenv("LOCAL_OBJECT_STORE_ROOT"), defaultObjectStoreRoot),
		S3Bucket:             strings.TrimSpace(os.Getenv("S3_BUCKET")),
		S3Region:             strings.TrimSpace(os.Getenv("S3_REGION")),
		S3Prefix:             strings.TrimSpace(os.Getenv("S3_PREFIX")),
		AzureServiceURL:      strings.TrimSpace(os.Getenv("AZURE_SERVICE_URL")),
		AzureContainer:       strings.TrimSpace(os.Getenv("AZURE_CONTAINER")),
		AzureAccountName:     strings.TrimSpace(os.Getenv("AZURE_ACCOUNT_NAME")),
		AzureAccountKey:      strings.TrimSpace(os.Getenv("AZURE_ACCOUNT_KEY")),
		RemoteAddr:           strings.TrimSpace(os.Getenv("REMOTE_ADDR")),
		RemoteToken:          strings.TrimSpace(os.Getenv("REMOTE_TOKEN")),
		PackForwardDepth:     defaultForwardDepth,
		PackBackDepth:        defaultBackDepth,
	}

	minPackSize, err := parseUintEnv("MIN_PACK_SIZE", defaultMinPackSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MinPackSize = minPackSize

	parallelism, err := parseIntEnv("PARALLELISM", defaultParallelism)
	if err != nil {
		return Config{}, err
	}
	if parallelism < 1 {
		return Config{}, fmt.Errorf("config: PARALLELISM must be at least 1")
	}
	cfg.Parallelism = parallelism

	if v := strings.TrimSpace(os.Getenv("PACK_FORWARD_DEPTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: invalid PACK_FORWARD_DEPTH: %q", v)
		}
		cfg.PackForwardDepth = n
	}
	if v := strings.TrimSpace(os.Getenv("PACK_BACK_DEPTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: invalid PACK_BACK_DEPTH: %q", v)
		}
		cfg.PackBackDepth = n
	}

	level, err := parseLogLevel(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.ObjectStoreBackend {
	case BackendLocal:
		// No further requirements: LocalObjectStoreRoot always defaults.
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: S3_BUCKET is required when OBJECT_STORE_BACKEND=s3")
		}
	case BackendAzure:
		if c.AzureServiceURL == "" || c.AzureContainer == "" {
			return fmt.Errorf("config: AZURE_SERVICE_URL and AZURE_CONTAINER are required when OBJECT_STORE_BACKEND=azure")
		}
	case BackendRemote:
		if c.RemoteAddr == "" {
			return fmt.Errorf("config: REMOTE_ADDR is required when OBJECT_STORE_BACKEND=remote")
		}
	default:
		return fmt.Errorf("config: unrecognized OBJECT_STORE_BACKEND %q", c.ObjectStoreBackend)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseUintEnv(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %q", key, v)
	}
	return n, nil
}

func parseIntEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %q", key, v)
	}
	return n, nil
}

func parseLogLevel(v string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: invalid LOG_LEVEL: %q", v)
	}
}
