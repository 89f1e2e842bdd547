// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command coldvault is the CLI surface for the deduplicating,
// snapshot-based backup engine: create-cpio, unpack-cpio, list-cpio,
// create-snapshot, diff-snapshot, preview-packs, pack-upload, and
// restore.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/coldvault/coldvault/internal/config"
	"github.com/coldvault/coldvault/internal/logging"
	"github.com/coldvault/coldvault/pkg/archivestate"
	"github.com/coldvault/coldvault/pkg/cpio"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/orchestrator"
	"github.com/coldvault/coldvault/pkg/packer"
	"github.com/coldvault/coldvault/pkg/remote"
	"github.com/coldvault/coldvault/pkg/snapstore"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create-cpio":
		err = runCreateCpio(os.Args[2:])
	case "unpack-cpio":
		err = runUnpackCpio(os.Args[2:])
	case "list-cpio":
		err = runListCpio(os.Args[2:])
	case "create-snapshot":
		err = runCreateSnapshot(os.Args[2:])
	case "diff-snapshot":
		err = runDiffSnapshot(os.Args[2:])
	case "preview-packs":
		err = runPreviewPacks(os.Args[2:])
	case "pack-upload":
		err = runPackUpload(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "coldvault: %+v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: coldvault <command> [args]

commands:
  create-cpio <root>                     stream paths read from stdin as a cpio archive to stdout
  unpack-cpio <dir>                      extract a cpio archive read from stdin into <dir>
  list-cpio                              list a cpio archive read from stdin
  create-snapshot <db> <root> [name]     walk <root>, write a snapshot into <db>
  diff-snapshot <db> <before> <after>    print the diff between two snapshots
  preview-packs <db> <dir> <min_size>    snapshot <dir>, print the packer's grouping
  pack-upload <db> <root> <before> <after> <min_size>   pack+upload the diff between two snapshots
  restore <key> <dir>                    download an uploaded archive by key and unpack it into <dir>`)
}

func buildTransport(ctx context.Context, cfg config.Config) (objectstore.Transport, error) {
	switch cfg.ObjectStoreBackend {
	case config.BackendLocal:
		return objectstore.NewLocalFs(cfg.LocalObjectStoreRoot)
	case config.BackendS3:
		return objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket: cfg.S3Bucket,
			Region: cfg.S3Region,
			Prefix: cfg.S3Prefix,
		})
	case config.BackendAzure:
		return objectstore.NewAzure(objectstore.AzureConfig{
			ServiceURL:  cfg.AzureServiceURL,
			Container:   cfg.AzureContainer,
			AccountName: cfg.AzureAccountName,
			AccountKey:  cfg.AzureAccountKey,
		})
	case config.BackendRemote:
		return remote.Dial(cfg.RemoteAddr, remote.WithToken(cfg.RemoteToken))
	default:
		return nil, fmt.Errorf("unrecognized object store backend %q", cfg.ObjectStoreBackend)
	}
}

func runCreateCpio(args []string) error {
	fs := flag.NewFlagSet("create-cpio", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("create-cpio: usage: create-cpio <root>")
	}
	root := fs.Arg(0)

	var paths []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		paths = append(paths, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("create-cpio: reading stdin: %w", err)
	}

	archive, err := orchestrator.BuildArchive(root, paths)
	if err != nil {
		return fmt.Errorf("create-cpio: %w", err)
	}

	w := cpio.NewWriter(archive)
	defer w.Close()
	out := bufio.NewWriter(os.Stdout)
	if _, err := out.ReadFrom(w); err != nil {
		return fmt.Errorf("create-cpio: streaming archive: %w", err)
	}
	return out.Flush()
}

func runUnpackCpio(args []string) error {
	fs := flag.NewFlagSet("unpack-cpio", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("unpack-cpio: usage: unpack-cpio <dir>")
	}
	destDir := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("unpack-cpio: loading config: %w", err)
	}
	log := logging.New(cfg)
	o := &orchestrator.Orchestrator{Log: log}
	stats, err := o.Extract(bufio.NewReader(os.Stdin), destDir)
	if err != nil {
		return fmt.Errorf("unpack-cpio: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d files, %d dirs, %d bytes; %d mismatches\n",
		stats.FilesWritten, stats.DirsCreated, stats.BytesWritten, len(stats.Mismatches))
	return nil
}

func runListCpio(args []string) error {
	fs := flag.NewFlagSet("list-cpio", flag.ExitOnError)
	fs.Parse(args)
	return orchestrator.ListArchive(bufio.NewReader(os.Stdin), os.Stdout)
}

func runCreateSnapshot(args []string) error {
	fs := flag.NewFlagSet("create-snapshot", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("create-snapshot: usage: create-snapshot <db> <root> [name]")
	}
	dbDir, root := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("create-snapshot: loading config: %w", err)
	}

	store, err := snapstore.Open(ctx, dbDir)
	if err != nil {
		return fmt.Errorf("create-snapshot: opening %q: %w", dbDir, err)
	}
	defer store.Close()

	name := orchestrator.NewSnapshotName()
	if fs.NArg() >= 3 {
		name, err = snapstore.NewSqlName(fs.Arg(2))
		if err != nil {
			return fmt.Errorf("create-snapshot: %w", err)
		}
	}

	log := logging.ForSnapshot(logging.New(cfg), name.String())
	o := orchestrator.New(store, nil, nil, log)
	stats, err := o.Snapshot(ctx, root, name)
	if err != nil {
		return fmt.Errorf("create-snapshot: %w", err)
	}
	fmt.Printf("%s: %d files, %d dirs, %d bytes\n", name, stats.FilesWalked, stats.DirsWalked, stats.BytesWalked)
	return nil
}

func runDiffSnapshot(args []string) error {
	fs := flag.NewFlagSet("diff-snapshot", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 3 {
		return fmt.Errorf("diff-snapshot: usage: diff-snapshot <db> <before> <after>")
	}
	dbDir := fs.Arg(0)

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("diff-snapshot: loading config: %w", err)
	}

	store, err := snapstore.Open(ctx, dbDir)
	if err != nil {
		return fmt.Errorf("diff-snapshot: opening %q: %w", dbDir, err)
	}
	defer store.Close()

	before, err := snapstore.NewSqlName(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("diff-snapshot: %w", err)
	}
	after, err := snapstore.NewSqlName(fs.Arg(2))
	if err != nil {
		return fmt.Errorf("diff-snapshot: %w", err)
	}

	log := logging.ForSnapshot(logging.New(cfg), after.String()).With("before", before.String())
	o := orchestrator.New(store, nil, nil, log)
	diff, err := o.Diff(ctx, before, after)
	if err != nil {
		return fmt.Errorf("diff-snapshot: %w", err)
	}
	defer diff.Close(ctx)

	return orchestrator.PrintDiff(ctx, os.Stdout, diff)
}

func runPreviewPacks(args []string) error {
	fs := flag.NewFlagSet("preview-packs", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 3 {
		return fmt.Errorf("preview-packs: usage: preview-packs <db> <dir> <min_size>")
	}
	dbDir, dir := fs.Arg(0), fs.Arg(1)
	minSize, err := parseSize(fs.Arg(2))
	if err != nil {
		return fmt.Errorf("preview-packs: %w", err)
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("preview-packs: loading config: %w", err)
	}

	store, err := snapstore.Open(ctx, dbDir)
	if err != nil {
		return fmt.Errorf("preview-packs: opening %q: %w", dbDir, err)
	}
	defer store.Close()

	name := orchestrator.NewSnapshotName()
	log := logging.ForSnapshot(logging.New(cfg), name.String())
	o := orchestrator.New(store, nil, nil, log)

	if _, err := o.Snapshot(ctx, dir, name); err != nil {
		return fmt.Errorf("preview-packs: %w", err)
	}

	empty, err := store.EmptySnapshot(ctx)
	if err != nil {
		return fmt.Errorf("preview-packs: %w", err)
	}
	defer empty.Close(ctx)

	diff, err := o.Diff(ctx, empty.Name(), name)
	if err != nil {
		return fmt.Errorf("preview-packs: %w", err)
	}
	defer diff.Close(ctx)

	previews, err := o.PreviewPacks(ctx, diff, minSize)
	if err != nil {
		return fmt.Errorf("preview-packs: %w", err)
	}

	for _, p := range previews {
		fmt.Printf("pack %d: %d files, %d bytes\n", p.Index, len(p.Files), p.TotalSize)
		for _, f := range p.Files {
			fmt.Printf("  %10d %s\n", f.Size, f.Path)
		}
	}
	return nil
}

func runPackUpload(args []string) error {
	fs := flag.NewFlagSet("pack-upload", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 5 {
		return fmt.Errorf("pack-upload: usage: pack-upload <db> <root> <before> <after> <min_size>")
	}
	dbDir, root := fs.Arg(0), fs.Arg(1)
	minSize, err := parseSize(fs.Arg(4))
	if err != nil {
		return fmt.Errorf("pack-upload: %w", err)
	}

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("pack-upload: loading config: %w", err)
	}
	store, err := snapstore.Open(ctx, dbDir)
	if err != nil {
		return fmt.Errorf("pack-upload: opening %q: %w", dbDir, err)
	}
	defer store.Close()

	archives, err := archivestate.Open(ctx, cfg.ArchiveStatePath)
	if err != nil {
		return fmt.Errorf("pack-upload: opening archive state: %w", err)
	}
	defer archives.Close()

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pack-upload: building transport: %w", err)
	}

	before, err := snapstore.NewSqlName(fs.Arg(2))
	if err != nil {
		return fmt.Errorf("pack-upload: %w", err)
	}
	after, err := snapstore.NewSqlName(fs.Arg(3))
	if err != nil {
		return fmt.Errorf("pack-upload: %w", err)
	}

	log := logging.ForSnapshot(logging.New(cfg), after.String()).With("before", before.String())
	o := orchestrator.New(store, transport, archives, log)
	o.PackOptions = packer.Options{ForwardDepth: cfg.PackForwardDepth, BackDepth: cfg.PackBackDepth}
	o.Parallelism = cfg.Parallelism

	diff, err := o.Diff(ctx, before, after)
	if err != nil {
		return fmt.Errorf("pack-upload: %w", err)
	}
	defer diff.Close(ctx)

	stats, err := o.PackUpload(ctx, diff, root, minSize)
	if err != nil {
		return fmt.Errorf("pack-upload: %w", err)
	}
	fmt.Printf("uploaded %d packs, %d files, %d bytes\n", stats.PacksUploaded, stats.FilesPacked, stats.BytesUploaded)
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("restore: usage: restore <key> <dir>")
	}
	key, destDir := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("restore: loading config: %w", err)
	}
	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("restore: building transport: %w", err)
	}

	log := logging.ForArchive(logging.New(cfg), key)
	o := &orchestrator.Orchestrator{Transport: transport, Log: log}
	stats, err := o.Restore(ctx, archivestate.Key(key), destDir)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d files, %d dirs, %d bytes; %d mismatches\n",
		stats.FilesWritten, stats.DirsCreated, stats.BytesWritten, len(stats.Mismatches))
	return nil
}

func parseSize(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}
