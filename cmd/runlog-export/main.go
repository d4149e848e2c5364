// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-export drains run log sources once and writes their contents
// out as standalone files: every image blob is materialized through
// the decode pool, re-packed with the configured compression, and
// stored under its BLAKE3 content hash; scalar series and the
// blob inventory land in a CBOR manifest next to them.
//
// Content-hash naming makes repeated exports of overlapping sources
// idempotent: unchanged blobs map to the same file name and are
// simply overwritten in place.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/blob"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/codec"
	"github.com/bureau-foundation/runlog/lib/config"
	"github.com/bureau-foundation/runlog/lib/ingest"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/version"
)

// Manifest is the export inventory, one per export run.
type Manifest struct {
	ExportedAt int64            `cbor:"exported_at"`
	Sources    []string         `cbor:"sources"`
	Scalars    []ScalarSeries   `cbor:"scalars,omitempty"`
	Blobs      []BlobRecord     `cbor:"blobs,omitempty"`
	Skipped    []SkippedEntry   `cbor:"skipped,omitempty"`
}

// ScalarSeries is one tag's scalar data for one top-level source.
type ScalarSeries struct {
	Tag    string    `cbor:"tag"`
	Source string    `cbor:"source"`
	Steps  []int64   `cbor:"steps"`
	Values []float64 `cbor:"values"`
}

// BlobRecord locates one exported blob file.
type BlobRecord struct {
	Tag    string `cbor:"tag"`
	Step   int64  `cbor:"step"`
	Hash   string `cbor:"hash"`
	File   string `cbor:"file"`
	Width  int    `cbor:"width,omitempty"`
	Height int    `cbor:"height,omitempty"`
	Color  bool   `cbor:"color,omitempty"`
	// Encoded marks blobs stored as an encoded image format rather
	// than raw pixels.
	Encoded bool `cbor:"encoded,omitempty"`
}

// SkippedEntry records an entry that could not be materialized.
type SkippedEntry struct {
	Tag    string `cbor:"tag"`
	Step   int64  `cbor:"step"`
	Reason string `cbor:"reason"`
}

func main() {
	if err := exportRun(); err != nil {
		process.Fatal(err)
	}
}

func exportRun() error {
	var (
		configPath  string
		outDir      string
		compression string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("runlog-export", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to runlog.yaml (default: RUNLOG_CONFIG or built-in defaults)")
	flagSet.StringVar(&outDir, "out", "", "output directory (overrides export.directory)")
	flagSet.StringVar(&compression, "compression", "", "blob compression: none, lz4, or zstd (overrides export.compression)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("runlog-export")
		return nil
	}
	sources := flagSet.Args()
	if len(sources) == 0 {
		return fmt.Errorf("usage: runlog-export [flags] <source>...")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if outDir != "" {
		cfg.Export.Directory = outDir
	}
	if compression != "" {
		cfg.Export.Compression = compression
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tag, err := blob.ParseCompressionTag(cfg.Export.Compression)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger(os.Stderr)
	if err := os.MkdirAll(cfg.Export.Directory, 0o755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	// A short poll interval: the engine only needs one full pass.
	engine := ingest.NewEngine(ingest.DefaultRegistry(), clock.Real(), logger, ingest.Config{
		PollInterval: 100 * time.Millisecond,
		Workers:      cfg.Ingest.Workers,
	})
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(sources...); err != nil {
		return err
	}
	defer engine.Stop()

	for note := range sub.C() {
		if note.Kind == ingest.NoteInitialLoadDone {
			break
		}
		if note.Kind == ingest.NoteStopped {
			return fmt.Errorf("engine stopped before completing the initial load")
		}
	}

	manifest := Manifest{
		ExportedAt: time.Now().UnixMilli(),
		Sources:    sources,
	}
	exporter := &exporter{
		engine:   engine,
		dir:      cfg.Export.Directory,
		tag:      tag,
		manifest: &manifest,
	}
	if err := exporter.export(); err != nil {
		return err
	}

	manifestBytes, err := codec.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	manifestPath := filepath.Join(cfg.Export.Directory, "manifest.cbor")
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	logger.Info("export complete",
		"directory", cfg.Export.Directory,
		"scalars", len(manifest.Scalars),
		"blobs", len(manifest.Blobs),
		"skipped", len(manifest.Skipped),
	)
	return nil
}

type exporter struct {
	engine   *ingest.Engine
	dir      string
	tag      blob.CompressionTag
	manifest *Manifest
}

func (e *exporter) export() error {
	for _, info := range e.engine.Tags() {
		switch info.Kind {
		case ingest.KindScalar:
			e.exportSeries(info.Tag)
		case ingest.KindImage:
			if err := e.exportEntries(info.Tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *exporter) exportSeries(tag ingest.Tag) {
	series, ok := e.engine.Series(tag)
	if !ok {
		return
	}
	for _, source := range series.Sources() {
		steps, values, ok := series.Track(source)
		if !ok {
			continue
		}
		e.manifest.Scalars = append(e.manifest.Scalars, ScalarSeries{
			Tag:    tag.String(),
			Source: source.String(),
			Steps:  steps,
			Values: values,
		})
	}
}

// exportEntries materializes every entry under tag. All futures are
// started up front so the pool works them concurrently, then results
// are collected in step order.
func (e *exporter) exportEntries(tag ingest.Tag) error {
	entries := e.engine.Entries(tag)
	futures := make([]*ingest.Future, len(entries))
	for i, entry := range entries {
		futures[i] = entry.Data()
	}
	for i, entry := range entries {
		<-futures[i].Done()
		result, err, ok := futures[i].Result()
		if !ok {
			e.skip(entry, "cancelled")
			continue
		}
		if err != nil {
			e.skip(entry, err.Error())
			continue
		}
		if result.Kind == ingest.BlobUnavailable {
			e.skip(entry, result.Info)
			continue
		}
		if err := e.writeBlob(entry, result); err != nil {
			return err
		}
	}
	return nil
}

func (e *exporter) skip(entry *ingest.StepEntry, reason string) {
	e.manifest.Skipped = append(e.manifest.Skipped, SkippedEntry{
		Tag:    entry.Tag().String(),
		Step:   entry.Step(),
		Reason: reason,
	})
}

// writeBlob stores one materialized blob under its content hash. Raw
// pixels are re-packed into a compressed container; already-encoded
// images are stored as-is.
func (e *exporter) writeBlob(entry *ingest.StepEntry, result ingest.BlobResult) error {
	hash := blob.Sum(result.Data)
	record := BlobRecord{
		Tag:  entry.Tag().String(),
		Step: entry.Step(),
		Hash: hash.String(),
	}

	var fileData []byte
	if result.Kind == ingest.BlobCompressed {
		record.Encoded = true
		record.File = hash.String() + ".img"
		fileData = result.Data
	} else {
		record.Width = result.Width
		record.Height = result.Height
		record.Color = result.Color
		record.File = hash.String() + ".blob"
		container, err := blob.Pack(result.Data, e.tag, result.Width, result.Height)
		if err != nil {
			return fmt.Errorf("packing blob for %s step %d: %w", entry.Tag(), entry.Step(), err)
		}
		fileData, err = codec.Marshal(container)
		if err != nil {
			return fmt.Errorf("encoding blob container: %w", err)
		}
	}

	path := filepath.Join(e.dir, record.File)
	if err := os.WriteFile(path, fileData, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	e.manifest.Blobs = append(e.manifest.Blobs, record)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
