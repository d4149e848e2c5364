// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-tail follows one or more run log sources and prints the
// merged index activity as it happens: tag discoveries, step inserts,
// scalar values, and ingest progress. Sources may be single event
// logs (.evlog), directories of event logs, or record batch files
// (.records).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/config"
	"github.com/bureau-foundation/runlog/lib/ingest"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath   string
		pollInterval time.Duration
		interactive  bool
		showVersion  bool
		showScalars  bool
	)
	flagSet := pflag.NewFlagSet("runlog-tail", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to runlog.yaml (default: RUNLOG_CONFIG or built-in defaults)")
	flagSet.DurationVar(&pollInterval, "poll-interval", 0, "override the configured poll interval")
	flagSet.BoolVar(&interactive, "interactive", false, "announce steps during the initial backlog load")
	flagSet.BoolVar(&showScalars, "scalars", false, "print each scalar series value as it arrives")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("runlog-tail")
		return nil
	}
	paths := flagSet.Args()
	if len(paths) == 0 {
		return fmt.Errorf("usage: runlog-tail [flags] <source>...")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if pollInterval > 0 {
		cfg.Ingest.PollInterval = config.Duration(pollInterval)
	}
	if interactive {
		cfg.Ingest.InteractivePreload = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := ingest.NewEngine(ingest.DefaultRegistry(), clock.Real(), logger, ingest.Config{
		PollInterval:       cfg.Ingest.PollInterval.Std(),
		Workers:            cfg.Ingest.Workers,
		SubscriberBuffer:   cfg.Ingest.SubscriberBuffer,
		InteractivePreload: cfg.Ingest.InteractivePreload,
	})
	sub := engine.Subscribe()
	defer sub.Close()
	if err := engine.Start(paths...); err != nil {
		return err
	}
	defer engine.Stop()

	logger.Info("tailing sources", "paths", paths,
		"interval", cfg.Ingest.PollInterval.Std())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case note := <-sub.C():
			if done := printNote(engine, note, showScalars); done {
				return nil
			}
		}
	}
}

// printNote renders one notification to stdout and reports whether
// the engine has stopped.
func printNote(engine *ingest.Engine, note ingest.Notification, showScalars bool) bool {
	switch note.Kind {
	case ingest.NoteTagAdded:
		fmt.Printf("tag\t%s\t%s\n", note.Tag, note.EntryKind)
	case ingest.NoteSeriesAdded:
		fmt.Printf("series\t%s\n", note.Tag)
	case ingest.NoteStepInserted:
		steps := engine.Steps()
		if note.StepPosition < len(steps) {
			fmt.Printf("step\t%d\t(position %d of %d)\n",
				steps[note.StepPosition], note.StepPosition, len(steps))
		}
	case ingest.NoteProgress:
		if showScalars {
			printScalars(engine)
		}
		fmt.Printf("progress\t%.1f%%\t%d records\n", note.Ratio*100, note.Records)
	case ingest.NoteInitialLoadDone:
		loaded, _ := engine.Progress()
		fmt.Printf("initial load done\t%d bytes\n", loaded)
	case ingest.NoteSourceRemoved:
		fmt.Printf("source removed\t%s\n", note.Loader)
	case ingest.NoteCleared:
		fmt.Println("index cleared")
	case ingest.NoteStopped:
		fmt.Println("stopped")
		return true
	}
	return false
}

func printScalars(engine *ingest.Engine) {
	for _, info := range engine.Tags() {
		if info.Kind != ingest.KindScalar {
			continue
		}
		series, ok := engine.Series(info.Tag)
		if !ok {
			continue
		}
		for _, source := range series.Sources() {
			steps, values, ok := series.Track(source)
			if !ok || len(steps) == 0 {
				continue
			}
			last := len(steps) - 1
			fmt.Printf("scalar\t%s\t[%s]\tstep %d\t%g\n",
				info.Tag, source, steps[last], values[last])
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
