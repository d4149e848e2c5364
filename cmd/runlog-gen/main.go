// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// runlog-gen writes synthetic run logs for exercising runlog-tail and
// runlog-export without a real training process. It produces either a
// framed event log (.evlog) of scalar and image summaries, or a
// record batch file (.records) of labelled examples with mask planes.
//
// With --rate, the generator keeps appending after the initial batch,
// which makes it a convenient live source for tailing demos.
package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runlog/lib/blob"
	"github.com/bureau-foundation/runlog/lib/clock"
	"github.com/bureau-foundation/runlog/lib/process"
	"github.com/bureau-foundation/runlog/lib/recordio"
	"github.com/bureau-foundation/runlog/lib/schema/run"
	"github.com/bureau-foundation/runlog/lib/version"
)

func main() {
	if err := genRun(); err != nil {
		process.Fatal(err)
	}
}

func genRun() error {
	var (
		out         string
		count       int
		imageEvery  int
		imageSize   int
		compression string
		rate        time.Duration
		seed        int64
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("runlog-gen", pflag.ContinueOnError)
	flagSet.StringVar(&out, "out", "demo.evlog", "output path; .evlog writes events, .records writes examples")
	flagSet.IntVar(&count, "count", 100, "number of records to write")
	flagSet.IntVar(&imageEvery, "image-every", 10, "attach an image summary every N events (0 disables)")
	flagSet.IntVar(&imageSize, "image-size", 32, "generated image edge length in pixels")
	flagSet.StringVar(&compression, "compression", "zstd", "blob compression: none, lz4, or zstd")
	flagSet.DurationVar(&rate, "rate", 0, "keep appending one record per interval after the initial batch")
	flagSet.Int64Var(&seed, "seed", 1, "random seed")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("runlog-gen")
		return nil
	}

	tag, err := blob.ParseCompressionTag(compression)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := &generator{
		rng:       rand.New(rand.NewSource(seed)),
		imageSize: imageSize,
		tag:       tag,
	}
	gen.imageEvery = imageEvery
	writeRecord := gen.writeEvent
	if strings.Contains(out, ".records") {
		writeRecord = gen.writeExample
	}

	writer, err := recordio.Append(out)
	if err != nil {
		return err
	}
	defer writer.Close()

	for i := 0; i < count; i++ {
		if err := writeRecord(writer, int64(i)); err != nil {
			return err
		}
	}
	if err := writer.Sync(); err != nil {
		return err
	}
	fmt.Printf("wrote %d records to %s\n", count, out)

	if rate <= 0 {
		return nil
	}

	// Live mode: one record per tick until interrupted.
	clk := clock.Real()
	ticker := clk.NewTicker(rate)
	defer ticker.Stop()
	step := int64(count)
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("stopped at step %d\n", step)
			return nil
		case <-ticker.C:
			if err := writeRecord(writer, step); err != nil {
				return err
			}
			if err := writer.Sync(); err != nil {
				return err
			}
			step++
		}
	}
}

type generator struct {
	rng        *rand.Rand
	imageSize  int
	imageEvery int
	tag        blob.CompressionTag
}

// writeEvent appends one event: a pair of decaying scalars, plus an
// image summary every imageEvery steps.
func (g *generator) writeEvent(writer *recordio.Writer, step int64) error {
	loss := math.Exp(-float64(step)/50) + g.rng.Float64()*0.05
	accuracy := 1 - math.Exp(-float64(step)/30) - g.rng.Float64()*0.05

	event := run.Event{
		Step:     step,
		WallTime: time.Now().UnixMilli(),
		Summaries: []run.Summary{
			{Tag: "loss/train", Scalar: &loss},
			{Tag: "accuracy/train", Scalar: &accuracy},
		},
	}
	if g.imageEvery > 0 && step%int64(g.imageEvery) == 0 {
		container, err := g.noiseImage(3)
		if err != nil {
			return err
		}
		event.Summaries = append(event.Summaries,
			run.Summary{Tag: "samples/0/image", Image: &container})
	}
	payload, err := run.EncodeEvent(event)
	if err != nil {
		return err
	}
	return writer.Write(payload)
}

// writeExample appends one labelled example with an image and a
// two-plane mask.
func (g *generator) writeExample(writer *recordio.Writer, step int64) error {
	image, err := g.noiseImage(1)
	if err != nil {
		return err
	}
	mask, err := g.maskPlanes(2)
	if err != nil {
		return err
	}
	label := step % 10
	example := run.Example{
		Identifier: fmt.Sprintf("sample-%06d", step),
		Label:      &label,
		Width:      g.imageSize,
		Height:     g.imageSize,
		Image:      &image,
		Mask:       &mask,
	}
	payload, err := run.EncodeExample(example)
	if err != nil {
		return err
	}
	return writer.Write(payload)
}

func (g *generator) noiseImage(channels int) (blob.Container, error) {
	raw := make([]byte, g.imageSize*g.imageSize*channels)
	g.rng.Read(raw)
	return blob.Pack(raw, g.tag, g.imageSize, g.imageSize)
}

// maskPlanes packs n binary planes back to back; the container's
// height declares the packed extent.
func (g *generator) maskPlanes(n int) (blob.Container, error) {
	plane := g.imageSize * g.imageSize
	raw := make([]byte, plane*n)
	for i := range raw {
		if g.rng.Float64() < 0.2 {
			raw[i] = 1
		}
	}
	return blob.Pack(raw, g.tag, g.imageSize, g.imageSize*n)
}
