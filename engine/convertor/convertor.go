// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package convertor converts text vertex and edge records into the partitioned files loaded by
// engine.LoadDir.
//
// Each line of the input is one record, with tab separated fields and comma separated array values.
// Vertex records are `vtype, entity, [weight], attrs...` and edge records `etype, entity_1, entity_2, [weight]`,
// following the schema. Vertices are partitioned by their entity, and edges by entity_1, so edges are stored
// with their source vertex.
package convertor

import (
	"bufio"
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/galileo/engine"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DirPermMode is the default directory creation permission.
const DirPermMode = 0755

// maxLoggedInvalid is the number of invalid records logged per input file.
const maxLoggedInvalid = 10

// Converter converts text records into partitioned graph files.
type Converter struct {
	Schema *engine.Schema

	// Slices is the number of partitions.
	Slices int

	// Workers is the maximum number of input files processed in parallel. If <= 0, runtime.NumCPU() is used.
	Workers int

	numVertices, numEdges, numInvalid atomic.Int64
}

// New creates a Converter for the schema with the given number of slices.
func New(schema *engine.Schema, slices int) (*Converter, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if slices <= 0 {
		return nil, errors.Errorf("number of slices must be > 0, got %d", slices)
	}
	return &Converter{Schema: schema, Slices: slices}, nil
}

// sliceWriters holds one gob stream per slice, opened on demand.
type sliceWriters struct {
	dir, kind string
	part      int
	files     map[int]*os.File
	buffers   map[int]*bufio.Writer
	encoders  map[int]*gob.Encoder
}

func newSliceWriters(dir, kind string, part int) *sliceWriters {
	return &sliceWriters{
		dir: dir, kind: kind, part: part,
		files:    make(map[int]*os.File),
		buffers:  make(map[int]*bufio.Writer),
		encoders: make(map[int]*gob.Encoder),
	}
}

func (w *sliceWriters) write(slice int, value any) error {
	enc, found := w.encoders[slice]
	if !found {
		filePath := filepath.Join(w.dir, engine.PartitionFileName(w.kind, slice, w.part))
		f, err := os.Create(filePath)
		if err != nil {
			return errors.Wrapf(err, "creating partition file %q", filePath)
		}
		w.files[slice] = f
		w.buffers[slice] = bufio.NewWriter(f)
		enc = gob.NewEncoder(w.buffers[slice])
		w.encoders[slice] = enc
	}
	if err := enc.Encode(value); err != nil {
		return errors.Wrapf(err, "writing %s record to slice %d", w.kind, slice)
	}
	return nil
}

func (w *sliceWriters) close() error {
	var firstErr error
	for slice, f := range w.files {
		if err := w.buffers[slice].Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "flushing %q", f.Name())
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing %q", f.Name())
		}
	}
	return firstErr
}

// abort closes and removes the files written so far.
func (w *sliceWriters) abort() {
	_ = w.close()
	for _, f := range w.files {
		_ = os.Remove(f.Name())
	}
}

// removePartitions removes the partition files of every part of a failed Run.
func (c *Converter) removePartitions(outDir string, numVertexParts, numEdgeParts int) {
	for kind, numParts := range map[string]int{engine.VertexPartition: numVertexParts, engine.EdgePartition: numEdgeParts} {
		for part := range numParts {
			for slice := range c.Slices {
				err := os.Remove(filepath.Join(outDir, engine.PartitionFileName(kind, slice, part)))
				if err != nil && !os.IsNotExist(err) {
					klog.Warningf("removing partition file: %v", err)
				}
			}
		}
	}
}

// convertFile converts one input file into the partition files of the given part.
func (c *Converter) convertFile(ctx context.Context, kind, inputPath, outDir string, part int) error {
	f, err := os.Open(inputPath)
	if err != nil {
		return errors.Wrapf(err, "opening input %q", inputPath)
	}
	defer func() { _ = f.Close() }()
	writers := newSliceWriters(outDir, kind, part)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<28)
	var lineNum, invalid int
	for scanner.Scan() {
		lineNum++
		if lineNum%4096 == 0 && ctx.Err() != nil {
			writers.abort()
			return ctx.Err()
		}
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		var value any
		var slice int
		if kind == engine.VertexPartition {
			value, slice, err = ParseVertex(c.Schema, line, c.Slices)
		} else {
			value, slice, err = ParseEdge(c.Schema, line, c.Slices)
		}
		if err != nil {
			invalid++
			if invalid <= maxLoggedInvalid {
				klog.Warningf("%s:%d: invalid %s record: %v", inputPath, lineNum, kind, err)
			}
			continue
		}
		if err = writers.write(slice, value); err != nil {
			writers.abort()
			return err
		}
		if kind == engine.VertexPartition {
			c.numVertices.Add(1)
		} else {
			c.numEdges.Add(1)
		}
	}
	c.numInvalid.Add(int64(invalid))
	if err = scanner.Err(); err != nil {
		writers.abort()
		return errors.Wrapf(err, "reading %q", inputPath)
	}
	if invalid > 0 {
		klog.Warningf("%s: %d invalid %s records skipped", inputPath, invalid, kind)
	}
	return writers.close()
}

// Run converts the vertex and edge files into partition files in outDir, and writes the manifest.
// Input files are processed in parallel, each one generating its own part of every slice.
//
// If it fails or ctx is cancelled, the partition files written are removed and no manifest is written.
func (c *Converter) Run(ctx context.Context, vertexFiles, edgeFiles []string, outDir string) (*engine.Manifest, error) {
	if err := os.MkdirAll(outDir, DirPermMode); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %q", outDir)
	}
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	start := time.Now()
	c.numVertices.Store(0)
	c.numEdges.Store(0)
	c.numInvalid.Store(0)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for part, inputPath := range vertexFiles {
		g.Go(func() error { return c.convertFile(gCtx, engine.VertexPartition, inputPath, outDir, part) })
	}
	for part, inputPath := range edgeFiles {
		g.Go(func() error { return c.convertFile(gCtx, engine.EdgePartition, inputPath, outDir, part) })
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.removePartitions(outDir, len(vertexFiles), len(edgeFiles))
		return nil, errors.WithMessagef(err, "converting into %q", outDir)
	}

	m := &engine.Manifest{
		JobID:       uuid.NewString(),
		Created:     time.Now(),
		Slices:      c.Slices,
		Schema:      c.Schema,
		NumVertices: c.numVertices.Load(),
		NumEdges:    c.numEdges.Load(),
		NumInvalid:  c.numInvalid.Load(),
	}
	if err = m.Write(outDir); err != nil {
		return nil, err
	}
	klog.Infof("converted %s vertices and %s edges into %d slices in %s (%s invalid records)",
		humanize.Comma(m.NumVertices), humanize.Comma(m.NumEdges), m.Slices, time.Since(start), humanize.Comma(m.NumInvalid))
	return m, nil
}
