// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ManifestFileName is the name of the manifest written in a partitioned graph directory.
const ManifestFileName = "manifest.json"

// Kinds of partition files.
const (
	VertexPartition = "vertex"
	EdgePartition   = "edge"
)

// Manifest describes a directory of partitioned graph files, as written by the convertor.
type Manifest struct {
	JobID       string    `json:"job_id"`
	Created     time.Time `json:"created"`
	Slices      int       `json:"slices"`
	Schema      *Schema   `json:"schema"`
	NumVertices int64     `json:"num_vertices"`
	NumEdges    int64     `json:"num_edges"`
	NumInvalid  int64     `json:"num_invalid"`
}

// PartitionFileName returns the name of the partition file of the given kind, slice and part.
// Each part is written by one converter task, so one slice can have many parts.
func PartitionFileName(kind string, slice, part int) string {
	return fmt.Sprintf("%s_%04d_%04d.dat", kind, slice, part)
}

// ReadManifest reads the manifest of the partitioned graph directory.
func ReadManifest(dir string) (*Manifest, error) {
	filePath := filepath.Join(dir, ManifestFileName)
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest %q", filePath)
	}
	m := &Manifest{}
	if err = json.Unmarshal(contents, m); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %q", filePath)
	}
	if m.Schema == nil || m.Slices <= 0 {
		return nil, errors.Errorf("manifest %q has no schema or invalid number of slices (%d)", filePath, m.Slices)
	}
	return m, nil
}

// Write the manifest into dir.
func (m *Manifest) Write(dir string) error {
	contents, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	filePath := filepath.Join(dir, ManifestFileName)
	if err = os.WriteFile(filePath, contents, 0644); err != nil {
		return errors.Wrapf(err, "writing manifest %q", filePath)
	}
	return nil
}

// partitionFiles lists the files of the given kind for the selected slices.
func partitionFiles(dir, kind string, selected []int) ([]string, error) {
	var files []string
	for _, slice := range selected {
		matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s_%04d_*.dat", kind, slice)))
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s partition files of slice %d", kind, slice)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return files, nil
}

// decodeStream decodes values of type T from a gob stream in filePath, calling fn for each.
func decodeStream[T any](filePath string, fn func(value T) error) error {
	f, err := os.Open(filePath)
	if err != nil {
		return errors.Wrapf(err, "opening partition file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	for {
		var value T
		err = dec.Decode(&value)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "decoding partition file %q", filePath)
		}
		if err = fn(value); err != nil {
			return errors.WithMessagef(err, "in partition file %q", filePath)
		}
	}
}

// LoadDir builds a Graph from the partition files written by the convertor into dir.
// If selected slices are given, only those slices are loaded, and edges leading to vertices in other slices
// are dropped.
func LoadDir(dir string, selected ...int) (*Graph, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		for slice := range m.Slices {
			selected = append(selected, slice)
		}
	}
	for _, slice := range selected {
		if slice < 0 || slice >= m.Slices {
			return nil, errors.Errorf("slice %d out of range, %q has %d slices", slice, dir, m.Slices)
		}
	}
	b, err := NewBuilder(m.Schema)
	if err != nil {
		return nil, err
	}
	vertexFiles, err := partitionFiles(dir, VertexPartition, selected)
	if err != nil {
		return nil, err
	}
	for _, filePath := range vertexFiles {
		if err = decodeStream(filePath, b.AddVertex); err != nil {
			return nil, err
		}
	}
	edgeFiles, err := partitionFiles(dir, EdgePartition, selected)
	if err != nil {
		return nil, err
	}
	for _, filePath := range edgeFiles {
		if err = decodeStream(filePath, b.AddEdge); err != nil {
			return nil, err
		}
	}
	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %s vertices and %s edges from %d slices of %q (job %s)",
		humanize.Comma(int64(g.NumVertices(nil))), humanize.Comma(int64(g.NumEdges(nil))), len(selected), dir, m.JobID)
	return g, nil
}
