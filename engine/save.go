// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

// Save the graph to filePath, using gob encoding. It can be loaded back with Load.
func (g *Graph) Save(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save Graph", filePath)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err = enc.Encode(g); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "encoding Graph to save to %q", filePath)
	}
	if err = w.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "flushing Graph to %q", filePath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing file %q, where Graph was saved", filePath)
	}
	return nil
}

// Load a graph saved with Graph.Save.
func Load(filePath string) (g *Graph, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load Graph", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	g = &Graph{}
	if err = dec.Decode(g); err != nil {
		return nil, errors.Wrapf(err, "decoding Graph from %q", filePath)
	}
	if g.Schema == nil {
		return nil, errors.Errorf("Graph loaded from %q has no schema", filePath)
	}
	if g.Dense == nil {
		g.Dense = make(map[string]*DenseColumn)
	}
	if g.Sparse == nil {
		g.Sparse = make(map[string]*SparseColumn)
	}
	if g.Edges == nil {
		g.Edges = make(map[uint8]*EdgeList)
	}
	g.prepare()
	return g, nil
}
