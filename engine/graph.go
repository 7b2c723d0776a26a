// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package engine implements an in-process graph store and the sampling API used by the transforms:
// vertex sampling, weighted neighbor sampling, multi-hop expansion, node2vec random walks, entity
// collection and feature lookup.
//
// Graphs are created with a Builder (or loaded from converter output with LoadDir, or from a file saved
// with Graph.Save) and are read-only afterwards, so all sampling methods are safe for concurrent use.
//
// Vertices are identified by their int64 id. Internally they are indexed by an int32 "vertex index",
// their insertion order.
package engine

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// DenseColumn holds a dense (float32) feature for all vertices: vertex index `i` owns
// `Values[i*Dim:(i+1)*Dim]`. Vertices whose type doesn't have the feature hold zeros.
type DenseColumn struct {
	Dim    int
	Values []float32
}

// SparseColumn holds a sparse (int64) feature for all vertices, laid out like DenseColumn.
type SparseColumn struct {
	Dim    int
	Values []int64
}

// EdgeList stores the edges of one edge type in compressed sparse row format.
//
// The edges of the vertex index `i` are `Targets[Starts[i]:Starts[i+1]]`, sorted by target index,
// with weights `Weights[Starts[i]:Starts[i+1]]`.
type EdgeList struct {
	Starts  []int32
	Targets []int32
	Weights []float32

	// cumWeights is the running sum of Weights within each source's segment.
	cumWeights []float64
}

// NumEdges returns the number of edges.
func (el *EdgeList) NumEdges() int { return len(el.Targets) }

// segment returns the range of edges of the vertex index.
func (el *EdgeList) segment(vIdx int32) (start, end int32) {
	return el.Starts[vIdx], el.Starts[vIdx+1]
}

// hasEdge returns whether there is an edge from src to dst.
func (el *EdgeList) hasEdge(src, dst int32) bool {
	start, end := el.segment(src)
	_, found := slices.BinarySearch(el.Targets[start:end], dst)
	return found
}

func (el *EdgeList) buildCumWeights() {
	el.cumWeights = make([]float64, len(el.Weights))
	numSources := len(el.Starts) - 1
	for vIdx := range numSources {
		var sum float64
		for e := el.Starts[vIdx]; e < el.Starts[vIdx+1]; e++ {
			if w := el.Weights[e]; w > 0 {
				sum += float64(w)
			}
			el.cumWeights[e] = sum
		}
	}
}

// segmentWeight returns the total weight of the edges of the vertex index.
func (el *EdgeList) segmentWeight(vIdx int32) float64 {
	start, end := el.segment(vIdx)
	if start == end {
		return 0
	}
	return el.cumWeights[end-1]
}

// vertexTable indexes the vertices of one type for weighted sampling.
type vertexTable struct {
	indices []int32
	alias   *aliasTable
	total   float64
}

// Graph is a read-only graph with typed vertices and edges. It implements Client.
//
// The exported fields are its serialized state; they should not be changed after the Graph is built.
type Graph struct {
	Schema *Schema

	IDs     []int64
	Types   []uint8
	Weights []float32

	Dense  map[string]*DenseColumn
	Sparse map[string]*SparseColumn
	Edges  map[uint8]*EdgeList

	index  map[int64]int32
	byType map[uint8]*vertexTable
}

// prepare builds the indices not serialized with the graph.
func (g *Graph) prepare() {
	g.index = make(map[int64]int32, len(g.IDs))
	for vIdx, id := range g.IDs {
		g.index[id] = int32(vIdx)
	}
	members := make(map[uint8][]int32)
	for vIdx, vtype := range g.Types {
		members[vtype] = append(members[vtype], int32(vIdx))
	}
	g.byType = make(map[uint8]*vertexTable, len(members))
	for vtype, indices := range members {
		weights := make([]float64, len(indices))
		var total float64
		for ii, vIdx := range indices {
			weights[ii] = max(float64(g.Weights[vIdx]), 0)
			total += weights[ii]
		}
		g.byType[vtype] = &vertexTable{indices: indices, alias: newAliasTable(weights), total: total}
	}
	for _, el := range g.Edges {
		el.buildCumWeights()
	}
}

// NumVertices returns the number of vertices of the given types. If no types are given, it returns
// the total number of vertices.
func (g *Graph) NumVertices(types []uint8) int {
	if len(types) == 0 {
		return len(g.IDs)
	}
	var count int
	for _, vtype := range uniqueTypes(types) {
		if table, found := g.byType[vtype]; found {
			count += len(table.indices)
		}
	}
	return count
}

// NumEdges returns the number of edges of the given types, or of all types if none is given.
func (g *Graph) NumEdges(types []uint8) int {
	if len(types) == 0 {
		types = slices.Collect(maps.Keys(g.Edges))
	}
	var count int
	for _, etype := range uniqueTypes(types) {
		if el, found := g.Edges[etype]; found {
			count += el.NumEdges()
		}
	}
	return count
}

// GraphSchema returns the schema of the graph.
func (g *Graph) GraphSchema() *Schema { return g.Schema }

// vertexIndex returns the internal index of the vertex id.
func (g *Graph) vertexIndex(id int64) (int32, bool) {
	vIdx, found := g.index[id]
	return vIdx, found
}

// String implements fmt.Stringer with a summary of the graph contents.
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Graph: %s vertices, %s edges\n",
		humanize.Comma(int64(len(g.IDs))), humanize.Comma(int64(g.NumEdges(nil))))
	vtypes := slices.Sorted(maps.Keys(g.byType))
	for _, vtype := range vtypes {
		fmt.Fprintf(&sb, "\tvertex type %d: %s\n", vtype, humanize.Comma(int64(len(g.byType[vtype].indices))))
	}
	etypes := slices.Sorted(maps.Keys(g.Edges))
	for _, etype := range etypes {
		fmt.Fprintf(&sb, "\tedge type %d: %s\n", etype, humanize.Comma(int64(g.Edges[etype].NumEdges())))
	}
	for _, name := range slices.Sorted(maps.Keys(g.Dense)) {
		fmt.Fprintf(&sb, "\tdense feature %q: dim=%d\n", name, g.Dense[name].Dim)
	}
	for _, name := range slices.Sorted(maps.Keys(g.Sparse)) {
		fmt.Fprintf(&sb, "\tsparse feature %q: dim=%d\n", name, g.Sparse[name].Dim)
	}
	return sb.String()
}

// uniqueTypes returns the types without repetitions, keeping their order.
func uniqueTypes(types []uint8) []uint8 {
	seen := make(map[uint8]bool, len(types))
	out := make([]uint8, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
