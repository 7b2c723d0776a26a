// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math/rand/v2"
	"sort"

	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// logged logs the error with the name of the operation and returns it.
func logged(op string, err error) error {
	klog.Errorf("%s: %v", op, err)
	return errors.WithMessage(err, op)
}

// SampleVertices implements Client.
func (g *Graph) SampleVertices(types []uint8, count int) ([]int64, error) {
	if len(types) == 0 {
		return nil, logged("SampleVertices", errors.New("no vertex types given"))
	}
	if count <= 0 {
		return nil, logged("SampleVertices", errors.Errorf("count must be > 0, got %d", count))
	}
	tables := make([]*vertexTable, 0, len(types))
	weights := make([]float64, 0, len(types))
	for _, vtype := range uniqueTypes(types) {
		table, found := g.byType[vtype]
		if !found || len(table.indices) == 0 {
			continue
		}
		tables = append(tables, table)
		weights = append(weights, table.total)
	}
	if len(tables) == 0 {
		return nil, logged("SampleVertices", errors.Errorf("no vertices of types %v", types))
	}
	// First choose the type, then the vertex within the type.
	typeChooser := newAliasTable(weights)
	ids := make([]int64, count)
	for ii := range ids {
		table := tables[typeChooser.Draw()]
		ids[ii] = g.IDs[table.indices[table.alias.Draw()]]
	}
	return ids, nil
}

// sampleNeighbor draws one neighbor of vIdx from the union of the edge lists, with probability
// proportional to the edge weights. If all edges have weight 0, it samples uniformly.
// It returns false if the vertex has no edges.
func (g *Graph) sampleNeighbor(vIdx int32, edgeLists []*EdgeList) (dst int32, weight float32, ok bool) {
	var totalWeight float64
	var numEdges int32
	for _, el := range edgeLists {
		totalWeight += el.segmentWeight(vIdx)
		start, end := el.segment(vIdx)
		numEdges += end - start
	}
	if numEdges == 0 {
		return 0, 0, false
	}
	if totalWeight <= 0 {
		pos := rand.Int32N(numEdges)
		for _, el := range edgeLists {
			start, end := el.segment(vIdx)
			if pos < end-start {
				return el.Targets[start+pos], el.Weights[start+pos], true
			}
			pos -= end - start
		}
	}
	r := rand.Float64() * totalWeight
	for _, el := range edgeLists {
		segWeight := el.segmentWeight(vIdx)
		if r >= segWeight {
			r -= segWeight
			continue
		}
		start, end := el.segment(vIdx)
		cum := el.cumWeights[start:end]
		pos := sort.Search(len(cum), func(i int) bool { return cum[i] > r })
		if pos == len(cum) {
			pos = len(cum) - 1
		}
		return el.Targets[start+int32(pos)], el.Weights[start+int32(pos)], true
	}
	// Only reachable through floating point rounding: take the last edge with weight.
	for ii := len(edgeLists) - 1; ii >= 0; ii-- {
		start, end := edgeLists[ii].segment(vIdx)
		if end > start {
			return edgeLists[ii].Targets[end-1], edgeLists[ii].Weights[end-1], true
		}
	}
	return 0, 0, false
}

// edgeListsFor returns the edge lists of the given types, ignoring types without edges.
func (g *Graph) edgeListsFor(edgeTypes []uint8) ([]*EdgeList, error) {
	if len(edgeTypes) == 0 {
		return nil, errors.New("no edge types given")
	}
	lists := make([]*EdgeList, 0, len(edgeTypes))
	for _, etype := range uniqueTypes(edgeTypes) {
		if _, found := g.Schema.Edge(etype); !found {
			return nil, errors.Errorf("unknown edge type %d", etype)
		}
		if el, found := g.Edges[etype]; found && el.NumEdges() > 0 {
			lists = append(lists, el)
		}
	}
	return lists, nil
}

// sampleNeighborsInto fills neighbors (and weights if not nil) with count samples for each id.
func (g *Graph) sampleNeighborsInto(ids []int64, edgeLists []*EdgeList, count int, neighbors []int64, weights []float32) {
	for ii, id := range ids {
		out := neighbors[ii*count : (ii+1)*count]
		var outWeights []float32
		if weights != nil {
			outWeights = weights[ii*count : (ii+1)*count]
		}
		vIdx, found := g.vertexIndex(id)
		for jj := range out {
			var dst int32
			var w float32
			ok := false
			if found {
				dst, w, ok = g.sampleNeighbor(vIdx, edgeLists)
			}
			if ok {
				out[jj] = g.IDs[dst]
			} else {
				out[jj], w = id, 0
			}
			if outWeights != nil {
				outWeights[jj] = w
			}
		}
	}
}

// SampleNeighbors implements Client.
func (g *Graph) SampleNeighbors(ids []int64, edgeTypes []uint8, count int, hasWeight bool) (neighbors []int64, weights []float32, err error) {
	if count <= 0 {
		return nil, nil, logged("SampleNeighbors", errors.Errorf("count must be > 0, got %d", count))
	}
	edgeLists, err := g.edgeListsFor(edgeTypes)
	if err != nil {
		return nil, nil, logged("SampleNeighbors", err)
	}
	neighbors = make([]int64, len(ids)*count)
	if hasWeight {
		weights = make([]float32, len(ids)*count)
	}
	g.sampleNeighborsInto(ids, edgeLists, count, neighbors, weights)
	return neighbors, weights, nil
}

// SampleMultiHop implements Client.
func (g *Graph) SampleMultiHop(ids []int64, metapath [][]uint8, fanouts []int, hasWeight bool) (*tensors.Tensor[int64], *tensors.Tensor[float32], error) {
	if len(metapath) != len(fanouts) {
		return nil, nil, logged("SampleMultiHop", errors.Errorf(
			"metapath has %d hops but fanouts has %d", len(metapath), len(fanouts)))
	}
	hopLists := make([][]*EdgeList, len(metapath))
	width := 1
	hopSize := 1
	for hop, edgeTypes := range metapath {
		if fanouts[hop] <= 0 {
			return nil, nil, logged("SampleMultiHop", errors.Errorf("fanout of hop %d must be > 0, got %d", hop, fanouts[hop]))
		}
		var err error
		hopLists[hop], err = g.edgeListsFor(edgeTypes)
		if err != nil {
			return nil, nil, logged("SampleMultiHop", errors.WithMessagef(err, "hop %d", hop))
		}
		hopSize *= fanouts[hop]
		width += hopSize
	}

	batchSize := len(ids)
	outIDs := tensors.Zeros[int64](batchSize, width)
	outWeights := tensors.Zeros[float32](batchSize, width)
	for row, id := range ids {
		rowIDs := outIDs.Row(row)
		rowWeights := outWeights.Row(row)
		rowIDs[0] = id
		rowWeights[0] = 1
		parentStart, parentEnd := 0, 1
		for hop, fanout := range fanouts {
			parents := rowIDs[parentStart:parentEnd]
			childStart := parentEnd
			childEnd := childStart + len(parents)*fanout
			var weights []float32
			if hasWeight {
				weights = rowWeights[childStart:childEnd]
			}
			g.sampleNeighborsInto(parents, hopLists[hop], fanout, rowIDs[childStart:childEnd], weights)
			parentStart, parentEnd = childStart, childEnd
		}
	}
	if !hasWeight {
		outWeights = nil
	}
	return outIDs, outWeights, nil
}

// CollectEntity implements Client. Vertices are enumerated by type, in the order given, and within a type
// in insertion order. Edges likewise, in source order.
func (g *Graph) CollectEntity(category Category, types []uint8, count int) (*Entities, error) {
	if len(types) == 0 || count <= 0 || (category != VertexCategory && category != EdgeCategory) {
		return nil, logged("CollectEntity", errors.Errorf(
			"invalid parameters: category=%q, types=%v, count=%d", category, types, count))
	}
	entities := &Entities{}
	if category == VertexCategory {
		entities.IDs = make([]int64, 0, min(count, g.NumVertices(types)))
		for _, vtype := range uniqueTypes(types) {
			table, found := g.byType[vtype]
			if !found {
				continue
			}
			for _, vIdx := range table.indices {
				if len(entities.IDs) == count {
					return entities, nil
				}
				entities.IDs = append(entities.IDs, g.IDs[vIdx])
			}
		}
		return entities, nil
	}

	for _, etype := range uniqueTypes(types) {
		el, found := g.Edges[etype]
		if !found {
			continue
		}
		for src := range len(el.Starts) - 1 {
			start, end := el.segment(int32(src))
			for e := start; e < end; e++ {
				if len(entities.Src) == count {
					return entities, nil
				}
				entities.Src = append(entities.Src, g.IDs[src])
				entities.Dst = append(entities.Dst, g.IDs[el.Targets[e]])
				entities.Types = append(entities.Types, etype)
			}
		}
	}
	return entities, nil
}
