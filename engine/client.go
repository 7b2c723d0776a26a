// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/gomlx/galileo/types/tensors"
)

// Client is the graph sampling API the transforms and datasets are built on.
//
// Graph implements it directly, and Instrument wraps any Client with metrics.
type Client interface {
	// GraphSchema returns the schema of the graph served.
	GraphSchema() *Schema

	// NumVertices returns the number of vertices of the given types (all vertices if types is empty).
	NumVertices(types []uint8) int

	// SampleVertices samples count vertices of the given types, with replacement, with probability
	// proportional to the vertex weights.
	SampleVertices(types []uint8, count int) ([]int64, error)

	// SampleNeighbors samples count neighbors of each of the ids, with replacement, with probability
	// proportional to the edge weights, following edges of the given types.
	// It returns `len(ids)*count` neighbors, and if hasWeight is set also their edge weights.
	// Vertices without neighbors are padded with their own id and weight 0.
	SampleNeighbors(ids []int64, edgeTypes []uint8, count int, hasWeight bool) (neighbors []int64, weights []float32, err error)

	// SampleMultiHop expands each id into a multi-hop neighborhood: for hop h it samples fanouts[h]
	// neighbors of each vertex of the previous hop, following the edge types metapath[h].
	// It returns ids and edge weights shaped `[len(ids), 1 + f1 + f1*f2 + ...]`.
	SampleMultiHop(ids []int64, metapath [][]uint8, fanouts []int, hasWeight bool) (*tensors.Tensor[int64], *tensors.Tensor[float32], error)

	// RandomWalk runs one node2vec walk from each id following the metapath, returning `[len(ids), len(metapath)+1]`.
	RandomWalk(ids []int64, metapath [][]uint8, p, q float32) (*tensors.Tensor[int64], error)

	// SamplePairsByRandomWalk runs repetition walks from each id and returns the skip-gram pairs
	// (target, context) within contextSize, shaped `[numPairs, 2]`.
	SamplePairsByRandomWalk(ids []int64, metapath [][]uint8, repetition, contextSize int, p, q float32) (*tensors.Tensor[int64], error)

	// CollectEntity enumerates up to count vertices or edges of the given types.
	CollectEntity(category Category, types []uint8, count int) (*Entities, error)

	// GetDenseFeature returns, for each name, a `[len(ids), dims[i]]` tensor with the feature values.
	GetDenseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[float32], error)

	// GetSparseFeature returns, for each name, a `[len(ids), dims[i]]` tensor with the feature values.
	GetSparseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[int64], error)
}

// Category of entities to collect.
type Category string

const (
	VertexCategory Category = "vertex"
	EdgeCategory   Category = "edge"
)

// Entities returned by Client.CollectEntity: for VertexCategory only IDs is set, for EdgeCategory
// Src, Dst and Types are set.
type Entities struct {
	IDs   []int64
	Src   []int64
	Dst   []int64
	Types []uint8
}

// Len returns the number of entities.
func (e *Entities) Len() int {
	if e.IDs != nil {
		return len(e.IDs)
	}
	return len(e.Src)
}

// Assert Graph implements Client.
var _ Client = (*Graph)(nil)
