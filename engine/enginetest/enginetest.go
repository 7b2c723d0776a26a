// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package enginetest builds small graphs to be used in tests.
package enginetest

import (
	"github.com/gomlx/galileo/engine"
	"github.com/janpfeifer/must"
)

const (
	// FeatureName of the dense feature of Ring vertices: all FeatureDim values are the vertex id.
	FeatureName = "feature"
	// LabelName of the one-hot label of Ring vertices: class is `id % NumClasses`.
	LabelName = "label"
	// CategoryName of the sparse feature of Ring vertices: `id % 3`.
	CategoryName = "category"

	NumClasses = 3
)

// RingSchema returns the schema of the Ring graphs with the given feature dimension.
func RingSchema(featureDim int) *engine.Schema {
	return &engine.Schema{
		Vertices: []engine.VertexSchema{{
			VType:  0,
			Entity: engine.DTInt64,
			Weight: engine.DTFloat,
			Attrs: []engine.Attr{
				{Name: FeatureName, DType: engine.DTArrayFloat, Dim: featureDim},
				{Name: LabelName, DType: engine.DTArrayFloat, Dim: NumClasses},
				{Name: CategoryName, DType: engine.DTInt64},
			},
		}},
		Edges: []engine.EdgeSchema{{EType: 0, Entity1: engine.DTInt64, Entity2: engine.DTInt64, Weight: engine.DTFloat}},
	}
}

// Ring returns a graph with vertices 0...numVertices-1 of type 0, each connected (edge type 0, both
// directions, weight 1) to its previous and next vertex, modulo numVertices.
func Ring(numVertices, featureDim int) *engine.Graph {
	b := must.M1(engine.NewBuilder(RingSchema(featureDim)))
	for id := range int64(numVertices) {
		feature := make([]float32, featureDim)
		for ii := range feature {
			feature[ii] = float32(id)
		}
		label := make([]float32, NumClasses)
		label[id%NumClasses] = 1
		must.M(b.AddVertex(engine.Vertex{
			Type:   0,
			ID:     id,
			Weight: 1,
			Dense:  map[string][]float32{FeatureName: feature, LabelName: label},
			Sparse: map[string][]int64{CategoryName: {id % 3}},
		}))
	}
	for id := range int64(numVertices) {
		next := (id + 1) % int64(numVertices)
		must.M(b.AddEdge(engine.Edge{Type: 0, Src: id, Dst: next, Weight: 1}))
		must.M(b.AddEdge(engine.Edge{Type: 0, Src: next, Dst: id, Weight: 1}))
	}
	return must.M1(b.Build())
}

// IsRingNeighbor returns whether a and b are adjacent in a Ring of numVertices.
func IsRingNeighbor(a, b int64, numVertices int) bool {
	n := int64(numVertices)
	return (a+1)%n == b || (b+1)%n == a
}
