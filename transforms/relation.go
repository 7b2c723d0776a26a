// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// RelationGraph is the edge list form of a batch of multi-hop neighborhoods, consumed by the sparse
// SAGE layers.
type RelationGraph struct {
	// Indices [2, E]: row 0 holds the parent of each edge, row 1 the child.
	Indices *tensors.Tensor[int64]

	// Weight [E, 1] holds the edge weights, if available.
	Weight *tensors.Tensor[float32]

	// Targets [B] holds the roots of the neighborhoods.
	Targets *tensors.Tensor[int64]
}

// NumEdges returns E.
func (g *RelationGraph) NumEdges() int { return g.Indices.Dim(1) }

// Parents returns row 0 of Indices.
func (g *RelationGraph) Parents() []int64 { return g.Indices.Row(0) }

// Children returns row 1 of Indices.
func (g *RelationGraph) Children() []int64 { return g.Indices.Row(1) }

// Batch returns the graph as a batch with RelationIndicesKey, RelationWeightKey (if available) and
// TargetIndicesKey.
func (g *RelationGraph) Batch() *tensors.Batch {
	batch := tensors.NewBatch().
		SetInt(RelationIndicesKey, g.Indices).
		SetInt(TargetIndicesKey, g.Targets)
	if g.Weight != nil {
		batch.SetFloat(RelationWeightKey, g.Weight)
	}
	return batch
}

// Relation converts multi-hop neighborhoods into a RelationGraph.
type Relation struct {
	fanouts     []int
	dim         int
	edges       [][2]int
	sortIndices bool
}

// NewRelation creates a Relation for neighborhoods sampled with the given fanouts. If sortIndices is set,
// edges are stably sorted by parent.
func NewRelation(fanouts []int, sortIndices bool) (*Relation, error) {
	if err := validateFanouts(fanouts); err != nil {
		return nil, errors.WithMessage(err, "Relation")
	}
	return &Relation{
		fanouts:     slices.Clone(fanouts),
		dim:         FanoutsDim(fanouts),
		edges:       FanoutsIndices(fanouts),
		sortIndices: sortIndices,
	}, nil
}

// Graph converts indices [B, W] (the vertices, or their indices in a unique vertex table, of each
// neighborhood) and the optional edgeWeight [B, W] into a RelationGraph with E = B*(W-1) edges.
//
// Edges are batch-major: all edges of the first neighborhood come first, then those of the second, and
// so on. Within each neighborhood they are in child position order (see FanoutsIndices), so the edge
// weights are edgeWeight[:, 1:] flattened. Consumers must not assume an edge-major layout, where the same
// edge position of every neighborhood is contiguous. If sortIndices is set, the order is instead by
// (parent, child). Targets is indices[:, 0].
func (r *Relation) Graph(indices *tensors.Tensor[int64], edgeWeight *tensors.Tensor[float32]) (*RelationGraph, error) {
	if indices.Size()%r.dim != 0 {
		return nil, errors.Errorf("Relation: indices shaped %s not compatible with fanouts %v (width %d)",
			indices.ShapeString(), r.fanouts, r.dim)
	}
	batchSize := indices.Size() / r.dim
	if edgeWeight != nil && edgeWeight.Size() != indices.Size() {
		return nil, errors.Errorf("Relation: edge weight shaped %s, but indices shaped %s",
			edgeWeight.ShapeString(), indices.ShapeString())
	}

	numEdges := batchSize * len(r.edges)
	relation := tensors.Zeros[int64](2, numEdges)
	parents, children := relation.Row(0), relation.Row(1)
	targets := make([]int64, batchSize)
	var weights []float32
	if edgeWeight != nil {
		weights = make([]float32, numEdges)
	}
	data := indices.Data()
	for b := range batchSize {
		row := data[b*r.dim : (b+1)*r.dim]
		targets[b] = row[0]
		for ii, edge := range r.edges {
			e := b*len(r.edges) + ii
			parents[e] = row[edge[0]]
			children[e] = row[edge[1]]
			if weights != nil {
				weights[e] = edgeWeight.Data()[b*r.dim+edge[1]]
			}
		}
	}

	if r.sortIndices {
		order := make([]int, numEdges)
		for ii := range order {
			order[ii] = ii
		}
		slices.SortStableFunc(order, func(a, b int) int {
			switch {
			case parents[a] < parents[b]:
				return -1
			case parents[a] > parents[b]:
				return 1
			}
			return 0
		})
		sorted := tensors.Zeros[int64](2, numEdges)
		for ii, e := range order {
			sorted.Row(0)[ii] = parents[e]
			sorted.Row(1)[ii] = children[e]
		}
		relation = sorted
		if weights != nil {
			sortedWeights := make([]float32, numEdges)
			for ii, e := range order {
				sortedWeights[ii] = weights[e]
			}
			weights = sortedWeights
		}
	}

	graph := &RelationGraph{Indices: relation, Targets: tensors.FromFlat(targets)}
	if weights != nil {
		graph.Weight = asColumn(weights)
	}
	return graph, nil
}

// Transform reads IndicesKey and the optional EdgeWeightKey from batch and returns the RelationGraph
// in batch form.
func (r *Relation) Transform(batch *tensors.Batch) (*tensors.Batch, error) {
	indices, err := batch.RequireInt(IndicesKey)
	if err != nil {
		return nil, errors.WithMessage(err, "Relation")
	}
	graph, err := r.Graph(indices, batch.Float(EdgeWeightKey))
	if err != nil {
		return nil, err
	}
	return graph.Batch(), nil
}

// Bipartite splits the features of multi-hop neighborhoods into one block per hop, for the dense
// (bipartite) SAGE layers.
type Bipartite struct {
	fanouts []int
	list    []int
	dim     int
}

// NewBipartite creates a Bipartite for neighborhoods sampled with the given fanouts.
func NewBipartite(fanouts []int) (*Bipartite, error) {
	if err := validateFanouts(fanouts); err != nil {
		return nil, errors.WithMessage(err, "Bipartite")
	}
	return &Bipartite{fanouts: slices.Clone(fanouts), list: FanoutsList(fanouts), dim: FanoutsDim(fanouts)}, nil
}

// Fanouts returns the fanouts of each hop.
func (bp *Bipartite) Fanouts() []int { return slices.Clone(bp.fanouts) }

// Split converts features [B, W, D] into len(Fanouts)+1 blocks, block h shaped [B*FanoutsList[h], D].
// The children of row i of block h are the rows [i*f, (i+1)*f) of block h+1, with f = Fanouts[h].
//
// It panics if features is not shaped [B, W, D].
func (bp *Bipartite) Split(features *tensors.Tensor[float32]) []*tensors.Tensor[float32] {
	if features.Rank() != 3 || features.Dim(1) != bp.dim {
		exceptions.Panicf("Bipartite: features shaped %s, expected [batch, %d, dim]", features.ShapeString(), bp.dim)
	}
	batchSize, featureDim := features.Dim(0), features.Dim(2)
	data := features.Data()
	blocks := make([]*tensors.Tensor[float32], len(bp.list))
	start := 0
	for hop, n := range bp.list {
		block := tensors.Zeros[float32](batchSize*n, featureDim)
		for b := range batchSize {
			src := data[(b*bp.dim+start)*featureDim : (b*bp.dim+start+n)*featureDim]
			copy(block.Data()[b*n*featureDim:(b+1)*n*featureDim], src)
		}
		blocks[hop] = block
		start += n
	}
	return blocks
}

// Merge is the inverse of Split: it joins the per hop blocks back into `[B, W, D]`. It's used to
// back-propagate the gradients of the blocks to the features.
func (bp *Bipartite) Merge(blocks []*tensors.Tensor[float32]) *tensors.Tensor[float32] {
	if len(blocks) != len(bp.list) {
		exceptions.Panicf("Bipartite: %d blocks given, %d expected", len(blocks), len(bp.list))
	}
	featureDim := blocks[0].Dim(-1)
	batchSize := blocks[0].Dim(0)
	features := tensors.Zeros[float32](batchSize, bp.dim, featureDim)
	data := features.Data()
	start := 0
	for hop, n := range bp.list {
		block := blocks[hop]
		if block.Size() != batchSize*n*featureDim {
			exceptions.Panicf("Bipartite: block %d shaped %s, expected [%d, %d]", hop, block.ShapeString(), batchSize*n, featureDim)
		}
		for b := range batchSize {
			copy(data[(b*bp.dim+start)*featureDim:(b*bp.dim+start+n)*featureDim], block.Data()[b*n*featureDim:(b+1)*n*featureDim])
		}
		start += n
	}
	return features
}
