// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/transforms"
	"github.com/gomlx/galileo/types/tensors"
)

// Aggregators of neighbor features supported by the SAGE layers.
const (
	// AggregatorMean concatenates the vertex features with the mean of its neighbors' features.
	AggregatorMean = "mean"

	// AggregatorSum concatenates the vertex features with the sum of its neighbors' features.
	AggregatorSum = "sum"

	// AggregatorGCN averages the vertex features with its neighbors' features.
	AggregatorGCN = "gcn"
)

// SAGEConfig configures SAGELayer and SAGESparseLayer.
type SAGEConfig struct {
	// OutputDim of the vertex representations.
	OutputDim int

	// Aggregator is one of AggregatorMean (the default), AggregatorSum and AggregatorGCN.
	Aggregator string

	// Activation applied to the output, see Activation. Empty means none.
	Activation string

	// UseBias adds a bias term to the linear transformation.
	UseBias bool
}

func (c SAGEConfig) aggregator() string {
	switch c.Aggregator {
	case "":
		return AggregatorMean
	case AggregatorMean, AggregatorSum, AggregatorGCN:
		return c.Aggregator
	}
	exceptions.Panicf("invalid SAGE aggregator %q, valid values are %q, %q and %q",
		c.Aggregator, AggregatorMean, AggregatorSum, AggregatorGCN)
	return ""
}

// BlocksBackward is the Backward of layers operating on per hop blocks: it receives the gradients of
// the output blocks and returns the gradients of the input blocks.
type BlocksBackward func(gradOutputs []*tensors.Tensor[float32]) []*tensors.Tensor[float32]

// SAGELayer is one GraphSAGE layer over multi-hop neighborhoods split in per hop blocks (see
// transforms.Bipartite): block h `[n_h, D]` is aggregated with its children in block h+1
// `[n_h*fanouts[h], D]`, producing one output block `[n_h, OutputDim]` for each input block but the last.
//
// All hops share the same weights, in scope "sage".
func SAGELayer(ctx *context.Context, blocks []*tensors.Tensor[float32], fanouts []int, config SAGEConfig) ([]*tensors.Tensor[float32], BlocksBackward) {
	ctx = ctx.In("sage")
	aggregator := config.aggregator()
	numHops := len(blocks) - 1
	if numHops < 1 || numHops > len(fanouts) {
		exceptions.Panicf("SAGELayer: got %d blocks for fanouts %v", len(blocks), fanouts)
	}
	featureDim := blocks[0].Dim(1)

	// Combine each block with the aggregation of its children, and stack all hops.
	combined := make([]*tensors.Tensor[float32], numHops)
	for hop := range numHops {
		self, children, fanout := blocks[hop], blocks[hop+1], fanouts[hop]
		if children.Dim(0) != self.Dim(0)*fanout {
			exceptions.Panicf("SAGELayer: hop %d has %d vertices, %d children expected with fanout %d, got %d",
				hop, self.Dim(0), self.Dim(0)*fanout, fanout, children.Dim(0))
		}
		agg := tensors.Zeros[float32](self.Dim(0), featureDim)
		for row := range self.Dim(0) {
			out := agg.Row(row)
			for jj := range fanout {
				for ii, v := range children.Row(row*fanout + jj) {
					out[ii] += v
				}
			}
		}
		combined[hop] = combine(aggregator, self, agg, fanout)
	}
	rows := make([]int, numHops)
	for hop, c := range combined {
		rows[hop] = c.Dim(0)
	}
	x := concatRows(combined...)
	output, denseBackward := Dense(ctx, x, config.UseBias, config.OutputDim)
	output, activationBackward := Activation(config.Activation, output)
	outputs := splitRows(output, rows...)

	backward := func(gradOutputs []*tensors.Tensor[float32]) []*tensors.Tensor[float32] {
		gradX := denseBackward(activationBackward(concatRows(gradOutputs...)))
		gradCombined := splitRows(gradX, rows...)
		grads := make([]*tensors.Tensor[float32], len(blocks))
		for hop, b := range blocks {
			grads[hop] = tensors.Zeros[float32](b.Dims()...)
		}
		for hop := range numHops {
			fanout := fanouts[hop]
			gradSelf, gradAgg := uncombine(aggregator, gradCombined[hop], featureDim, fanout)
			addInto(grads[hop], gradSelf)
			gradChildren := grads[hop+1]
			for row := range gradAgg.Dim(0) {
				g := gradAgg.Row(row)
				for jj := range fanout {
					out := gradChildren.Row(row*fanout + jj)
					for ii, v := range g {
						out[ii] += v
					}
				}
			}
		}
		return grads
	}
	return outputs, backward
}

// SAGESparseLayer is one GraphSAGE layer over a relation graph: each vertex of features `[U, D]` is
// aggregated with its children in the graph, producing `[U, OutputDim]`.
//
// If the graph has edge weights, neighbors are weighted by them: vertices whose edges all have weight 0
// (e.g. padded neighbors) are aggregated with nothing.
func SAGESparseLayer(ctx *context.Context, features *tensors.Tensor[float32], graph *transforms.RelationGraph, config SAGEConfig) (*tensors.Tensor[float32], Backward) {
	ctx = ctx.In("sage_sparse")
	aggregator := config.aggregator()
	numVertices, featureDim := features.Dim(0), features.Dim(1)
	parents, children := graph.Parents(), graph.Children()
	weights := make([]float32, len(parents))
	for e := range weights {
		weights[e] = 1
		if graph.Weight != nil {
			weights[e] = graph.Weight.Data()[e]
		}
		if parents[e] < 0 || parents[e] >= int64(numVertices) || children[e] < 0 || children[e] >= int64(numVertices) {
			exceptions.Panicf("SAGESparseLayer: edge (%d, %d) out of range for %d vertices", parents[e], children[e], numVertices)
		}
	}

	// Weighted sum of the children and total weight per parent.
	agg := tensors.Zeros[float32](numVertices, featureDim)
	totals := make([]float32, numVertices)
	for e, p := range parents {
		totals[p] += weights[e]
		out := agg.Row(int(p))
		for ii, v := range features.Row(int(children[e])) {
			out[ii] += weights[e] * v
		}
	}
	// Per vertex normalization.
	norms := make([]float32, numVertices)
	for u, total := range totals {
		switch aggregator {
		case AggregatorMean:
			if total > 0 {
				norms[u] = 1 / total
			}
		case AggregatorSum:
			norms[u] = 1
		case AggregatorGCN:
			norms[u] = 1 / (1 + total)
		}
	}
	scaleRows(agg, norms)
	var x *tensors.Tensor[float32]
	if aggregator == AggregatorGCN {
		x = features.Clone()
		scaleRows(x, norms)
		addInto(x, agg)
	} else {
		x = tensors.ConcatLast(features, agg)
	}
	output, denseBackward := Dense(ctx, x, config.UseBias, config.OutputDim)
	output, activationBackward := Activation(config.Activation, output)

	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		gradX := denseBackward(activationBackward(gradOutput))
		var gradSelf, gradAgg *tensors.Tensor[float32]
		if aggregator == AggregatorGCN {
			gradSelf = gradX.Clone()
			scaleRows(gradSelf, norms)
			gradAgg = gradSelf
		} else {
			parts := tensors.SplitLast(gradX, featureDim, featureDim)
			gradSelf = parts[0]
			gradAgg = parts[1]
			scaleRows(gradAgg, norms)
		}
		grad := gradSelf.Clone()
		for e, p := range parents {
			out := grad.Row(int(children[e]))
			for ii, v := range gradAgg.Row(int(p)) {
				out[ii] += weights[e] * v
			}
		}
		return grad
	}
	return output, backward
}

// combine the vertex features with the sum of its fanout children's features agg, according to the aggregator.
func combine(aggregator string, self, agg *tensors.Tensor[float32], fanout int) *tensors.Tensor[float32] {
	total := float32(fanout)
	switch aggregator {
	case AggregatorGCN:
		out := self.Clone()
		addInto(out, agg)
		scaleAll(out, 1/(1+total))
		return out
	case AggregatorMean:
		agg = agg.Clone()
		scaleAll(agg, 1/total)
	}
	return tensors.ConcatLast(self, agg)
}

// uncombine is the backward of combine: it returns the gradients with respect to self and agg.
func uncombine(aggregator string, grad *tensors.Tensor[float32], featureDim, fanout int) (gradSelf, gradAgg *tensors.Tensor[float32]) {
	total := float32(fanout)
	if aggregator == AggregatorGCN {
		gradSelf = grad.Clone()
		scaleAll(gradSelf, 1/(1+total))
		return gradSelf, gradSelf
	}
	parts := tensors.SplitLast(grad, featureDim, featureDim)
	if aggregator == AggregatorMean {
		scaleAll(parts[1], 1/total)
	}
	return parts[0], parts[1]
}

func scaleAll(t *tensors.Tensor[float32], scale float32) {
	for ii := range t.Data() {
		t.Data()[ii] *= scale
	}
}

func scaleRows(t *tensors.Tensor[float32], scales []float32) {
	for row, scale := range scales {
		values := t.Row(row)
		for ii := range values {
			values[ii] *= scale
		}
	}
}

// addInto adds src to dst, element-wise.
func addInto(dst, src *tensors.Tensor[float32]) {
	if dst.Size() != src.Size() {
		exceptions.Panicf("addInto: shapes %s and %s differ", dst.ShapeString(), src.ShapeString())
	}
	for ii, v := range src.Data() {
		dst.Data()[ii] += v
	}
}

// concatRows concatenates rank-2 tensors along the first axis.
func concatRows(parts ...*tensors.Tensor[float32]) *tensors.Tensor[float32] {
	cols := parts[0].Dim(1)
	var data []float32
	for _, p := range parts {
		if p.Dim(1) != cols {
			exceptions.Panicf("concatRows: shapes %s and %s are incompatible", parts[0].ShapeString(), p.ShapeString())
		}
		data = append(data, p.Data()...)
	}
	return tensors.FromFlat(data, len(data)/cols, cols)
}

// splitRows splits a rank-2 tensor along the first axis, in parts of the given number of rows.
func splitRows(t *tensors.Tensor[float32], rows ...int) []*tensors.Tensor[float32] {
	cols := t.Dim(1)
	parts := make([]*tensors.Tensor[float32], len(rows))
	start := 0
	for ii, n := range rows {
		parts[ii] = tensors.FromFlat(t.Data()[start*cols:(start+n)*cols], n, cols)
		start += n
	}
	if start != t.Dim(0) {
		exceptions.Panicf("splitRows(%v) of tensor shaped %s", rows, t.ShapeString())
	}
	return parts
}
