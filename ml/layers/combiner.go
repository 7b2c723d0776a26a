// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/types/tensors"
)

// FeatureCombiner builds the input representation of vertices from their features: the dense features
// followed by the embeddings of each of the sparse features.
//
//   - dense `[..., D]`: dense features, or nil.
//   - sparse `[..., S]`: ids of S sparse features, or nil. Feature s is embedded in a table of
//     sparseVocabSizes[s] rows of dimension embeddingDim, in scope "sparse_<s>".
//
// The output is `[..., D + S*embeddingDim]`. Backward returns the gradient with respect to the dense
// features, or nil if there are none.
func FeatureCombiner(ctx *context.Context, dense *tensors.Tensor[float32], sparse *tensors.Tensor[int64],
	sparseVocabSizes []int, embeddingDim int) (*tensors.Tensor[float32], Backward) {
	ctx = ctx.In("feature_combiner")
	if dense == nil && sparse == nil {
		exceptions.Panicf("FeatureCombiner requires dense or sparse features")
	}
	var parts []*tensors.Tensor[float32]
	var sizes []int
	var prefixDims []int
	if dense != nil {
		prefixDims = dense.Dims()[:dense.Rank()-1]
		parts = append(parts, flatten2D(dense))
		sizes = append(sizes, dense.Dim(-1))
	}
	var embeddingBackwards []Backward
	if sparse != nil {
		numSparse := sparse.Dim(-1)
		if len(sparseVocabSizes) != numSparse {
			exceptions.Panicf("FeatureCombiner: %d sparse features, but %d vocabulary sizes given", numSparse, len(sparseVocabSizes))
		}
		if prefixDims == nil {
			prefixDims = sparse.Dims()[:sparse.Rank()-1]
		}
		flat := sparse.Reshape(-1, numSparse)
		for s := range numSparse {
			ids := make([]int64, flat.Dim(0))
			for row := range ids {
				ids[row] = flat.At(row, s)
			}
			emb, backward := Embedding(ctx.Inf("sparse_%d", s), ids, sparseVocabSizes[s], embeddingDim)
			parts = append(parts, emb)
			sizes = append(sizes, embeddingDim)
			embeddingBackwards = append(embeddingBackwards, backward)
		}
	}

	output := tensors.ConcatLast(parts...)
	outputDims := append(prefixDims, output.Dim(-1))
	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		grads := tensors.SplitLast(flatten2D(gradOutput), sizes...)
		if dense != nil {
			for ii, embBackward := range embeddingBackwards {
				embBackward(grads[ii+1])
			}
			return grads[0].Reshape(dense.Dims()...)
		}
		for ii, embBackward := range embeddingBackwards {
			embBackward(grads[ii])
		}
		return nil
	}
	return output.Reshape(outputDims...), backward
}
