// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

func checkFeatureArgs(names []string, dims []int) error {
	if len(names) == 0 {
		return errors.New("no feature names given")
	}
	if len(names) != len(dims) {
		return errors.Errorf("got %d feature names but %d dims", len(names), len(dims))
	}
	return nil
}

// GetDenseFeature implements Client. Unknown vertices get zeros.
func (g *Graph) GetDenseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[float32], error) {
	if err := checkFeatureArgs(names, dims); err != nil {
		return nil, logged("GetDenseFeature", err)
	}
	outputs := make([]*tensors.Tensor[float32], len(names))
	for ii, name := range names {
		col, found := g.Dense[name]
		if !found {
			return nil, logged("GetDenseFeature", errors.Errorf("unknown dense feature %q", name))
		}
		if col.Dim != dims[ii] {
			return nil, logged("GetDenseFeature", errors.Errorf(
				"dense feature %q has dim %d, requested %d", name, col.Dim, dims[ii]))
		}
		out := tensors.Zeros[float32](len(ids), col.Dim)
		for row, id := range ids {
			if vIdx, ok := g.vertexIndex(id); ok {
				copy(out.Row(row), col.Values[int(vIdx)*col.Dim:(int(vIdx)+1)*col.Dim])
			}
		}
		outputs[ii] = out
	}
	return outputs, nil
}

// GetSparseFeature implements Client. Unknown vertices get zeros.
func (g *Graph) GetSparseFeature(ids []int64, names []string, dims []int) ([]*tensors.Tensor[int64], error) {
	if err := checkFeatureArgs(names, dims); err != nil {
		return nil, logged("GetSparseFeature", err)
	}
	outputs := make([]*tensors.Tensor[int64], len(names))
	for ii, name := range names {
		col, found := g.Sparse[name]
		if !found {
			return nil, logged("GetSparseFeature", errors.Errorf("unknown sparse feature %q", name))
		}
		if col.Dim != dims[ii] {
			return nil, logged("GetSparseFeature", errors.Errorf(
				"sparse feature %q has dim %d, requested %d", name, col.Dim, dims[ii]))
		}
		out := tensors.Zeros[int64](len(ids), col.Dim)
		for row, id := range ids {
			if vIdx, ok := g.vertexIndex(id); ok {
				copy(out.Row(row), col.Values[int(vIdx)*col.Dim:(int(vIdx)+1)*col.Dim])
			}
		}
		outputs[ii] = out
	}
	return outputs, nil
}
