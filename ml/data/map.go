// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// TransformFn converts a batch of vertex ids into the batch of tensors consumed by a model, typically
// by sampling the graph around the vertices. See package transforms.
//
// It must be safe for concurrent use if the mapped dataset is parallelized.
type TransformFn func(ids *tensors.Tensor[int64]) (*tensors.Batch, error)

// MapDataset applies a TransformFn to the ids yielded by another dataset.
type MapDataset struct {
	ds         train.Dataset
	fn         TransformFn
	name       string
	keepInputs string
}

var _ train.Dataset = (*MapDataset)(nil)

// Map returns a dataset that yields fn applied to the ids (under IDsKey) of each batch of ds.
func Map(ds train.Dataset, fn TransformFn) *MapDataset {
	return &MapDataset{ds: ds, fn: fn, name: ds.Name() + " [Map]"}
}

// KeepInputs also includes the input ids in the transformed batch under the given key.
// It returns itself, so calls can be cascaded.
func (m *MapDataset) KeepInputs(key string) *MapDataset {
	m.keepInputs = key
	return m
}

// Name implements train.Dataset.
func (m *MapDataset) Name() string { return m.name }

// Reset implements train.Dataset.
func (m *MapDataset) Reset() { m.ds.Reset() }

// Yield implements train.Dataset.
func (m *MapDataset) Yield() (*tensors.Batch, error) {
	batch, err := m.ds.Yield()
	if err != nil {
		return nil, err
	}
	ids, err := batch.RequireInt(IDsKey)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", m.name)
	}
	out, err := m.fn(ids)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q: transforming %d ids", m.name, ids.Size())
	}
	if m.keepInputs != "" {
		out.SetInt(m.keepInputs, ids)
	}
	return out, nil
}

// Pipeline maps fn over the source dataset, with the given parallelism. It is the common way of
// building the training, evaluation and prediction inputs: a source of vertex ids (see Range,
// Vertices and SampledVertices) and a graph transform.
//
// If parallelism is 1 no goroutines are used. If it is 0, the number of cores is used. A parallel
// pipeline doesn't preserve the order of the batches, and should be stopped with ParallelDataset.Done.
func Pipeline(source train.Dataset, fn TransformFn, parallelism int) train.Dataset {
	mapped := Map(source, fn)
	if parallelism == 1 {
		return mapped
	}
	pds := CustomParallel(mapped).Parallelism(parallelism)
	return pds.Buffer(pds.parallelism).Start()
}
