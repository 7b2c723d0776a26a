// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// IDsKey is the key of the vertex ids in the batches yielded by the source datasets of this package.
const IDsKey = "ids"

// RangeDataset yields batches of the ids in [start, end), incremented by step. The last batch may be smaller.
//
// It is safe for concurrent use.
type RangeDataset struct {
	name             string
	start, end, step int64
	batchSize        int

	mu   sync.Mutex
	next int64
}

var _ train.Dataset = (*RangeDataset)(nil)

// Range creates a dataset with the ids in [start, end) with the given step, in batches of batchSize.
func Range(start, end, step int64, batchSize int) *RangeDataset {
	if step <= 0 {
		exceptions.Panicf("data.Range: step must be > 0, got %d", step)
	}
	if batchSize <= 0 {
		exceptions.Panicf("data.Range: batchSize must be > 0, got %d", batchSize)
	}
	return &RangeDataset{
		name:      fmt.Sprintf("range[%d:%d]", start, end),
		start:     start,
		end:       end,
		step:      step,
		batchSize: batchSize,
		next:      start,
	}
}

// WithName sets the name of the dataset. It returns itself, so calls can be cascaded.
func (ds *RangeDataset) WithName(name string) *RangeDataset {
	ds.name = name
	return ds
}

// Name implements train.Dataset.
func (ds *RangeDataset) Name() string { return ds.name }

// Reset implements train.Dataset.
func (ds *RangeDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = ds.start
}

// NumBatches returns the number of batches per epoch.
func (ds *RangeDataset) NumBatches() int {
	if ds.end <= ds.start {
		return 0
	}
	numIDs := (ds.end - ds.start + ds.step - 1) / ds.step
	return int((numIDs + int64(ds.batchSize) - 1) / int64(ds.batchSize))
}

// Yield implements train.Dataset. The batch holds the ids as a vector under IDsKey.
func (ds *RangeDataset) Yield() (*tensors.Batch, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= ds.end {
		return nil, io.EOF
	}
	ids := make([]int64, 0, ds.batchSize)
	for ; ds.next < ds.end && len(ids) < ds.batchSize; ds.next += ds.step {
		ids = append(ids, ds.next)
	}
	return tensors.NewBatch().SetInt(IDsKey, tensors.FromFlat(ids)), nil
}

// IDsDataset yields batches of a fixed list of ids, optionally shuffled at every epoch.
//
// It is safe for concurrent use.
type IDsDataset struct {
	name      string
	ids       []int64
	batchSize int
	shuffle   bool
	dropLast  bool

	mu    sync.Mutex
	order []int
	pos   int
}

var _ train.Dataset = (*IDsDataset)(nil)

// FromIDs creates a dataset that yields the given ids in batches of batchSize.
// The ids are not copied.
func FromIDs(name string, ids []int64, batchSize int) *IDsDataset {
	if batchSize <= 0 {
		exceptions.Panicf("data.FromIDs: batchSize must be > 0, got %d", batchSize)
	}
	ds := &IDsDataset{name: name, ids: ids, batchSize: batchSize}
	ds.Reset()
	return ds
}

// FromTensor creates a dataset that yields the values of t (flattened) in batches of batchSize.
func FromTensor(name string, t *tensors.Tensor[int64], batchSize int) *IDsDataset {
	return FromIDs(name, t.Data(), batchSize)
}

// Shuffle the ids at every epoch. It returns itself, so calls can be cascaded.
func (ds *IDsDataset) Shuffle() *IDsDataset {
	ds.shuffle = true
	ds.Reset()
	return ds
}

// DropIncompleteBatch drops the last batch of the epoch if it is smaller than batchSize.
// It returns itself, so calls can be cascaded.
func (ds *IDsDataset) DropIncompleteBatch() *IDsDataset {
	ds.dropLast = true
	return ds
}

// Name implements train.Dataset.
func (ds *IDsDataset) Name() string { return ds.name }

// Len returns the number of ids.
func (ds *IDsDataset) Len() int { return len(ds.ids) }

// Reset implements train.Dataset.
func (ds *IDsDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
	if !ds.shuffle {
		ds.order = nil
		return
	}
	if len(ds.order) != len(ds.ids) {
		ds.order = make([]int, len(ds.ids))
		for ii := range ds.order {
			ds.order[ii] = ii
		}
	}
	rand.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
}

// Yield implements train.Dataset. The batch holds the ids as a vector under IDsKey.
func (ds *IDsDataset) Yield() (*tensors.Batch, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := len(ds.ids) - ds.pos
	if remaining <= 0 || (ds.dropLast && remaining < ds.batchSize) {
		return nil, io.EOF
	}
	n := min(remaining, ds.batchSize)
	ids := make([]int64, n)
	if ds.order == nil {
		copy(ids, ds.ids[ds.pos:ds.pos+n])
	} else {
		for ii := range n {
			ids[ii] = ds.ids[ds.order[ds.pos+ii]]
		}
	}
	ds.pos += n
	return tensors.NewBatch().SetInt(IDsKey, tensors.FromFlat(ids)), nil
}

// Vertices creates a dataset going over all vertices of the given types, in shuffled order, at every epoch.
func Vertices(client engine.Client, types []uint8, batchSize int) (*IDsDataset, error) {
	numVertices := client.NumVertices(types)
	if numVertices == 0 {
		return nil, errors.Errorf("data.Vertices: no vertices of types %v", types)
	}
	entities, err := client.CollectEntity(engine.VertexCategory, types, numVertices)
	if err != nil {
		return nil, errors.WithMessagef(err, "data.Vertices: collecting vertices of types %v", types)
	}
	ids := slices.Clone(entities.IDs)
	return FromIDs(fmt.Sprintf("vertices%v", types), ids, batchSize).Shuffle(), nil
}

// SampledVerticesDataset yields batches of vertices sampled (with replacement, proportionally to
// the vertex weights) with engine.Client.SampleVertices.
//
// It is safe for concurrent use.
type SampledVerticesDataset struct {
	name       string
	client     engine.Client
	types      []uint8
	batchSize  int
	numBatches int

	mu      sync.Mutex
	yielded int
}

var _ train.Dataset = (*SampledVerticesDataset)(nil)

// SampledVertices creates a dataset of numBatches batches of sampled vertices per epoch. If numBatches <= 0,
// it is set to ceil(NumVertices(types) / batchSize), so one epoch draws about as many vertices as there are.
func SampledVertices(client engine.Client, types []uint8, batchSize, numBatches int) (*SampledVerticesDataset, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("data.SampledVertices: batchSize must be > 0, got %d", batchSize)
	}
	if numBatches <= 0 {
		numVertices := client.NumVertices(types)
		if numVertices == 0 {
			return nil, errors.Errorf("data.SampledVertices: no vertices of types %v", types)
		}
		numBatches = (numVertices + batchSize - 1) / batchSize
	}
	return &SampledVerticesDataset{
		name:       fmt.Sprintf("sampled_vertices%v", types),
		client:     client,
		types:      slices.Clone(types),
		batchSize:  batchSize,
		numBatches: numBatches,
	}, nil
}

// Name implements train.Dataset.
func (ds *SampledVerticesDataset) Name() string { return ds.name }

// NumBatches returns the number of batches per epoch.
func (ds *SampledVerticesDataset) NumBatches() int { return ds.numBatches }

// Reset implements train.Dataset.
func (ds *SampledVerticesDataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.yielded = 0
}

// Yield implements train.Dataset. The batch holds the ids as a vector under IDsKey.
func (ds *SampledVerticesDataset) Yield() (*tensors.Batch, error) {
	ds.mu.Lock()
	if ds.yielded >= ds.numBatches {
		ds.mu.Unlock()
		return nil, io.EOF
	}
	ds.yielded++
	ds.mu.Unlock()
	ids, err := ds.client.SampleVertices(ds.types, ds.batchSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %q", ds.name)
	}
	return tensors.NewBatch().SetInt(IDsKey, tensors.FromFlat(ids)), nil
}
