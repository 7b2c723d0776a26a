// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Batch is a named collection of tensors: integer tensors (vertex ids, indices) and float tensors
// (features, weights, labels).
//
// It is what transforms output and what datasets yield. Keys are unique across both kinds.
type Batch struct {
	ints   map[string]*Tensor[int64]
	floats map[string]*Tensor[float32]
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{
		ints:   make(map[string]*Tensor[int64]),
		floats: make(map[string]*Tensor[float32]),
	}
}

// SetInt sets an integer tensor under key, replacing a previous value with the same key.
// It returns the batch itself, so calls can be cascaded.
func (b *Batch) SetInt(key string, t *Tensor[int64]) *Batch {
	delete(b.floats, key)
	b.ints[key] = t
	return b
}

// SetFloat sets a float tensor under key, replacing a previous value with the same key.
// It returns the batch itself, so calls can be cascaded.
func (b *Batch) SetFloat(key string, t *Tensor[float32]) *Batch {
	delete(b.ints, key)
	b.floats[key] = t
	return b
}

// Int returns the integer tensor for key, or nil if not present.
func (b *Batch) Int(key string) *Tensor[int64] { return b.ints[key] }

// Float returns the float tensor for key, or nil if not present.
func (b *Batch) Float(key string) *Tensor[float32] { return b.floats[key] }

// RequireInt is like Int, but returns an error if key is missing.
func (b *Batch) RequireInt(key string) (*Tensor[int64], error) {
	t, found := b.ints[key]
	if !found {
		return nil, errors.Errorf("batch has no integer tensor %q (keys: %v)", key, b.Keys())
	}
	return t, nil
}

// RequireFloat is like Float, but returns an error if key is missing.
func (b *Batch) RequireFloat(key string) (*Tensor[float32], error) {
	t, found := b.floats[key]
	if !found {
		return nil, errors.Errorf("batch has no float tensor %q (keys: %v)", key, b.Keys())
	}
	return t, nil
}

// Has returns whether there is a tensor (of either kind) under key.
func (b *Batch) Has(key string) bool {
	_, isInt := b.ints[key]
	_, isFloat := b.floats[key]
	return isInt || isFloat
}

// Keys returns all keys, sorted.
func (b *Batch) Keys() []string {
	keys := slices.Collect(maps.Keys(b.ints))
	keys = append(keys, slices.Collect(maps.Keys(b.floats))...)
	slices.Sort(keys)
	return keys
}

// Merge copies all tensors of other into b, with their keys prefixed by prefix.
func (b *Batch) Merge(prefix string, other *Batch) *Batch {
	for key, t := range other.ints {
		b.SetInt(prefix+key, t)
	}
	for key, t := range other.floats {
		b.SetFloat(prefix+key, t)
	}
	return b
}

// String implements fmt.Stringer, listing keys and shapes.
func (b *Batch) String() string {
	parts := make([]string, 0, len(b.ints)+len(b.floats))
	for _, key := range b.Keys() {
		if t, found := b.ints[key]; found {
			parts = append(parts, fmt.Sprintf("%s:int64%v", key, t.dims))
		} else {
			parts = append(parts, fmt.Sprintf("%s:float32%v", key, b.floats[key].dims))
		}
	}
	return "Batch{" + strings.Join(parts, ", ") + "}"
}
