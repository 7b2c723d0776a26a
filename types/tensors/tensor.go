// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a small host-side `Tensor`: a typed multidimensional array stored as a flat
// slice in row-major order, plus `Batch`, a named collection of tensors used to pass data between
// datasets, transforms and models.
//
// It only implements what is needed to move sampled graph data around: reshaping, gathering rows,
// concatenating and splitting along the last axis and finding unique values.
// Shape errors are programming errors and panic with exceptions.Panicf.
package tensors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// Number is the set of data types a Tensor can hold.
type Number interface {
	constraints.Integer | constraints.Float
}

// Tensor is a multidimensional array of T, with the values stored in a flat slice in row-major order.
//
// A scalar has no dimensions and holds one value.
type Tensor[T Number] struct {
	dims []int
	data []T
}

// sizeOf returns the product of the dimensions.
func sizeOf(dims []int) int {
	size := 1
	for axis, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("invalid negative dimension %d for axis %d in %v", dim, axis, dims)
		}
		size *= dim
	}
	return size
}

// FromFlat creates a Tensor with the given dimensions and data. The data is not copied.
// If no dimensions are given, it is assumed to be a vector (rank 1) with len(data) elements.
func FromFlat[T Number](data []T, dims ...int) *Tensor[T] {
	if len(dims) == 0 {
		dims = []int{len(data)}
	}
	if size := sizeOf(dims); size != len(data) {
		exceptions.Panicf("tensors.FromFlat: dimensions %v require %d elements, but data has %d", dims, size, len(data))
	}
	return &Tensor[T]{dims: slices.Clone(dims), data: data}
}

// Zeros creates a zero initialized Tensor with the given dimensions.
func Zeros[T Number](dims ...int) *Tensor[T] {
	return &Tensor[T]{dims: slices.Clone(dims), data: make([]T, sizeOf(dims))}
}

// Full creates a Tensor with the given dimensions filled with value.
func Full[T Number](value T, dims ...int) *Tensor[T] {
	t := Zeros[T](dims...)
	for ii := range t.data {
		t.data[ii] = value
	}
	return t
}

// FromRows creates a rank-2 tensor from a slice of rows. All rows must have the same length.
func FromRows[T Number](rows [][]T) *Tensor[T] {
	if len(rows) == 0 {
		return Zeros[T](0, 0)
	}
	width := len(rows[0])
	t := Zeros[T](len(rows), width)
	for ii, row := range rows {
		if len(row) != width {
			exceptions.Panicf("tensors.FromRows: row %d has %d elements, expected %d", ii, len(row), width)
		}
		copy(t.data[ii*width:], row)
	}
	return t
}

// Dims returns a copy of the dimensions of the tensor.
func (t *Tensor[T]) Dims() []int { return slices.Clone(t.dims) }

// Rank returns the number of axes.
func (t *Tensor[T]) Rank() int { return len(t.dims) }

// Size returns the total number of elements.
func (t *Tensor[T]) Size() int { return len(t.data) }

// Data returns the underlying flat data. It is shared with the tensor: changes are reflected on it.
func (t *Tensor[T]) Data() []T { return t.data }

// Dim returns the dimension of the given axis. Negative axes are counted from the end.
func (t *Tensor[T]) Dim(axis int) int {
	return t.dims[t.normalizeAxis(axis)]
}

func (t *Tensor[T]) normalizeAxis(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += len(t.dims)
	}
	if adjusted < 0 || adjusted >= len(t.dims) {
		exceptions.Panicf("axis %d out of range for tensor of rank %d", axis, len(t.dims))
	}
	return adjusted
}

// Clone returns a deep copy of the tensor.
func (t *Tensor[T]) Clone() *Tensor[T] {
	return &Tensor[T]{dims: slices.Clone(t.dims), data: slices.Clone(t.data)}
}

// Reshape returns a tensor sharing the same data with new dimensions.
// One of the dimensions can be -1, in which case it is inferred.
func (t *Tensor[T]) Reshape(dims ...int) *Tensor[T] {
	dims = slices.Clone(dims)
	inferAxis := -1
	known := 1
	for axis, dim := range dims {
		if dim == -1 {
			if inferAxis >= 0 {
				exceptions.Panicf("Reshape(%v): only one dimension can be -1", dims)
			}
			inferAxis = axis
			continue
		}
		known *= dim
	}
	if inferAxis >= 0 {
		if known == 0 || len(t.data)%known != 0 {
			exceptions.Panicf("Reshape(%v): cannot infer dimension for tensor of size %d", dims, len(t.data))
		}
		dims[inferAxis] = len(t.data) / known
	}
	if sizeOf(dims) != len(t.data) {
		exceptions.Panicf("Reshape(%v): incompatible with tensor of shape %v", dims, t.dims)
	}
	return &Tensor[T]{dims: dims, data: t.data}
}

// rowSize is the number of elements of one entry of the first axis.
func (t *Tensor[T]) rowSize() int {
	if len(t.dims) == 0 {
		exceptions.Panicf("scalar tensor has no rows")
	}
	if t.dims[0] == 0 {
		return sizeOf(t.dims[1:])
	}
	return len(t.data) / t.dims[0]
}

// Row returns the flat data of the i-th element of the first axis. It shares the data with the tensor.
func (t *Tensor[T]) Row(i int) []T {
	n := t.rowSize()
	if i < 0 || i >= t.dims[0] {
		exceptions.Panicf("Row(%d) out of range for shape %v", i, t.dims)
	}
	return t.data[i*n : (i+1)*n]
}

// flatIndex converts indices to the position in the flat data.
func (t *Tensor[T]) flatIndex(indices []int) int {
	if len(indices) != len(t.dims) {
		exceptions.Panicf("got %d indices for tensor of rank %d", len(indices), len(t.dims))
	}
	pos := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= t.dims[axis] {
			exceptions.Panicf("index %d out of range for axis %d of shape %v", idx, axis, t.dims)
		}
		pos = pos*t.dims[axis] + idx
	}
	return pos
}

// At returns the value at the given indices.
func (t *Tensor[T]) At(indices ...int) T { return t.data[t.flatIndex(indices)] }

// Set sets the value at the given indices.
func (t *Tensor[T]) Set(value T, indices ...int) { t.data[t.flatIndex(indices)] = value }

// ShapeString returns a short description of the shape, like "[32 9]".
func (t *Tensor[T]) ShapeString() string {
	return fmt.Sprintf("%v", t.dims)
}

// String implements fmt.Stringer. Large tensors are truncated.
func (t *Tensor[T]) String() string {
	const maxValues = 16
	var sb strings.Builder
	fmt.Fprintf(&sb, "%T%v", *new(T), t.dims)
	sb.WriteString("{")
	for ii, v := range t.data {
		if ii == maxValues {
			sb.WriteString(", ...")
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v", v)
	}
	sb.WriteString("}")
	return sb.String()
}

// Equal returns whether both tensors have the same shape and values.
func (t *Tensor[T]) Equal(other *Tensor[T]) bool {
	if t == nil || other == nil {
		return t == other
	}
	return slices.Equal(t.dims, other.dims) && slices.Equal(t.data, other.data)
}

// Convert returns a new tensor with the values converted to type U.
func Convert[U, T Number](t *Tensor[T]) *Tensor[U] {
	out := Zeros[U](t.dims...)
	for ii, v := range t.data {
		out.data[ii] = U(v)
	}
	return out
}
