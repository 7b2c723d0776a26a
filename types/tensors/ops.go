// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"slices"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// Gather returns a new tensor with the rows (entries of the first axis) of src selected by indices.
// The output shape is `[len(indices), src.Dims()[1:]...]`.
func Gather[T Number, I constraints.Integer](src *Tensor[T], indices []I) *Tensor[T] {
	rowSize := src.rowSize()
	dims := append([]int{len(indices)}, src.dims[1:]...)
	out := Zeros[T](dims...)
	for ii, idx := range indices {
		if int(idx) < 0 || int(idx) >= src.dims[0] {
			exceptions.Panicf("Gather: index %d out of range for shape %v", idx, src.dims)
		}
		copy(out.data[ii*rowSize:(ii+1)*rowSize], src.data[int(idx)*rowSize:(int(idx)+1)*rowSize])
	}
	return out
}

// ConcatLast concatenates the tensors along their last axis. All other axes must match.
func ConcatLast[T Number](parts ...*Tensor[T]) *Tensor[T] {
	if len(parts) == 0 {
		exceptions.Panicf("ConcatLast requires at least one tensor")
	}
	if len(parts) == 1 {
		return parts[0].Clone()
	}
	first := parts[0]
	prefix := first.dims[:len(first.dims)-1]
	numRows := sizeOf(prefix)
	total := 0
	for ii, p := range parts {
		if p.Rank() != first.Rank() || !slices.Equal(p.dims[:len(p.dims)-1], prefix) {
			exceptions.Panicf("ConcatLast: tensor #%d has shape %v, incompatible with %v", ii, p.dims, first.dims)
		}
		total += p.dims[len(p.dims)-1]
	}
	dims := append(slices.Clone(prefix), total)
	out := Zeros[T](dims...)
	for row := range numRows {
		pos := row * total
		for _, p := range parts {
			width := p.dims[len(p.dims)-1]
			copy(out.data[pos:pos+width], p.data[row*width:(row+1)*width])
			pos += width
		}
	}
	return out
}

// SplitLast splits the tensor along the last axis into parts of the given sizes, which must add up to the
// last dimension.
func SplitLast[T Number](t *Tensor[T], sizes ...int) []*Tensor[T] {
	last := t.dims[len(t.dims)-1]
	sum := 0
	for _, s := range sizes {
		sum += s
	}
	if sum != last {
		exceptions.Panicf("SplitLast(%v): sizes add to %d, but last dimension is %d", sizes, sum, last)
	}
	prefix := t.dims[:len(t.dims)-1]
	numRows := sizeOf(prefix)
	parts := make([]*Tensor[T], len(sizes))
	for ii, s := range sizes {
		parts[ii] = Zeros[T](append(slices.Clone(prefix), s)...)
	}
	for row := range numRows {
		pos := row * last
		for ii, s := range sizes {
			copy(parts[ii].data[row*s:(row+1)*s], t.data[pos:pos+s])
			pos += s
		}
	}
	return parts
}

// SliceLast returns the columns `[start, end)` of the last axis.
func SliceLast[T Number](t *Tensor[T], start, end int) *Tensor[T] {
	last := t.dims[len(t.dims)-1]
	if start < 0 || end > last || start > end {
		exceptions.Panicf("SliceLast(%d, %d) out of range for shape %v", start, end, t.dims)
	}
	parts := SplitLast(t, start, end-start, last-end)
	return parts[1]
}

// Unique returns the unique values of the flattened tensor, in order of first occurrence, and for each
// element of t the index of its value in the unique list. The indices tensor has the same shape as t.
func Unique[T constraints.Integer](t *Tensor[T]) (values *Tensor[T], indices *Tensor[int64]) {
	positions := make(map[T]int64, len(t.data))
	uniqueData := make([]T, 0, len(t.data))
	indices = Zeros[int64](t.dims...)
	for ii, v := range t.data {
		pos, found := positions[v]
		if !found {
			pos = int64(len(uniqueData))
			positions[v] = pos
			uniqueData = append(uniqueData, v)
		}
		indices.data[ii] = pos
	}
	return FromFlat(uniqueData), indices
}

// Transpose returns the transposition of a rank-2 tensor.
func Transpose[T Number](t *Tensor[T]) *Tensor[T] {
	if t.Rank() != 2 {
		exceptions.Panicf("Transpose requires a rank-2 tensor, got shape %v", t.dims)
	}
	rows, cols := t.dims[0], t.dims[1]
	out := Zeros[T](cols, rows)
	for r := range rows {
		for c := range cols {
			out.data[c*rows+r] = t.data[r*cols+c]
		}
	}
	return out
}

// Iota returns a vector with the values start, start+step, ... up to end (excluded).
func Iota[T Number](start, end, step T) *Tensor[T] {
	if step == 0 {
		exceptions.Panicf("Iota: step cannot be 0")
	}
	var data []T
	if step > 0 {
		for v := start; v < end; v += step {
			data = append(data, v)
		}
	} else {
		for v := start; v > end; v += step {
			data = append(data, v)
		}
	}
	return FromFlat(data, len(data))
}

// ArgMax returns, for each row of a rank-2 tensor, the column of its largest value.
func ArgMax[T Number](t *Tensor[T]) []int {
	if t.Rank() != 2 {
		exceptions.Panicf("ArgMax requires a rank-2 tensor, got shape %v", t.dims)
	}
	cols := t.dims[1]
	out := make([]int, t.dims[0])
	for r := range out {
		row := t.data[r*cols : (r+1)*cols]
		best := 0
		for c := 1; c < cols; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out
}
