// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math/rand/v2"
)

// aliasTable implements Vose's alias method for O(1) weighted sampling over a fixed set of weights.
type aliasTable struct {
	prob  []float64
	alias []int32
}

// newAliasTable builds the table for the given non-negative weights. If all weights are 0,
// sampling is uniform.
func newAliasTable(weights []float64) *aliasTable {
	n := len(weights)
	t := &aliasTable{prob: make([]float64, n), alias: make([]int32, n)}
	if n == 0 {
		return t
	}
	var sum float64
	for _, w := range weights {
		if w > 0 {
			sum += w
		}
	}
	if sum == 0 {
		for ii := range t.prob {
			t.prob[ii] = 1
			t.alias[ii] = int32(ii)
		}
		return t
	}

	scaled := make([]float64, n)
	small := make([]int32, 0, n)
	large := make([]int32, 0, n)
	for ii, w := range weights {
		if w < 0 {
			w = 0
		}
		scaled[ii] = w * float64(n) / sum
		if scaled[ii] < 1 {
			small = append(small, int32(ii))
		} else {
			large = append(large, int32(ii))
		}
	}
	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		t.prob[l] = scaled[l]
		t.alias[l] = g
		scaled[g] += scaled[l] - 1
		if scaled[g] < 1 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	// Leftovers are only due to floating point rounding: they are taken with probability 1.
	for _, ii := range large {
		t.prob[ii] = 1
		t.alias[ii] = ii
	}
	for _, ii := range small {
		t.prob[ii] = 1
		t.alias[ii] = ii
	}
	return t
}

// Len returns the number of entries in the table.
func (t *aliasTable) Len() int { return len(t.prob) }

// Draw returns a random index with probability proportional to its weight.
func (t *aliasTable) Draw() int {
	ii := rand.IntN(len(t.prob))
	if rand.Float64() < t.prob[ii] {
		return ii
	}
	return int(t.alias[ii])
}
