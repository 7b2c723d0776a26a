// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math/rand/v2"

	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// biasedNeighbor samples the next vertex of a node2vec walk currently at cur, having come from prev.
//
// Each candidate edge weight is multiplied by 1/p if the candidate is prev (returning), by 1 if the
// candidate is a neighbor of prev, and by 1/q otherwise (moving outwards).
func (g *Graph) biasedNeighbor(prev, cur int32, edgeLists []*EdgeList, invP, invQ float64, scratch []float64) (int32, []float64, bool) {
	scratch = scratch[:0]
	var total float64
	for _, el := range edgeLists {
		start, end := el.segment(cur)
		for e := start; e < end; e++ {
			w := max(float64(el.Weights[e]), 0)
			cand := el.Targets[e]
			switch {
			case cand == prev:
				w *= invP
			case el.hasEdge(prev, cand):
			default:
				w *= invQ
			}
			scratch = append(scratch, w)
			total += w
		}
	}
	if len(scratch) == 0 {
		return 0, scratch, false
	}
	var pos int
	if total <= 0 {
		pos = rand.IntN(len(scratch))
	} else {
		r := rand.Float64() * total
		for pos = 0; pos < len(scratch)-1; pos++ {
			if r < scratch[pos] {
				break
			}
			r -= scratch[pos]
		}
	}
	for _, el := range edgeLists {
		start, end := el.segment(cur)
		if pos < int(end-start) {
			return el.Targets[start+int32(pos)], scratch, true
		}
		pos -= int(end - start)
	}
	return 0, scratch, false
}

// walkInto runs one walk from id, writing len(metapath)+1 vertex ids to out.
// When the walk reaches a vertex without edges of the required types, the last vertex is repeated.
func (g *Graph) walkInto(id int64, hopLists [][]*EdgeList, invP, invQ float64, out []int64, scratch []float64) []float64 {
	out[0] = id
	cur, found := g.vertexIndex(id)
	prev := int32(-1)
	unbiased := invP == 1 && invQ == 1
	for step, edgeLists := range hopLists {
		if !found {
			out[step+1] = out[step]
			continue
		}
		var next int32
		var ok bool
		if prev < 0 || unbiased {
			next, _, ok = g.sampleNeighbor(cur, edgeLists)
		} else {
			next, scratch, ok = g.biasedNeighbor(prev, cur, edgeLists, invP, invQ, scratch)
		}
		if !ok {
			found = false
			out[step+1] = out[step]
			continue
		}
		prev, cur = cur, next
		out[step+1] = g.IDs[cur]
	}
	return scratch
}

func (g *Graph) walkParams(metapath [][]uint8, p, q float32) (hopLists [][]*EdgeList, invP, invQ float64, err error) {
	if len(metapath) == 0 {
		return nil, 0, 0, errors.New("empty metapath")
	}
	if p <= 0 || q <= 0 {
		return nil, 0, 0, errors.Errorf("p and q must be > 0, got p=%g, q=%g", p, q)
	}
	hopLists = make([][]*EdgeList, len(metapath))
	for step, edgeTypes := range metapath {
		hopLists[step], err = g.edgeListsFor(edgeTypes)
		if err != nil {
			return nil, 0, 0, errors.WithMessagef(err, "metapath step %d", step)
		}
	}
	return hopLists, 1 / float64(p), 1 / float64(q), nil
}

// RandomWalk implements Client.
func (g *Graph) RandomWalk(ids []int64, metapath [][]uint8, p, q float32) (*tensors.Tensor[int64], error) {
	hopLists, invP, invQ, err := g.walkParams(metapath, p, q)
	if err != nil {
		return nil, logged("RandomWalk", err)
	}
	walks := tensors.Zeros[int64](len(ids), len(metapath)+1)
	var scratch []float64
	for row, id := range ids {
		scratch = g.walkInto(id, hopLists, invP, invQ, walks.Row(row), scratch)
	}
	return walks, nil
}

// NumPairsPerWalk returns the number of skip-gram pairs generated by one walk of walkLength steps
// (walkLength+1 vertices) with the given context size.
func NumPairsPerWalk(walkLength, contextSize int) int {
	n := walkLength + 1
	var count int
	for i := range n {
		count += min(i+contextSize, n-1) - max(i-contextSize, 0)
	}
	return count
}

// SamplePairsByRandomWalk implements Client.
//
// Pairs are ordered by id, then repetition, then target position in the walk, then context position.
func (g *Graph) SamplePairsByRandomWalk(ids []int64, metapath [][]uint8, repetition, contextSize int, p, q float32) (*tensors.Tensor[int64], error) {
	if repetition <= 0 || contextSize <= 0 {
		return nil, logged("SamplePairsByRandomWalk", errors.Errorf(
			"repetition and context size must be > 0, got %d and %d", repetition, contextSize))
	}
	hopLists, invP, invQ, err := g.walkParams(metapath, p, q)
	if err != nil {
		return nil, logged("SamplePairsByRandomWalk", err)
	}
	if len(ids) == 0 {
		return nil, logged("SamplePairsByRandomWalk", errors.New("no vertices given"))
	}
	pairsPerWalk := NumPairsPerWalk(len(metapath), contextSize)
	pairs := tensors.Zeros[int64](len(ids)*repetition*pairsPerWalk, 2)
	data := pairs.Data()
	walk := make([]int64, len(metapath)+1)
	var scratch []float64
	pos := 0
	for _, id := range ids {
		for range repetition {
			scratch = g.walkInto(id, hopLists, invP, invQ, walk, scratch)
			for i, target := range walk {
				for j := max(i-contextSize, 0); j <= min(i+contextSize, len(walk)-1); j++ {
					if j == i {
						continue
					}
					data[pos] = target
					data[pos+1] = walk[j]
					pos += 2
				}
			}
		}
	}
	return pairs, nil
}
