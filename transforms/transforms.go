// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms converts batches of vertex ids into the tensors consumed by the GNN models, by
// calling the sampling API of an engine.Client: random walk pairs with negatives, neighbor pairs with
// negatives, multi-hop neighborhoods with their features and labels, and relation graphs.
//
// Every transform validates its configuration at construction, and its Transform method can be
// used as a data.TransformFn:
//
//	rw, err := transforms.NewRandomWalkNeg(client, transforms.RandomWalkNegConfig{...})
//	ds := data.Pipeline(source, rw.Transform, 0)
package transforms

import (
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// Keys of the tensors in the batches generated by the transforms.
const (
	TargetKey   = "target"
	ContextKey  = "context"
	NegativeKey = "negative"

	IDsKey        = "ids"
	IndicesKey    = "indices"
	DenseKey      = "dense"
	SparseKey     = "sparse"
	EdgeWeightKey = "edge_weight"
	LabelKey      = "label"

	RelationIndicesKey = "relation_indices"
	RelationWeightKey  = "relation_weight"
	TargetIndicesKey   = "target_indices"
)

// Roles of the vertices in unsupervised training, in the order they are generated.
var Roles = []string{TargetKey, ContextKey, NegativeKey}

// RoleSeparator separates the role from the key in the batches of the sparse transforms,
// e.g. "context/indices".
const RoleSeparator = "/"

// RoleKey returns the key of the tensor with the given key for the given role.
func RoleKey(role, key string) string {
	return role + RoleSeparator + key
}

// RoleBatch extracts from batch the tensors of the given role, with the role prefix removed.
func RoleBatch(batch *tensors.Batch, role string) *tensors.Batch {
	prefix := role + RoleSeparator
	out := tensors.NewBatch()
	for _, key := range batch.Keys() {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if t := batch.Int(key); t != nil {
			out.SetInt(key[len(prefix):], t)
		} else {
			out.SetFloat(key[len(prefix):], batch.Float(key))
		}
	}
	return out
}

// Transform is implemented by all transforms in this package.
type Transform interface {
	Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error)
}

// FanoutsList returns the number of vertices at each hop of a multi-hop expansion, starting with the
// root: for fanouts [2, 3] it returns [1, 2, 6].
func FanoutsList(fanouts []int) []int {
	list := make([]int, len(fanouts)+1)
	list[0] = 1
	for hop, fanout := range fanouts {
		list[hop+1] = list[hop] * fanout
	}
	return list
}

// FanoutsDim returns the number of vertices of a multi-hop expansion of one root, that is, the sum of
// FanoutsList: for fanouts [2, 3] it returns 9.
func FanoutsDim(fanouts []int) int {
	var dim int
	for _, n := range FanoutsList(fanouts) {
		dim += n
	}
	return dim
}

// FanoutsIndices returns the (parent, child) positions of every edge of a multi-hop expansion of one
// root, in child position order. Hop blocks are laid out consecutively, and each one is parent-major:
// for fanouts [2, 3] it returns (0,1) (0,2) (1,3) (1,4) (1,5) (2,6) (2,7) (2,8).
func FanoutsIndices(fanouts []int) [][2]int {
	list := FanoutsList(fanouts)
	pairs := make([][2]int, 0, FanoutsDim(fanouts)-1)
	parentStart := 0
	for hop, fanout := range fanouts {
		childStart := parentStart + list[hop]
		for ii := range list[hop+1] {
			pairs = append(pairs, [2]int{parentStart + ii/fanout, childStart + ii})
		}
		parentStart = childStart
	}
	return pairs
}

func validateFanouts(fanouts []int) error {
	if len(fanouts) == 0 {
		return errors.New("fanouts must be specified")
	}
	for hop, fanout := range fanouts {
		if fanout <= 0 {
			return errors.Errorf("fanout of hop %d must be > 0, got %d", hop, fanout)
		}
	}
	return nil
}

func validateTypes(what string, types []uint8) error {
	if len(types) == 0 {
		return errors.Errorf("%s must be specified", what)
	}
	return nil
}

// asColumn reshapes a vector of n values to [n, 1].
func asColumn[T tensors.Number](values []T) *tensors.Tensor[T] {
	return tensors.FromFlat(values, len(values), 1)
}
