// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"slices"

	"github.com/gomlx/galileo/engine"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// RandomWalkNegConfig configures RandomWalkNeg.
type RandomWalkNegConfig struct {
	// VertexTypes from which negatives are sampled.
	VertexTypes []uint8

	// EdgeTypes followed at each step of the walk, when Metapath is not given.
	EdgeTypes []uint8

	// NegativeNum is the number of negatives per pair.
	NegativeNum int

	// ContextSize is the maximum distance in the walk between a target and its contexts.
	ContextSize int

	// Repetition is the number of walks per vertex. Defaults to 1.
	Repetition int

	// P and Q are the node2vec return and in-out parameters. Default to 1.
	P, Q float32

	// One of WalkLength or Metapath must be given. Metapath defaults to EdgeTypes repeated WalkLength times.
	WalkLength int
	Metapath   [][]uint8
}

// RandomWalkNeg generates skip-gram pairs from random walks, with negatives sampled from the vertices.
type RandomWalkNeg struct {
	client engine.Client
	config RandomWalkNegConfig
}

var _ Transform = (*RandomWalkNeg)(nil)

// NewRandomWalkNeg validates the configuration and creates the transform.
func NewRandomWalkNeg(client engine.Client, config RandomWalkNegConfig) (*RandomWalkNeg, error) {
	if config.WalkLength <= 0 && len(config.Metapath) == 0 {
		return nil, errors.New("RandomWalkNeg: one of walk length and metapath must be specified")
	}
	if len(config.Metapath) == 0 {
		if err := validateTypes("RandomWalkNeg: edge types", config.EdgeTypes); err != nil {
			return nil, err
		}
		config.Metapath = make([][]uint8, config.WalkLength)
		for ii := range config.Metapath {
			config.Metapath[ii] = slices.Clone(config.EdgeTypes)
		}
	}
	if err := validateTypes("RandomWalkNeg: vertex types", config.VertexTypes); err != nil {
		return nil, err
	}
	if config.NegativeNum <= 0 || config.ContextSize <= 0 {
		return nil, errors.Errorf("RandomWalkNeg: negative num and context size must be > 0, got %d and %d",
			config.NegativeNum, config.ContextSize)
	}
	if config.Repetition == 0 {
		config.Repetition = 1
	}
	if config.P == 0 {
		config.P = 1
	}
	if config.Q == 0 {
		config.Q = 1
	}
	return &RandomWalkNeg{client: client, config: config}, nil
}

// Config returns the configuration with the defaults filled in.
func (t *RandomWalkNeg) Config() RandomWalkNegConfig { return t.config }

// NumPairs returns the number of pairs generated for n vertices.
func (t *RandomWalkNeg) NumPairs(n int) int {
	return n * t.config.Repetition * engine.NumPairsPerWalk(len(t.config.Metapath), t.config.ContextSize)
}

// Transform returns TargetKey [M, 1], ContextKey [M, 1] and NegativeKey [M, NegativeNum] with the ids of the
// M pairs sampled from walks starting at ids.
func (t *RandomWalkNeg) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	c := t.config
	pairs, err := t.client.SamplePairsByRandomWalk(ids.Data(), c.Metapath, c.Repetition, c.ContextSize, c.P, c.Q)
	if err != nil {
		return nil, errors.WithMessage(err, "RandomWalkNeg: sampling pairs by random walk")
	}
	parts := tensors.SplitLast(pairs, 1, 1)
	numPairs := pairs.Dim(0)
	negative, err := t.client.SampleVertices(c.VertexTypes, numPairs*c.NegativeNum)
	if err != nil {
		return nil, errors.WithMessage(err, "RandomWalkNeg: sampling negatives")
	}
	return tensors.NewBatch().
		SetInt(TargetKey, parts[0]).
		SetInt(ContextKey, parts[1]).
		SetInt(NegativeKey, tensors.FromFlat(negative, numPairs, c.NegativeNum)), nil
}

// NeighborNegConfig configures NeighborNeg.
type NeighborNegConfig struct {
	// VertexTypes from which negatives are sampled.
	VertexTypes []uint8

	// EdgeTypes of the sampled neighbor.
	EdgeTypes []uint8

	// NegativeNum is the number of negatives per vertex.
	NegativeNum int
}

// NeighborNeg pairs each vertex with one sampled neighbor, with negatives sampled from the vertices.
type NeighborNeg struct {
	client engine.Client
	config NeighborNegConfig
}

var _ Transform = (*NeighborNeg)(nil)

// NewNeighborNeg validates the configuration and creates the transform.
func NewNeighborNeg(client engine.Client, config NeighborNegConfig) (*NeighborNeg, error) {
	if err := validateTypes("NeighborNeg: vertex types", config.VertexTypes); err != nil {
		return nil, err
	}
	if err := validateTypes("NeighborNeg: edge types", config.EdgeTypes); err != nil {
		return nil, err
	}
	if config.NegativeNum <= 0 {
		return nil, errors.Errorf("NeighborNeg: negative num must be > 0, got %d", config.NegativeNum)
	}
	return &NeighborNeg{client: client, config: config}, nil
}

// Transform returns TargetKey [B, 1] (the given ids), ContextKey [B, 1] (one neighbor of each) and
// NegativeKey [B, NegativeNum].
func (t *NeighborNeg) Transform(ids *tensors.Tensor[int64]) (*tensors.Batch, error) {
	target := ids.Data()
	context, _, err := t.client.SampleNeighbors(target, t.config.EdgeTypes, 1, false)
	if err != nil {
		return nil, errors.WithMessage(err, "NeighborNeg: sampling neighbors")
	}
	negative, err := t.client.SampleVertices(t.config.VertexTypes, len(target)*t.config.NegativeNum)
	if err != nil {
		return nil, errors.WithMessage(err, "NeighborNeg: sampling negatives")
	}
	return tensors.NewBatch().
		SetInt(TargetKey, asColumn(slices.Clone(target))).
		SetInt(ContextKey, asColumn(context)).
		SetInt(NegativeKey, tensors.FromFlat(negative, len(target), t.config.NegativeNum)), nil
}
