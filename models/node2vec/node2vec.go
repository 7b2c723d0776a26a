// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package node2vec implements the node2vec model: an embedding table shared by target and context
// vertices, trained on the skip-gram pairs of biased random walks (see transforms.RandomWalkNeg).
package node2vec

import (
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/layers"
	"github.com/gomlx/galileo/models"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

const (
	// ParamEmbeddingDim is the context hyperparameter with the dimension of the embeddings.
	ParamEmbeddingDim = "embedding_dim"

	// DefaultEmbeddingDim is used if ParamEmbeddingDim is not set.
	DefaultEmbeddingDim = 64
)

// Encoder returns the vertex embeddings from a table of maxID+1 rows: the vertex ids of each role are
// read from the batch key with the role name (e.g. transforms.TargetKey), in any shape.
func Encoder(maxID int) models.EncoderFn {
	return func(ctx *context.Context, batch *tensors.Batch, role string) (*tensors.Tensor[float32], layers.Backward, error) {
		ids, err := batch.RequireInt(role)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "node2vec")
		}
		for _, id := range ids.Data() {
			if id < 0 || id > int64(maxID) {
				return nil, nil, errors.Errorf("node2vec: vertex id %d out of range [0, %d]", id, maxID)
			}
		}
		dim := context.GetParamOr(ctx, ParamEmbeddingDim, DefaultEmbeddingDim)
		embeddings, backward := layers.Embedding(ctx, ids.Data(), maxID+1, dim)
		return embeddings, backward, nil
	}
}

// New creates the node2vec model for vertex ids in [0, maxID].
func New(maxID int) *models.Unsupervised {
	return &models.Unsupervised{TargetEncoder: Encoder(maxID)}
}
