// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package sage implements GraphSAGE models:
//
//   - Supervised: vertex classification over the dense multi-hop neighborhoods of
//     transforms.MultiHopFeatureLabel, split per hop (transforms.Bipartite) and aggregated by
//     layers.SAGELayer.
//   - Unsupervised: vertex embeddings trained with neighbor contexts and negatives over the sparse
//     neighborhoods of transforms.MultiHopFeatureNegSparse, converted to relation graphs
//     (transforms.Relation) and aggregated by layers.SAGESparseLayer.
package sage

import (
	"slices"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/layers"
	"github.com/gomlx/galileo/models"
	"github.com/gomlx/galileo/transforms"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// Config of the SAGE encoders.
type Config struct {
	// Fanouts used to sample the neighborhoods: one SAGE layer is created per hop.
	Fanouts []int

	// HiddenDim is the output dimension of the hidden layers, and of the last layer of the
	// unsupervised model.
	HiddenDim int

	// NumClasses is the output dimension of the supervised model.
	NumClasses int

	// Aggregator of the SAGE layers, see layers.AggregatorMean.
	Aggregator string

	// DropoutRate applied to the inputs of each layer during training.
	DropoutRate float64

	// SparseVocabSizes and SparseEmbeddingDim configure the embedding of the sparse features, if any.
	SparseVocabSizes   []int
	SparseEmbeddingDim int
}

func (c Config) validate(supervised bool) error {
	if len(c.Fanouts) == 0 || slices.ContainsFunc(c.Fanouts, func(f int) bool { return f <= 0 }) {
		return errors.Errorf("sage: invalid fanouts %v", c.Fanouts)
	}
	if c.HiddenDim <= 0 {
		return errors.Errorf("sage: hidden dim must be > 0, got %d", c.HiddenDim)
	}
	if supervised && c.NumClasses <= 0 {
		return errors.Errorf("sage: number of classes must be > 0, got %d", c.NumClasses)
	}
	return nil
}

// layerConfig returns the configuration of layer ii, of numLayers: hidden layers use relu.
func (c Config) layerConfig(ii, numLayers, outputDim int) layers.SAGEConfig {
	config := layers.SAGEConfig{OutputDim: c.HiddenDim, Aggregator: c.Aggregator, Activation: "relu"}
	if ii == numLayers-1 {
		config.OutputDim = outputDim
		config.Activation = ""
	}
	return config
}

// combineFeatures applies layers.FeatureCombiner to the features in batch.
func (c Config) combineFeatures(ctx *context.Context, batch *tensors.Batch) (*tensors.Tensor[float32], layers.Backward, error) {
	dense, sparse := batch.Float(transforms.DenseKey), batch.Int(transforms.SparseKey)
	if dense == nil && sparse == nil {
		return nil, nil, errors.Errorf("sage: batch has no %q or %q features, got keys %v",
			transforms.DenseKey, transforms.SparseKey, batch.Keys())
	}
	features, backward := layers.FeatureCombiner(ctx, dense, sparse, c.SparseVocabSizes, c.SparseEmbeddingDim)
	return features, backward, nil
}

// blocksDropout applies dropout to each block.
func blocksDropout(ctx *context.Context, blocks []*tensors.Tensor[float32], rate float64) ([]*tensors.Tensor[float32], layers.BlocksBackward) {
	outputs := make([]*tensors.Tensor[float32], len(blocks))
	backwards := make([]layers.Backward, len(blocks))
	for ii, block := range blocks {
		outputs[ii], backwards[ii] = layers.Dropout(ctx, block, rate)
	}
	return outputs, func(grads []*tensors.Tensor[float32]) []*tensors.Tensor[float32] {
		for ii, g := range grads {
			grads[ii] = backwards[ii](g)
		}
		return grads
	}
}

// SupervisedEncoder returns the logits `[B, NumClasses]` of the root vertices of the dense neighborhoods
// `[B, W, D]` in the batch: the features are combined, split per hop and aggregated by one SAGELayer per hop.
func SupervisedEncoder(config Config) (models.EncoderFn, error) {
	if err := config.validate(true); err != nil {
		return nil, err
	}
	bipartite, err := transforms.NewBipartite(config.Fanouts)
	if err != nil {
		return nil, err
	}
	numLayers := len(config.Fanouts)
	return func(ctx *context.Context, batch *tensors.Batch, _ string) (*tensors.Tensor[float32], layers.Backward, error) {
		features, combinerBackward, err := config.combineFeatures(ctx, batch)
		if err != nil {
			return nil, nil, err
		}
		blocks := bipartite.Split(features)
		backwards := make([]layers.BlocksBackward, 0, 2*numLayers)
		for ii := range numLayers {
			var backward layers.BlocksBackward
			blocks, backward = blocksDropout(ctx, blocks, config.DropoutRate)
			backwards = append(backwards, backward)
			blocks, backward = layers.SAGELayer(ctx.Inf("layer_%d", ii), blocks, config.Fanouts,
				config.layerConfig(ii, numLayers, config.NumClasses))
			backwards = append(backwards, backward)
		}
		logits := blocks[0]
		backward := func(gradLogits *tensors.Tensor[float32]) *tensors.Tensor[float32] {
			grads := []*tensors.Tensor[float32]{gradLogits}
			for _, b := range slices.Backward(backwards) {
				grads = b(grads)
			}
			return combinerBackward(bipartite.Merge(grads))
		}
		return logits, backward, nil
	}, nil
}

// NewSupervised creates the supervised GraphSAGE model.
func NewSupervised(config Config) (*models.Supervised, error) {
	encoder, err := SupervisedEncoder(config)
	if err != nil {
		return nil, err
	}
	return &models.Supervised{Encoder: encoder}, nil
}

// UnsupervisedEncoder returns the embeddings `[N, HiddenDim]` of the root vertices of the sparse
// neighborhoods of the given role in the batch (see transforms.MultiHopFeatureNegSparse): the features of the
// unique vertices are combined, and aggregated over the relation graph by one SAGESparseLayer per hop.
func UnsupervisedEncoder(config Config) (models.EncoderFn, error) {
	if err := config.validate(false); err != nil {
		return nil, err
	}
	relation, err := transforms.NewRelation(config.Fanouts, false)
	if err != nil {
		return nil, err
	}
	numLayers := len(config.Fanouts)
	return func(ctx *context.Context, batch *tensors.Batch, role string) (*tensors.Tensor[float32], layers.Backward, error) {
		roleBatch := transforms.RoleBatch(batch, role)
		indices, err := roleBatch.RequireInt(transforms.IndicesKey)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "sage: role %q", role)
		}
		graph, err := relation.Graph(indices, roleBatch.Float(transforms.EdgeWeightKey))
		if err != nil {
			return nil, nil, err
		}
		features, combinerBackward, err := config.combineFeatures(ctx, roleBatch)
		if err != nil {
			return nil, nil, err
		}
		backwards := make([]layers.Backward, 0, 2*numLayers)
		for ii := range numLayers {
			var backward layers.Backward
			features, backward = layers.Dropout(ctx, features, config.DropoutRate)
			backwards = append(backwards, backward)
			features, backward = layers.SAGESparseLayer(ctx.Inf("layer_%d", ii), features, graph,
				config.layerConfig(ii, numLayers, config.HiddenDim))
			backwards = append(backwards, backward)
		}
		targets := graph.Targets.Data()
		embeddings := tensors.Gather(features, targets)
		numVertices := features.Dim(0)
		backward := func(gradEmbeddings *tensors.Tensor[float32]) *tensors.Tensor[float32] {
			grad := tensors.Zeros[float32](numVertices, gradEmbeddings.Dim(-1))
			for row, target := range targets {
				dst := grad.Row(int(target))
				for jj, v := range gradEmbeddings.Row(row) {
					dst[jj] += v
				}
			}
			for _, b := range slices.Backward(backwards) {
				grad = b(grad)
			}
			return combinerBackward(grad)
		}
		return embeddings, backward, nil
	}, nil
}

// NewUnsupervised creates the unsupervised GraphSAGE model, with one encoder shared by target, context and
// negative vertices.
func NewUnsupervised(config Config) (*models.Unsupervised, error) {
	encoder, err := UnsupervisedEncoder(config)
	if err != nil {
		return nil, err
	}
	return &models.Unsupervised{TargetEncoder: encoder}, nil
}
