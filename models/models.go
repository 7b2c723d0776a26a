// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements the two kinds of GNN models trained by train.Trainer:
//
//   - Unsupervised: it encodes target, context and negative vertices, and trains the encoders so that
//     the dot product of a target with its context is large, and with its negatives small.
//   - Supervised: it encodes the vertices into logits, trained against their labels.
//
// The encoders (see EncoderFn) are provided by the concrete models, see sub-packages node2vec and sage.
package models

import (
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/layers"
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/ml/train/losses"
	"github.com/gomlx/galileo/ml/train/metrics"
	"github.com/gomlx/galileo/transforms"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// EncoderFn encodes the vertices of the given role of a batch (see transforms.Roles) into their
// representations `[N, dim]`. Supervised models call it with an empty role.
//
// The returned backward accumulates the gradients of the encoder variables: its returned value is
// ignored.
type EncoderFn func(ctx *context.Context, batch *tensors.Batch, role string) (*tensors.Tensor[float32], layers.Backward, error)

// Unsupervised model, trained with SigmoidCrossEntropyWithNegatives on the dot products of the target
// representations with the context (positive) and negative representations. It reports the mrr metric.
type Unsupervised struct {
	// TargetEncoder encodes the target vertices.
	TargetEncoder EncoderFn

	// ContextEncoder encodes the context and negative vertices. If nil, TargetEncoder is shared
	// by all roles.
	ContextEncoder EncoderFn
}

var _ train.Model = (*Unsupervised)(nil)

// Scopes of the encoder variables.
const (
	EncoderScope        = "encoder"
	TargetEncoderScope  = "target_encoder"
	ContextEncoderScope = "context_encoder"
)

// encode calls the encoders for each role: shared encoders reuse the variables created by the first call.
func (m *Unsupervised) encode(ctx *context.Context, batch *tensors.Batch) (reps []*tensors.Tensor[float32], backwards []layers.Backward, err error) {
	var targetCtx, contextCtx *context.Context
	contextEncoder := m.ContextEncoder
	if contextEncoder == nil {
		contextEncoder = m.TargetEncoder
		targetCtx = ctx.In(EncoderScope)
		contextCtx = targetCtx.Reuse()
	} else {
		targetCtx = ctx.In(TargetEncoderScope)
		contextCtx = ctx.In(ContextEncoderScope)
	}
	reps = make([]*tensors.Tensor[float32], len(transforms.Roles))
	backwards = make([]layers.Backward, len(transforms.Roles))
	for ii, role := range transforms.Roles {
		encoder, encoderCtx := contextEncoder, contextCtx
		switch role {
		case transforms.TargetKey:
			encoder, encoderCtx = m.TargetEncoder, targetCtx
		case transforms.NegativeKey:
			encoderCtx = contextCtx.Reuse()
		}
		reps[ii], backwards[ii], err = encoder(encoderCtx, batch, role)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "encoding %s vertices", role)
		}
	}
	return
}

// Logits returns the dot products of each target with its context `[B]` and with its negatives
// `[B, K]`.
func Logits(target, contexts, negative *tensors.Tensor[float32]) (positive, negatives *tensors.Tensor[float32], err error) {
	batchSize, dim := target.Dim(0), target.Dim(-1)
	if contexts.Dim(0) != batchSize || contexts.Dim(-1) != dim || negative.Dim(-1) != dim {
		return nil, nil, errors.Errorf("incompatible representations: target %s, context %s, negative %s",
			target.ShapeString(), contexts.ShapeString(), negative.ShapeString())
	}
	if batchSize == 0 || negative.Dim(0)%batchSize != 0 {
		return nil, nil, errors.Errorf("%d negatives for %d targets", negative.Dim(0), batchSize)
	}
	numNegatives := negative.Dim(0) / batchSize
	positive = tensors.Zeros[float32](batchSize)
	negatives = tensors.Zeros[float32](batchSize, numNegatives)
	for b := range batchSize {
		t := target.Row(b)
		positive.Data()[b] = dot(t, contexts.Row(b))
		for k := range numNegatives {
			negatives.Data()[b*numNegatives+k] = dot(t, negative.Row(b*numNegatives+k))
		}
	}
	return
}

func dot(a, b []float32) (sum float32) {
	for ii, v := range a {
		sum += v * b[ii]
	}
	return
}

// axpy adds alpha*x to y.
func axpy(alpha float32, x, y []float32) {
	for ii, v := range x {
		y[ii] += alpha * v
	}
}

// Step implements train.Model.
func (m *Unsupervised) Step(ctx *context.Context, batch *tensors.Batch) (*train.Output, error) {
	reps, backwards, err := m.encode(ctx, batch)
	if err != nil {
		return nil, err
	}
	target, contexts, negative := reps[0], reps[1], reps[2]
	positive, negatives, err := Logits(target, contexts, negative)
	if err != nil {
		return nil, err
	}
	loss, gradPositive, gradNegatives := losses.SigmoidCrossEntropyWithNegatives(positive, negatives)
	output := &train.Output{
		Loss:      loss,
		Metrics:   map[string]float64{metrics.MRRMetricType: metrics.MRR(positive, negatives)},
		BatchSize: target.Dim(0),
	}
	if !ctx.IsTraining() {
		return output, nil
	}

	numNegatives := negatives.Dim(1)
	gradTarget := tensors.Zeros[float32](target.Dims()...)
	gradContext := tensors.Zeros[float32](contexts.Dims()...)
	gradNegative := tensors.Zeros[float32](negative.Dims()...)
	for b := range target.Dim(0) {
		gp := gradPositive.Data()[b]
		axpy(gp, contexts.Row(b), gradTarget.Row(b))
		axpy(gp, target.Row(b), gradContext.Row(b))
		for k, gn := range gradNegatives.Row(b) {
			row := b*numNegatives + k
			axpy(gn, negative.Row(row), gradTarget.Row(b))
			axpy(gn, target.Row(b), gradNegative.Row(row))
		}
	}
	backwards[0](gradTarget)
	backwards[1](gradContext)
	backwards[2](gradNegative)
	return output, nil
}

// Predict implements train.Model: it returns the representations of the target vertices.
func (m *Unsupervised) Predict(ctx *context.Context, batch *tensors.Batch) (*tensors.Tensor[float32], error) {
	scope := TargetEncoderScope
	if m.ContextEncoder == nil {
		scope = EncoderScope
	}
	output, _, err := m.TargetEncoder(ctx.In(scope), batch, transforms.TargetKey)
	return output, err
}

// MetricTypes implements train.Model.
func (m *Unsupervised) MetricTypes() []string {
	return []string{metrics.MRRMetricType}
}

// Supervised model: the encoder outputs logits, trained against the labels (transforms.LabelKey) with
// Loss. It reports the acc metric.
type Supervised struct {
	Encoder EncoderFn

	// Loss defaults to the one configured in the context, see losses.FromContext.
	Loss losses.LossFn
}

var _ train.Model = (*Supervised)(nil)

// Step implements train.Model.
func (m *Supervised) Step(ctx *context.Context, batch *tensors.Batch) (*train.Output, error) {
	labels, err := batch.RequireFloat(transforms.LabelKey)
	if err != nil {
		return nil, err
	}
	logits, backward, err := m.Encoder(ctx.In(EncoderScope), batch, "")
	if err != nil {
		return nil, err
	}
	if logits.Rank() != 2 || logits.Dim(0) != labels.Dim(0) || logits.Dim(1) != labels.Dim(-1) {
		return nil, errors.Errorf("logits shaped %s don't match labels shaped %s", logits.ShapeString(), labels.ShapeString())
	}
	labels = labels.Reshape(logits.Dims()...)
	lossFn := m.Loss
	if lossFn == nil {
		lossFn = losses.FromContext(ctx)
	}
	loss, grad := lossFn(labels, logits)
	if ctx.IsTraining() {
		backward(grad)
	}
	return &train.Output{
		Loss:      loss,
		Metrics:   map[string]float64{metrics.AccuracyMetricType: metrics.Accuracy(logits, labels)},
		BatchSize: logits.Dim(0),
	}, nil
}

// Predict implements train.Model: it returns the logits.
func (m *Supervised) Predict(ctx *context.Context, batch *tensors.Batch) (*tensors.Tensor[float32], error) {
	logits, _, err := m.Encoder(ctx.In(EncoderScope), batch, "")
	return logits, err
}

// MetricTypes implements train.Model.
func (m *Supervised) MetricTypes() []string {
	return []string{metrics.AccuracyMetricType}
}
