// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/types/tensors"
)

// Output of one Model.Step.
type Output struct {
	// Loss is the mean loss over the batch.
	Loss float32

	// Metrics values for the batch, keyed by metric type (see metrics.KnownMetrics). They should include
	// all the Model.MetricTypes.
	Metrics map[string]float64

	// BatchSize is the number of examples in the batch, used to weight the metrics.
	BatchSize int
}

// Model is what a Trainer trains, evaluates and uses for predictions.
//
// Models create (or reuse) their variables in the context given, and run eagerly: the layers return the
// backward functions that the model calls to accumulate the gradients of the loss in the variables.
type Model interface {
	// Step runs the model on a batch and returns its loss and metrics. If ctx.IsTraining() it also
	// accumulates the gradients of the loss in the variables of ctx.
	Step(ctx *context.Context, batch *tensors.Batch) (*Output, error)

	// Predict returns the model outputs (e.g. embeddings or logits) `[batch_size, dim]` for the batch.
	Predict(ctx *context.Context, batch *tensors.Batch) (*tensors.Tensor[float32], error)

	// MetricTypes returns the metric types reported by Step, besides the loss.
	MetricTypes() []string
}
