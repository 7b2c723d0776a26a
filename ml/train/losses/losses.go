// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have several standard losses that implement the LossFn interface, used by the supervised
// models, and the sampled-softmax style loss of the unsupervised models (SigmoidCrossEntropyWithNegatives).
//
// Losses return the loss reduced (mean) over the batch, and the gradient of the reduced loss with respect
// to the predictions.
package losses

import (
	"maps"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/types/tensors"
)

// LossFn is the interface used by the supervised models to train.
//
// It takes as inputs the labels and predictions, both shaped `[batch_size, ...]`, and returns the mean loss
// over the batch and its gradient with respect to the predictions.
type LossFn func(labels, predictions *tensors.Tensor[float32]) (loss float32, grad *tensors.Tensor[float32])

// ParamLoss is the context parameter with the name of the loss used by supervised models.
// See KnownLosses. The default is "multi_label_sm".
var ParamLoss = "loss"

// KnownLosses maps loss names to their implementation.
var KnownLosses = map[string]LossFn{
	"multi_label_sm":  CategoricalCrossEntropyLogits,
	"multi_label_sig": BinaryCrossentropyLogits,
	"mse":             MeanSquaredError,
}

// ByName returns the loss with the given name, or panics if it doesn't exist.
func ByName(name string) LossFn {
	fn, found := KnownLosses[name]
	if !found {
		exceptions.Panicf("unknown loss %q, valid values are %q", name, slices.Sorted(maps.Keys(KnownLosses)))
	}
	return fn
}

// FromContext returns the loss configured by ParamLoss.
func FromContext(ctx *context.Context) LossFn {
	return ByName(context.GetParamOr(ctx, ParamLoss, "multi_label_sm"))
}

func checkSameShape(labels, predictions *tensors.Tensor[float32]) {
	if !slices.Equal(labels.Dims(), predictions.Dims()) {
		exceptions.Panicf("labels (%s) and predictions (%s) must have same shape", labels.ShapeString(), predictions.ShapeString())
	}
}

// MeanSquaredError returns the mean squared error between labels and predictions.
//
// labels and predictions must have the same shape.
func MeanSquaredError(labels, predictions *tensors.Tensor[float32]) (float32, *tensors.Tensor[float32]) {
	checkSameShape(labels, predictions)
	grad := tensors.Zeros[float32](predictions.Dims()...)
	n := float64(max(predictions.Size(), 1))
	var loss float64
	for ii, p := range predictions.Data() {
		diff := float64(p - labels.Data()[ii])
		loss += diff * diff
		grad.Data()[ii] = float32(2 * diff / n)
	}
	return float32(loss / n), grad
}

// BinaryCrossentropyLogits returns the cross-entropy loss between labels and `sigmoid(logits)`,
// for binary (or multi-label) classification tasks, averaged over all elements.
// This is a more numerically stable implementation than actually taking the sigmoid of
// the logits.
//
// labels and logits must have the same shape, and labels are expected to be 1.0 (for true) or 0.0 for false.
//
// See mathematical derivation of the stable solution in
// https://www.tensorflow.org/api_docs/python/tf/nn/sigmoid_cross_entropy_with_logits
func BinaryCrossentropyLogits(labels, logits *tensors.Tensor[float32]) (float32, *tensors.Tensor[float32]) {
	checkSameShape(labels, logits)
	grad := tensors.Zeros[float32](logits.Dims()...)
	n := float64(max(logits.Size(), 1))
	var loss float64
	for ii, x := range logits.Data() {
		z := float64(labels.Data()[ii])
		loss += Softplus(float64(x)) - float64(x)*z
		grad.Data()[ii] = float32((sigmoid(float64(x)) - z) / n)
	}
	return float32(loss / n), grad
}

// CategoricalCrossEntropyLogits returns the cross-entropy loss of the softmax of the logits `[batch_size, classes]`,
// given the labels. The labels are provided in "dense" format (one-hot or multi-hot), with the same shape
// as logits.
//
// The loss of each example is `-sum(labels * log(softmax(logits)))`, and it is averaged over the batch.
func CategoricalCrossEntropyLogits(labels, logits *tensors.Tensor[float32]) (float32, *tensors.Tensor[float32]) {
	checkSameShape(labels, logits)
	if logits.Rank() != 2 {
		exceptions.Panicf("CategoricalCrossEntropyLogits requires logits shaped [batch_size, classes], got %s", logits.ShapeString())
	}
	batchSize := logits.Dim(0)
	grad := tensors.Zeros[float32](logits.Dims()...)
	var loss float64
	for row := range batchSize {
		x, y, g := logits.Row(row), labels.Row(row), grad.Row(row)
		logSumExp := LogSumExp(x)
		var sumLabels float64
		for ii, v := range x {
			loss -= float64(y[ii]) * (float64(v) - logSumExp)
			sumLabels += float64(y[ii])
		}
		for ii, v := range x {
			softmax := math.Exp(float64(v) - logSumExp)
			g[ii] = float32((softmax*sumLabels - float64(y[ii])) / float64(batchSize))
		}
	}
	return float32(loss / float64(max(batchSize, 1))), grad
}

// SigmoidCrossEntropyWithNegatives is the loss of the unsupervised models: given the logits of the positive
// pairs `[batch_size]` and of the negative pairs `[batch_size, num_negatives]`, it returns the mean over the
// batch of `softplus(-positive) + sum(softplus(negative))`, that is, the binary cross-entropy of classifying
// the positive pair as true and the negative pairs as false.
//
// It returns the gradients with respect to positive and negative logits.
func SigmoidCrossEntropyWithNegatives(positive, negative *tensors.Tensor[float32]) (loss float32,
	gradPositive, gradNegative *tensors.Tensor[float32]) {
	batchSize := positive.Size()
	if negative.Rank() != 2 || negative.Dim(0) != batchSize {
		exceptions.Panicf("SigmoidCrossEntropyWithNegatives: negative logits must be shaped [%d, num_negatives], got %s",
			batchSize, negative.ShapeString())
	}
	n := float64(max(batchSize, 1))
	gradPositive = tensors.Zeros[float32](positive.Dims()...)
	gradNegative = tensors.Zeros[float32](negative.Dims()...)
	var total float64
	for ii, x := range positive.Data() {
		total += Softplus(-float64(x))
		gradPositive.Data()[ii] = float32(-sigmoid(-float64(x)) / n)
	}
	for ii, x := range negative.Data() {
		total += Softplus(float64(x))
		gradNegative.Data()[ii] = float32(sigmoid(float64(x)) / n)
	}
	return float32(total / n), gradPositive, gradNegative
}

// Softplus returns `log(1 + exp(x))`, computed in a numerically stable way.
func Softplus(x float64) float64 {
	return max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// LogSumExp returns `log(sum(exp(x)))`, computed in a numerically stable way.
func LogSumExp(x []float32) float64 {
	if len(x) == 0 {
		return math.Inf(-1)
	}
	maxValue := float64(slices.Max(x))
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v) - maxValue)
	}
	return maxValue + math.Log(sum)
}
