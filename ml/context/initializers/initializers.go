// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package initializers include several weight initializers, to be used with context.
// They implement context.VariableInitializer type.
package initializers

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/types/tensors"
)

// VariableInitializer returns the initial value of a variable with the given dimensions,
// drawing any randomness from rng.
type VariableInitializer func(rng *rand.Rand, dims []int) *tensors.Tensor[float32]

// Zero initializes variables with zero.
func Zero(_ *rand.Rand, dims []int) *tensors.Tensor[float32] {
	return tensors.Zeros[float32](dims...)
}

// One initializes variables with one.
func One(_ *rand.Rand, dims []int) *tensors.Tensor[float32] {
	return tensors.Full[float32](1, dims...)
}

// RandomUniformFn returns an initializer that draws values uniformly in [minValue, maxValue).
func RandomUniformFn(minValue, maxValue float64) VariableInitializer {
	if maxValue < minValue {
		exceptions.Panicf("RandomUniformFn(%g, %g): maxValue must be >= minValue", minValue, maxValue)
	}
	return func(rng *rand.Rand, dims []int) *tensors.Tensor[float32] {
		t := tensors.Zeros[float32](dims...)
		for ii := range t.Data() {
			t.Data()[ii] = float32(minValue + rng.Float64()*(maxValue-minValue))
		}
		return t
	}
}

// RandomNormalFn returns an initializer that draws values from a normal distribution with
// mean 0 and the given standard deviation.
func RandomNormalFn(stddev float64) VariableInitializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor[float32] {
		t := tensors.Zeros[float32](dims...)
		for ii := range t.Data() {
			t.Data()[ii] = float32(rng.NormFloat64() * stddev)
		}
		return t
	}
}

// computeFanInFanOut of a variable that is expected to be multiplied from the left (the last
// axis is the output dimension). Leading axes other than the last two count as receptive field.
func computeFanInFanOut(dims []int) (fanIn, fanOut int) {
	switch len(dims) {
	case 0:
		return 1, 1
	case 1:
		return dims[0], dims[0]
	}
	receptive := 1
	for _, dim := range dims[:len(dims)-2] {
		receptive *= dim
	}
	fanIn = dims[len(dims)-2] * receptive
	fanOut = dims[len(dims)-1] * receptive
	return
}

// GlorotUniformFn returns a Glorot (aka. Xavier) uniform initializer: values drawn uniformly
// in [-limit, limit], with limit = sqrt(6 / (fanIn + fanOut)).
func GlorotUniformFn() VariableInitializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor[float32] {
		fanIn, fanOut := computeFanInFanOut(dims)
		limit := math.Sqrt(6 / float64(fanIn+fanOut))
		return RandomUniformFn(-limit, limit)(rng, dims)
	}
}

// XavierNormalFn returns an initializer that draws from a normal distribution with
// stddev = sqrt(2 / (fanIn + fanOut)).
func XavierNormalFn() VariableInitializer {
	return func(rng *rand.Rand, dims []int) *tensors.Tensor[float32] {
		fanIn, fanOut := computeFanInFanOut(dims)
		return RandomNormalFn(math.Sqrt(2/float64(fanIn+fanOut)))(rng, dims)
	}
}
