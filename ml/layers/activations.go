// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/types/tensors"
)

const (
	// ParamActivation context hyperparameter defines the activation to use, for models using ActivationFromContext.
	// Available values are: `none`, `relu`, `leaky_relu`, `sigmoid` or `tanh`.
	// The default is `relu`.
	ParamActivation = "activation"
)

// ActivationFromContext picks an activation function from the context using [ParamActivation] parameter,
// and applies it to `x`.
func ActivationFromContext(ctx *context.Context, x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	activation := context.GetParamOr(ctx, ParamActivation, "relu")
	return Activation(activation, x)
}

// Activation allows a configurable activation.
// Currently supported activations are "none", "relu", "leaky_relu", "sigmoid" and "tanh".
func Activation(activation string, x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	switch activation {
	case "none", "":
		return x, Identity
	case "relu":
		return Relu(x)
	case "leaky_relu":
		return LeakyRelu(x)
	case "sigmoid":
		return Sigmoid(x)
	case "tanh":
		return Tanh(x)
	default:
		exceptions.Panicf("invalid activation type %q, valid types are: \"none\", \"relu\", \"leaky_relu\", \"sigmoid\", \"tanh\"", activation)
	}
	return nil, nil
}

// elementWise applies fn to every value of x. The backward multiplies the gradient by deriv, which
// receives the input and output values.
func elementWise(x *tensors.Tensor[float32], fn func(v float32) float32, deriv func(in, out float32) float32) (*tensors.Tensor[float32], Backward) {
	output := x.Clone()
	for ii, v := range output.Data() {
		output.Data()[ii] = fn(v)
	}
	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		grad := gradOutput.Clone()
		in, out := x.Data(), output.Data()
		for ii := range grad.Data() {
			grad.Data()[ii] *= deriv(in[ii], out[ii])
		}
		return grad
	}
	return output, backward
}

// Relu activation function. It returns Max(x, 0), and is commonly used as an activation function in neural networks.
func Relu(x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	return elementWise(x,
		func(v float32) float32 { return max(v, 0) },
		func(in, _ float32) float32 {
			if in > 0 {
				return 1
			}
			return 0
		})
}

// LeakyRelu activation function. It allows a small gradient when the unit is not active (x < 0).
// The `alpha` parameter is fixed at 0.3.
func LeakyRelu(x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	const alpha = 0.3
	return elementWise(x,
		func(v float32) float32 {
			if v >= 0 {
				return v
			}
			return alpha * v
		},
		func(in, _ float32) float32 {
			if in >= 0 {
				return 1
			}
			return alpha
		})
}

// SigmoidValue returns 1/(1+exp(-v)).
func SigmoidValue(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// Sigmoid activation function.
func Sigmoid(x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	return elementWise(x, SigmoidValue, func(_, out float32) float32 { return out * (1 - out) })
}

// Tanh activation function.
func Tanh(x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	return elementWise(x,
		func(v float32) float32 { return float32(math.Tanh(float64(v))) },
		func(_, out float32) float32 { return 1 - out*out })
}
