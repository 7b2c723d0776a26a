// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the modeling layers used by the GNN models: dense layer, embeddings, activations,
// dropout, feature combination and the GraphSAGE aggregation layers.
//
// Layers are computed eagerly on host tensors. Each returns its output and a Backward function that,
// given the gradient of the loss with respect to the output, accumulates the gradients of the variables
// it used (see context.Variable) and returns the gradient with respect to its input.
//
// A small convention on naming: typically layers are nouns (like "Dense", "Embedding", "SAGELayer"),
// while computations are usually verbs ("MatMul", "Normalize", etc.).
package layers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/types/tensors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	// ParamDropoutRate context hyperparameter defines the amount of dropout applied when DropoutFromContext is used.
	// Should be a value from `0.0` to `1.0`, where 0 means no dropout, and 1 would drop everything out.
	//
	// It is only applied if `Context.IsTraining() == true`, that is, during evaluation/inference it is
	// ignored.
	//
	// The default is `0.0`, which means no dropout.
	ParamDropoutRate = "dropout_rate"
)

// Backward receives the gradient of the loss with respect to the output of a layer, accumulates the
// gradients of the layer variables, and returns the gradient with respect to the layer input.
//
// Layers whose input is not differentiable (e.g. Embedding indices) return nil.
type Backward func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32]

// Identity is a Backward that passes the gradient through.
func Identity(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] { return gradOutput }

// MatMul returns `op(a) x op(b)`, where op transposes the rank-2 operand if the corresponding flag is set.
func MatMul(a, b *tensors.Tensor[float32], transA, transB bool) *tensors.Tensor[float32] {
	if a.Rank() != 2 || b.Rank() != 2 {
		exceptions.Panicf("MatMul requires rank-2 operands, got %s and %s", a.ShapeString(), b.ShapeString())
	}
	m, k := a.Dim(0), a.Dim(1)
	if transA {
		m, k = k, m
	}
	kb, n := b.Dim(0), b.Dim(1)
	if transB {
		kb, n = n, kb
	}
	if k != kb {
		exceptions.Panicf("MatMul: incompatible shapes %s (transposed=%v) and %s (transposed=%v)",
			a.ShapeString(), transA, b.ShapeString(), transB)
	}
	out := tensors.Zeros[float32](m, n)
	if m == 0 || n == 0 || k == 0 {
		return out
	}
	blas32.Gemm(transposeFlag(transA), transposeFlag(transB), 1,
		general(a), general(b), 0, general(out))
	return out
}

func transposeFlag(transpose bool) blas.Transpose {
	if transpose {
		return blas.Trans
	}
	return blas.NoTrans
}

func general(t *tensors.Tensor[float32]) blas32.General {
	return blas32.General{Rows: t.Dim(0), Cols: t.Dim(1), Stride: t.Dim(1), Data: t.Data()}
}

// flatten2D reshapes `[..., D]` to `[N, D]`.
func flatten2D(t *tensors.Tensor[float32]) *tensors.Tensor[float32] {
	if t.Rank() == 0 {
		exceptions.Panicf("expected a tensor of rank >= 1, got a scalar")
	}
	return t.Reshape(-1, t.Dim(-1))
}

// Dense adds a single dense linear layer, a learnable linear transformation, optionally with a bias term.
//
// The input has shape `[<batch dimensions...>, inputDim]` and the output `[<batch dimensions...>, outputDim]`.
// Weights are initialized with Glorot uniform, biases with zero.
func Dense(ctx *context.Context, input *tensors.Tensor[float32], useBias bool, outputDim int) (*tensors.Tensor[float32], Backward) {
	ctx = ctx.In("dense")
	if outputDim <= 0 {
		exceptions.Panicf("layers.Dense: outputDim must be > 0, got %d", outputDim)
	}
	inputDims := input.Dims()
	x := flatten2D(input)
	weightsVar := ctx.WithInitializer(initializers.GlorotUniformFn()).VariableWithShape("weights", x.Dim(1), outputDim)
	var biasVar *context.Variable
	if useBias {
		biasVar = ctx.WithInitializer(initializers.Zero).VariableWithShape("biases", outputDim)
	}

	output := MatMul(x, weightsVar.Value(), false, false)
	if biasVar != nil {
		bias := biasVar.Value().Data()
		for row := range output.Dim(0) {
			values := output.Row(row)
			for ii, b := range bias {
				values[ii] += b
			}
		}
	}
	outputDims := append(inputDims[:len(inputDims)-1:len(inputDims)-1], outputDim)

	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		g := flatten2D(gradOutput)
		if weightsVar.Trainable {
			weightsVar.AccumulateGrad(MatMul(x, g, true, false).Data())
		}
		if biasVar != nil && biasVar.Trainable {
			biasGrad := make([]float32, outputDim)
			for row := range g.Dim(0) {
				for ii, v := range g.Row(row) {
					biasGrad[ii] += v
				}
			}
			biasVar.AccumulateGrad(biasGrad)
		}
		return MatMul(g, weightsVar.Value(), false, true).Reshape(inputDims...)
	}
	return output.Reshape(outputDims...), backward
}

// Embedding converts each id into its row in an embedding table of vocabSize rows of the given
// dimension: the `[vocabSize, dimension]` variable "embeddings", which is row sparse.
//
// The output has shape `[len(ids), dimension]`. It panics if an id is out of range.
// The returned Backward accumulates the gradient of the used rows and returns nil.
func Embedding(ctx *context.Context, ids []int64, vocabSize, dimension int) (*tensors.Tensor[float32], Backward) {
	table := ctx.VariableWithShape("embeddings", vocabSize, dimension)
	table.SetRowSparse(true)
	for _, id := range ids {
		if id < 0 || id >= int64(vocabSize) {
			exceptions.Panicf("layers.Embedding: id %d out of range for vocabulary size %d (scope %q)",
				id, vocabSize, ctx.Scope())
		}
	}
	output := tensors.Gather(table.Value(), ids)
	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		if !table.Trainable {
			return nil
		}
		g := flatten2D(gradOutput)
		for ii, id := range ids {
			table.AccumulateRowGrad(int(id), g.Row(ii))
		}
		return nil
	}
	return output, backward
}

// Dropout randomly replaces the input values with zeros if ctx.IsTraining() is true, and scales the
// others by 1/(1-dropoutRate) to preserve the mean. Otherwise, or if dropoutRate <= 0, it's a no-op.
func Dropout(ctx *context.Context, input *tensors.Tensor[float32], dropoutRate float64) (*tensors.Tensor[float32], Backward) {
	if !ctx.IsTraining() || dropoutRate <= 0 {
		return input, Identity
	}
	if dropoutRate >= 1 {
		return tensors.Zeros[float32](input.Dims()...), func(g *tensors.Tensor[float32]) *tensors.Tensor[float32] {
			return tensors.Zeros[float32](g.Dims()...)
		}
	}
	rng := ctx.RNG()
	scale := float32(1 / (1 - dropoutRate))
	mask := make([]float32, input.Size())
	output := input.Clone()
	for ii := range mask {
		if rng.Float64() >= dropoutRate {
			mask[ii] = scale
		}
		output.Data()[ii] *= mask[ii]
	}
	backward := func(gradOutput *tensors.Tensor[float32]) *tensors.Tensor[float32] {
		grad := gradOutput.Clone()
		for ii, m := range mask {
			grad.Data()[ii] *= m
		}
		return grad
	}
	return output, backward
}

// DropoutFromContext applies a dropout configured in the context parameters keyed by ParamDropoutRate.
func DropoutFromContext(ctx *context.Context, x *tensors.Tensor[float32]) (*tensors.Tensor[float32], Backward) {
	return Dropout(ctx, x, context.GetParamOr(ctx, ParamDropoutRate, 0.0))
}
