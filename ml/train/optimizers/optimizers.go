// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers, that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
//
// Optimizers update the trainable variables of a context.Context with the gradients accumulated by the
// layers' backward functions. Row sparse variables (embedding tables) are only updated on the rows
// that received gradients.
package optimizers

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/types/tensors"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Name of the optimizer, as in KnownOptimizers.
	Name() string

	// Apply updates the trainable variables of ctx that have accumulated gradients, and increments the
	// global step.
	//
	// The optimizer may create non-trainable variables (e.g. moments) to hold its state, under the
	// scope Scope.
	Apply(ctx *context.Context)

	// Clear deletes all temporary state used by the optimizer.
	Clear(ctx *context.Context)
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	KnownOptimizers = map[string]func(ctx *context.Context) Interface{
		"sgd":     func(ctx *context.Context) Interface { return StochasticGradientDescent() },
		"adam":    func(ctx *context.Context) Interface { return Adam().FromContext(ctx).Done() },
		"adagrad": func(ctx *context.Context) Interface { return Adagrad() },
	}

	// ParamOptimizer is the context parameter with the name of the optimizer.
	// The default value is "adam", and the valid values are "sgd", "adam" and "adagrad".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the context parameter name for the default value of learning rate.
	// It is used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a clip scalar value for each individual value of the gradient step, after
	// being scaled by the learning rate and optimizer.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"
)

const (
	// GlobalStepVariableName as stored in context.Context, in the root scope.
	GlobalStepVariableName = "global_step"

	// Scope reserved for optimizers.
	Scope = "optimizers"
)

// FromContext creates an optimizer from context hyperparameters.
// See [ParamOptimizer]. The default is "adam".
func FromContext(ctx *context.Context) Interface {
	optName := context.GetParamOr(ctx, ParamOptimizer, "adam")
	return ByName(ctx, optName)
}

// ByName returns an optimizer given the name, or panics if one does not exist.
func ByName(ctx *context.Context, optName string) Interface {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		exceptions.Panicf("unknown optimizer %q, valid values are %v", optName, slices.Sorted(maps.Keys(KnownOptimizers)))
	}
	return optBuilder(ctx)
}

// GetGlobalStepVar returns the global step counter, a non-trainable variable with one value.
// It creates it (initialized with 0) if not already there.
func GetGlobalStepVar(ctx *context.Context) *context.Variable {
	ctx = ctx.InAbsPath(context.RootScope).Checked(false).WithInitializer(initializers.Zero)
	return ctx.VariableWithShape(GlobalStepVariableName, 1).SetTrainable(false)
}

// GetGlobalStep returns the current global step value.
func GetGlobalStep(ctx *context.Context) int64 {
	return int64(GetGlobalStepVar(ctx).Value().Data()[0])
}

// IncrementGlobalStep increments the global step and returns the new value: its first returned value
// will be 1.
func IncrementGlobalStep(ctx *context.Context) int64 {
	v := GetGlobalStepVar(ctx)
	v.Value().Data()[0]++
	return int64(v.Value().Data()[0])
}

// LearningRate returns the learning rate for the current global step: the ParamLearningRate
// hyperparameter (or defaultValue), adjusted by the cosine schedule if configured (see
// ParamCosineScheduleSteps).
func LearningRate(ctx *context.Context, defaultValue float64) float64 {
	lr := context.GetParamOr(ctx, ParamLearningRate, defaultValue)
	return CosineSchedule(ctx, lr, GetGlobalStep(ctx))
}

// clipStep applies the ParamClipStepByValue hyperparameter, if not 0.
func clipStep(clip, step float32) float32 {
	if clip <= 0 {
		return step
	}
	return min(max(step, -clip), clip)
}

// trainableWithGrad returns the trainable variables with accumulated gradients. It's a snapshot, so
// the optimizer can create its state variables while iterating.
func trainableWithGrad(ctx *context.Context) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.IterVariables() {
		if v.Trainable && v.HasGrad() {
			vars = append(vars, v)
		}
	}
	return vars
}

// forEachSlice calls fn with the slices of the value and gradient of v to update, and their offset in
// the flat data: all of it for dense variables, and each touched row for row sparse variables.
func forEachSlice(v *context.Variable, fn func(offset int, value, grad []float32)) {
	value, grad := v.Value().Data(), v.Grad().Data()
	if !v.IsRowSparse() {
		fn(0, value, grad)
		return
	}
	rowSize := v.Size() / v.Dims()[0]
	for _, row := range v.TouchedRows() {
		offset := row * rowSize
		fn(offset, value[offset:offset+rowSize], grad[offset:offset+rowSize])
	}
}

// stateVariable returns the optimizer state variable for v, with the same shape, in the scope
// "/optimizers/<optimizer>/<v scope>". It's created with the initializer if it doesn't exist.
func stateVariable(ctx *context.Context, optimizer string, v *context.Variable, suffix string, initializer context.VariableInitializer) *tensors.Tensor[float32] {
	scope := context.JoinScope(context.JoinScope(context.RootScope, Scope), optimizer)
	if v.Scope() != context.RootScope {
		scope += v.Scope()
	}
	stateCtx := ctx.InAbsPath(scope).Checked(false).WithInitializer(initializer)
	return stateCtx.VariableWithShape(v.Name()+suffix, v.Dims()...).SetTrainable(false).Value()
}

// deleteScope removes all state of the given optimizer.
func deleteScope(ctx *context.Context, optimizer string) {
	ctx.DeleteVariablesInScope(context.JoinScope(context.JoinScope(context.RootScope, Scope), optimizer))
}

// SgdDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
const SgdDefaultLearningRate = 0.1

// sgd implements Interface for SGD.
type sgd struct{}

// StochasticGradientDescent creates an optimizer that performs SGD.
// It looks for "learning_rate" in Context.Params for the learning rate, otherwise it defaults to
// SgdDefaultLearningRate.
func StochasticGradientDescent() Interface {
	return &sgd{}
}

// Name implements Interface.
func (o *sgd) Name() string { return "sgd" }

// Apply implements Interface.
func (o *sgd) Apply(ctx *context.Context) {
	lr := float32(LearningRate(ctx, SgdDefaultLearningRate))
	clip := float32(context.GetParamOr(ctx, ParamClipStepByValue, 0.0))
	for _, v := range trainableWithGrad(ctx) {
		forEachSlice(v, func(_ int, value, grad []float32) {
			for ii, g := range grad {
				value[ii] -= clipStep(clip, lr*g)
			}
		})
	}
	IncrementGlobalStep(ctx)
}

// Clear implements Interface. There is no state for SGD, so this is a no-op.
func (o *sgd) Clear(_ *context.Context) {}
