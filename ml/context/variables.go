// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/types/tensors"
)

// Variable holds a weight of a model, and the gradient of the loss with respect to it, accumulated
// by the backward functions of the layers using it.
//
// Row sparse variables (see SetRowSparse) track which rows (first axis) received gradients, so
// large embedding tables are only updated (and zeroed) on the rows used by the batch.
type Variable struct {
	name, scope string

	// Trainable indicates whether variable is trainable. If false, optimizers won't touch it.
	Trainable bool

	value, grad *tensors.Tensor[float32]

	rowSparse   bool
	touchedRows []int
	isTouched   []bool
	hasGrad     bool
}

// Name of the variable within the scope.
func (v *Variable) Name() string { return v.name }

// Scope where the variable was created.
func (v *Variable) Scope() string { return v.scope }

// ScopeAndName returns the absolute path of the variable, e.g. "/dense_0/weights".
func (v *Variable) ScopeAndName() string { return JoinScope(v.scope, v.name) }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	return fmt.Sprintf("%s%v", v.ScopeAndName(), v.value.Dims())
}

// Dims of the variable value.
func (v *Variable) Dims() []int { return v.value.Dims() }

// Size returns the number of scalar values in the variable.
func (v *Variable) Size() int { return v.value.Size() }

// Value returns the current value. It's owned by the variable and can be changed in place.
func (v *Variable) Value() *tensors.Tensor[float32] { return v.value }

// SetValue replaces the value of the variable. The dimensions must match.
func (v *Variable) SetValue(value *tensors.Tensor[float32]) {
	if !slices.Equal(value.Dims(), v.value.Dims()) {
		exceptions.Panicf("Variable(%q).SetValue: dimensions %v don't match variable dimensions %v",
			v.ScopeAndName(), value.Dims(), v.value.Dims())
	}
	v.value = value
}

// SetTrainable sets the variable trainable status. Returns itself, so calls can be cascaded.
func (v *Variable) SetTrainable(trainable bool) *Variable {
	v.Trainable = trainable
	return v
}

// SetRowSparse marks the variable as row sparse: gradients are accumulated per row (first axis) with
// AccumulateRowGrad. Returns itself, so calls can be cascaded.
func (v *Variable) SetRowSparse(rowSparse bool) *Variable {
	v.rowSparse = rowSparse
	if rowSparse && v.isTouched == nil {
		v.isTouched = make([]bool, v.value.Dim(0))
	}
	return v
}

// IsRowSparse returns whether gradients of the variable are tracked per row.
func (v *Variable) IsRowSparse() bool { return v.rowSparse }

// Grad returns the accumulated gradient, with the same dimensions as the value.
// It's allocated at first use.
func (v *Variable) Grad() *tensors.Tensor[float32] {
	if v.grad == nil {
		v.grad = tensors.Zeros[float32](v.value.Dims()...)
	}
	return v.grad
}

// HasGrad returns whether any gradient was accumulated since the last ZeroGrad.
func (v *Variable) HasGrad() bool { return v.hasGrad }

// AccumulateGrad adds grad, with the same number of elements as the variable, to the accumulated gradient.
func (v *Variable) AccumulateGrad(grad []float32) {
	if len(grad) != v.value.Size() {
		exceptions.Panicf("Variable(%q).AccumulateGrad: gradient has %d elements, variable has %d",
			v.ScopeAndName(), len(grad), v.value.Size())
	}
	data := v.Grad().Data()
	for ii, g := range grad {
		data[ii] += g
	}
	if v.rowSparse {
		for row := range v.isTouched {
			v.touchRow(row)
		}
	}
	v.hasGrad = true
}

// AccumulateRowGrad adds grad to the gradient of the given row (first axis).
func (v *Variable) AccumulateRowGrad(row int, grad []float32) {
	rowGrad := v.Grad().Row(row)
	if len(grad) != len(rowGrad) {
		exceptions.Panicf("Variable(%q).AccumulateRowGrad: gradient has %d elements, rows have %d",
			v.ScopeAndName(), len(grad), len(rowGrad))
	}
	for ii, g := range grad {
		rowGrad[ii] += g
	}
	if v.rowSparse {
		v.touchRow(row)
	}
	v.hasGrad = true
}

func (v *Variable) touchRow(row int) {
	if !v.isTouched[row] {
		v.isTouched[row] = true
		v.touchedRows = append(v.touchedRows, row)
	}
}

// TouchedRows returns the rows that received gradients since the last ZeroGrad, for row sparse
// variables. It returns nil for dense variables.
func (v *Variable) TouchedRows() []int {
	if !v.rowSparse {
		return nil
	}
	return v.touchedRows
}

// ScaleGrad multiplies the accumulated gradient by scale. For row sparse variables only the touched rows
// are scaled.
func (v *Variable) ScaleGrad(scale float32) {
	if v.grad == nil || !v.hasGrad {
		return
	}
	scaleValues := func(values []float32) {
		for ii := range values {
			values[ii] *= scale
		}
	}
	if !v.rowSparse {
		scaleValues(v.grad.Data())
		return
	}
	for _, row := range v.touchedRows {
		scaleValues(v.grad.Row(row))
	}
}

// ZeroGrad resets the accumulated gradient. For row sparse variables only the touched rows are zeroed.
func (v *Variable) ZeroGrad() {
	if v.grad == nil || !v.hasGrad {
		return
	}
	if v.rowSparse {
		for _, row := range v.touchedRows {
			clear(v.grad.Row(row))
			v.isTouched[row] = false
		}
		v.touchedRows = v.touchedRows[:0]
	} else {
		clear(v.grad.Data())
	}
	v.hasGrad = false
}

// GetVariableByScopeAndName returns the variable with the given scope and name, or nil if it doesn't exist.
// It is not affected by Reuse checks.
func (ctx *Context) GetVariableByScopeAndName(scope, name string) *Variable {
	if scopeVars, found := ctx.data.variablesMap[scope]; found {
		return scopeVars[name]
	}
	return nil
}

// InspectVariable is an alias to GetVariableByScopeAndName.
func (ctx *Context) InspectVariable(scope, name string) *Variable {
	return ctx.GetVariableByScopeAndName(scope, name)
}

// GetVariable returns the variable with the given name in the current scope, or nil.
func (ctx *Context) GetVariable(name string) *Variable {
	return ctx.GetVariableByScopeAndName(ctx.scope, name)
}

// checkedVariable applies the Reuse/Unique checks, and returns the existing variable if any.
// Otherwise, it returns the loaded value, if the loader has one.
func (ctx *Context) checkedVariable(name string) (v *Variable, loaded *tensors.Tensor[float32]) {
	if name == "" {
		exceptions.Panicf("cannot create variable with empty name in scope %q", ctx.scope)
	}
	v = ctx.GetVariable(name)
	if v != nil {
		if ctx.checked && !ctx.reuse {
			exceptions.Panicf("variable %q for scope %q already exists -- if this was deliberate, use Context.Reuse() or Context.Checked(false)",
				name, ctx.scope)
		}
		return v, nil
	}
	if ctx.data.loader != nil {
		if value, found := ctx.data.loader.LoadVariable(ctx, ctx.scope, name); found {
			return nil, value
		}
	}
	if ctx.checked && ctx.reuse {
		exceptions.Panicf("requested variable %q in scope %q with Context.Reuse set, but variable does not exist", name, ctx.scope)
	}
	return nil, nil
}

func (ctx *Context) addVariable(name string, value *tensors.Tensor[float32]) *Variable {
	v := &Variable{name: name, scope: ctx.scope, Trainable: true, value: value}
	scopeVars, found := ctx.data.variablesMap[ctx.scope]
	if !found {
		scopeVars = make(map[string]*Variable)
		ctx.data.variablesMap[ctx.scope] = scopeVars
	}
	scopeVars[name] = v
	ctx.data.variables = append(ctx.data.variables, v)
	return v
}

// VariableWithShape creates or returns an existing variable with the given dimensions in the current scope.
// New variables are initialized with the context initializer, unless a value is provided by the Loader.
//
// It panics if the checks fail (see Context), or if an existing (or loaded) variable has different dimensions.
func (ctx *Context) VariableWithShape(name string, dims ...int) *Variable {
	v, loaded := ctx.checkedVariable(name)
	if v != nil {
		if !slices.Equal(v.Dims(), dims) {
			exceptions.Panicf("requested to reuse variable %q in scope %q with dimensions %v, but it has dimensions %v",
				name, ctx.scope, dims, v.Dims())
		}
		return v
	}
	if loaded != nil {
		if !slices.Equal(loaded.Dims(), dims) {
			exceptions.Panicf("loaded variable %q in scope %q has dimensions %v, but dimensions %v were requested",
				name, ctx.scope, loaded.Dims(), dims)
		}
		return ctx.addVariable(name, loaded)
	}
	return ctx.addVariable(name, ctx.initializer(ctx.RNG(), dims))
}

// VariableWithValue creates or returns an existing variable in the current scope. New variables take
// the given value, unless a value is provided by the Loader.
func (ctx *Context) VariableWithValue(name string, value *tensors.Tensor[float32]) *Variable {
	v, loaded := ctx.checkedVariable(name)
	if v != nil {
		return v
	}
	if loaded != nil {
		value = loaded
	}
	return ctx.addVariable(name, value)
}

// IterVariables iterates over all variables in creation order, in all scopes.
func (ctx *Context) IterVariables() iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range ctx.data.variables {
			if !yield(v) {
				return
			}
		}
	}
}

// EnumerateVariables calls fn for all variables, in creation order, in all scopes.
func (ctx *Context) EnumerateVariables(fn func(v *Variable)) {
	for v := range ctx.IterVariables() {
		fn(v)
	}
}

// inScope returns whether variableScope is scope or one of its sub-scopes.
func inScope(variableScope, scope string) bool {
	prefix := scope
	if prefix != RootScope {
		prefix += ScopeSeparator
	}
	return variableScope == scope || strings.HasPrefix(variableScope, prefix)
}

// EnumerateVariablesInScope calls fn for the variables in the current scope or any of its sub-scopes.
func (ctx *Context) EnumerateVariablesInScope(fn func(v *Variable)) {
	for v := range ctx.IterVariables() {
		if inScope(v.scope, ctx.scope) {
			fn(v)
		}
	}
}

// DeleteVariablesInScope removes all variables in the given absolute scope, or any of its sub-scopes.
func (ctx *Context) DeleteVariablesInScope(scope string) {
	ctx.data.variables = slices.DeleteFunc(ctx.data.variables, func(v *Variable) bool {
		return inScope(v.scope, scope)
	})
	for variableScope := range ctx.data.variablesMap {
		if inScope(variableScope, scope) {
			delete(ctx.data.variablesMap, variableScope)
		}
	}
}

// NumVariables returns the number of variables in the context.
func (ctx *Context) NumVariables() int { return len(ctx.data.variables) }

// NumParameters returns the summed size of all variables.
func (ctx *Context) NumParameters() (total int) {
	for v := range ctx.IterVariables() {
		total += v.Size()
	}
	return
}

// ZeroGrads resets the accumulated gradients of all variables.
func (ctx *Context) ZeroGrads() {
	for v := range ctx.IterVariables() {
		v.ZeroGrad()
	}
}
