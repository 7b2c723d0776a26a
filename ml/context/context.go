// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context and Variable types: Context organizes the hyperparameters and
// the variables (weights) of a model in scopes, and Variable holds a weight value and its accumulated
// gradient.
package context

import (
	"encoding"
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/internal/scoped"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/types/tensors"
)

const (
	// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
	ScopeSeparator = "/"

	// RootScope is the scope at the very root.
	RootScope = ScopeSeparator

	// ParamRandomSeed is the key of the parameter used to seed the context random number generator.
	// If not set, a random seed is used.
	ParamRandomSeed = "rng_seed"
)

// VariableInitializer returns the initial value of a variable. See package initializers.
type VariableInitializer = initializers.VariableInitializer

// Context organizes the information shared by the components of a model:
//
//  1. Variables: model weights, with their accumulated gradients.
//  2. Parameters: hyperparameters, and any information that needs sharing among the layers.
//
// Both are organized in scopes. A Context is a thin reference holding the current scope (like a current
// directory) and a link to the shared data. Context.In("new_scope") returns a new reference to the same
// data, in a sub-scope:
//
//	func Model(ctx *context.Context, x *tensors.Tensor[float32]) ... {
//		ctx.SetParam("dropout_rate", 0.2)
//		{
//			ctx := ctx.In("output_layer")
//			ctx.SetParam("dropout_rate", 0.5) // Only affects "output_layer" and its sub-scopes.
//			logits, backward = layers.Dense(ctx, x, numClasses, true)
//		}
//	}
//
// Variable creation is checked by default (Context.Checked(true)): creating a variable panics if
// the context is Unique (the default) and the variable already exists, or if the context is
// marked Reuse and the variable doesn't exist (and can't be loaded).
//
// A Context is not safe for concurrent use.
type Context struct {
	scope       string
	reuse       bool
	checked     bool
	initializer VariableInitializer
	data        *contextData
}

// contextData is shared among all references (scopes) of a Context.
type contextData struct {
	params *scoped.Params

	// variablesMap organizes variables per scope and name.
	variablesMap map[string]map[string]*Variable

	// variables in creation order.
	variables []*Variable

	// loader, if set, is checked for the initial value of new variables.
	loader Loader

	rng *rand.Rand

	training bool
}

// Loader provides previously saved values of variables, e.g. the checkpoints package.
type Loader interface {
	// LoadVariable returns the value of the variable with the given scope and name, if it is known.
	// It is called at most once per variable.
	LoadVariable(ctx *Context, scope, name string) (value *tensors.Tensor[float32], found bool)
}

// New returns an empty context, associated with freshly created data.
//
// The default variable initializer draws uniformly from [-0.05, 0.05]. Change it with
// Context.WithInitializer.
func New() *Context {
	return &Context{
		scope:       RootScope,
		checked:     true,
		initializer: initializers.RandomUniformFn(-0.05, 0.05),
		data: &contextData{
			params:       scoped.New(ScopeSeparator),
			variablesMap: make(map[string]map[string]*Variable),
		},
	}
}

// copy creates a new reference sharing the same data.
func (ctx *Context) copy() *Context {
	ctx2 := &Context{}
	*ctx2 = *ctx
	return ctx2
}

// JoinScope and name into a single string.
func JoinScope(scope, name string) string {
	if scope == "" {
		return name
	}
	if strings.HasSuffix(scope, ScopeSeparator) {
		return scope + name
	}
	return scope + ScopeSeparator + name
}

// SplitScope splits a string created by JoinScope into scope and name.
// If there is no scope, scope is "".
func SplitScope(scopeAndName string) (scope, name string) {
	if !strings.HasPrefix(scopeAndName, ScopeSeparator) {
		return "", scopeAndName
	}
	idx := strings.LastIndex(scopeAndName, ScopeSeparator)
	name = scopeAndName[idx+1:]
	if idx == 0 {
		return RootScope, name
	}
	return scopeAndName[:idx], name
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string { return ctx.scope }

// EscapeScopeName replaces ScopeSeparator in the string by "_".
func EscapeScopeName(scopeName string) string {
	return strings.ReplaceAll(scopeName, ScopeSeparator, "_")
}

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	return ctx.InAbsPath(JoinScope(ctx.scope, scope))
}

// Inf is a shortcut to Context.In(fmt.Sprintf(format, args...)).
func (ctx *Context) Inf(format string, args ...any) *Context {
	return ctx.In(fmt.Sprintf(format, args...))
}

// InAbsPath returns a new reference to the Context in the given absolute scope path, which must start
// with ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("absolute scope path must start with separator %q, instead got %q", ScopeSeparator, scopePath)
	}
	ctx2 := ctx.copy()
	ctx2.scope = scopePath
	return ctx2
}

// Reuse returns a new reference to the Context set to reuse variables.
func (ctx *Context) Reuse() *Context {
	if ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = true
	return ctx2
}

// Unique returns a new reference to the Context set to only allow new variables.
func (ctx *Context) Unique() *Context {
	if !ctx.reuse {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.reuse = false
	return ctx2
}

// IsReuse returns whether Context is marked for reuse. This is irrelevant if IsChecked is false.
func (ctx *Context) IsReuse() bool { return ctx.reuse }

// Checked returns a new reference with the checked flag set accordingly. If not checked, variables
// are created or reused as needed.
func (ctx *Context) Checked(checked bool) *Context {
	if ctx.checked == checked {
		return ctx
	}
	ctx2 := ctx.copy()
	ctx2.checked = checked
	return ctx2
}

// IsChecked returns whether context is checking reuse rules.
func (ctx *Context) IsChecked() bool { return ctx.checked }

// WithInitializer returns a new reference to the Context, with the initializer set.
func (ctx *Context) WithInitializer(initializer VariableInitializer) *Context {
	if initializer == nil {
		exceptions.Panicf("Context.WithInitializer passed a nil initializer")
	}
	ctx2 := ctx.copy()
	ctx2.initializer = initializer
	return ctx2
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/").
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.data.params.Get(ctx.scope, key)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// convertParam converts a parameter value to T. Numbers convert to any numeric type as long as no value is
// lost (a float with a fractional part can't be read as an int), a `[]any` of numbers (as decoded from Json)
// converts element-wise to a numeric slice, and a string to a type implementing encoding.TextUnmarshaler.
// Strings and bools are never converted from other kinds.
func convertParam[T any](value any) (T, bool) {
	var t T
	if v, ok := value.(T); ok {
		return v, true
	}
	typeOfT := reflect.TypeOf(t)
	v := reflect.ValueOf(value)
	if !v.IsValid() || typeOfT == nil {
		return t, false
	}
	ptrT := reflect.New(typeOfT)
	if ptrT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := ptrT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			return t, false
		}
		return ptrT.Elem().Interface().(T), true
	}
	if typeOfT.Kind() == reflect.Slice && v.Kind() == reflect.Slice {
		elemType := typeOfT.Elem()
		out := reflect.MakeSlice(typeOfT, v.Len(), v.Len())
		for ii := range v.Len() {
			elem, ok := convertScalar(v.Index(ii), elemType)
			if !ok {
				return t, false
			}
			out.Index(ii).Set(elem)
		}
		return out.Interface().(T), true
	}
	converted, ok := convertScalar(v, typeOfT)
	if !ok {
		return t, false
	}
	return converted.Interface().(T), true
}

func isNumeric(kind reflect.Kind) bool {
	return (kind >= reflect.Int && kind <= reflect.Uint64) || kind == reflect.Float32 || kind == reflect.Float64
}

// convertScalar converts v to the type to, only if it can be done without losing information.
func convertScalar(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		return v, false
	}
	if v.Type() == to {
		return v, true
	}
	from, kind := v.Kind(), to.Kind()
	switch {
	case from == reflect.String && kind == reflect.String, from == reflect.Bool && kind == reflect.Bool:
		return v.Convert(to), true
	case !isNumeric(from) || !isNumeric(kind):
		return v, false
	}
	isInt := kind >= reflect.Int && kind <= reflect.Int64
	isUint := kind >= reflect.Uint && kind <= reflect.Uint64
	switch {
	case from == reflect.Float32 || from == reflect.Float64:
		f := v.Float()
		if (isInt || isUint) && (f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f)) {
			return v, false
		}
		if isUint && f < 0 {
			return v, false
		}
	case from >= reflect.Int && from <= reflect.Int64:
		if isUint && v.Int() < 0 {
			return v, false
		}
	}
	converted := v.Convert(to)
	if isInt || isUint {
		// Round trip catches overflows.
		if !converted.Convert(v.Type()).Equal(v) {
			return v, false
		}
	}
	return converted, true
}

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it can't be converted
// to T.
func MustGetParam[T any](ctx *Context, key string) T {
	valueAny, found := ctx.GetParam(key)
	if !found {
		var t T
		exceptions.Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, ctx.Scope())
	}
	value, ok := convertParam[T](valueAny)
	if !ok {
		exceptions.Panicf("MustGetParam/GetParamOr[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v cannot be converted",
			value, key, ctx.Scope(), key, valueAny, valueAny)
	}
	return value
}

// GetParamOr returns the value for the given param key, searching from the current scope back to the
// root scope, or defaultValue if the key is not found or set to nil.
//
// The value is converted to T if needed (an `int` can be read as a `float64`), and it panics if it
// can't be converted.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return MustGetParam[T](ctx, key)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam) within this
// scope and descendant scopes, unless overwritten there.
//
// Parameters are saved by the checkpoints package using Json, which works well for strings, numbers,
// booleans and slices of those.
func (ctx *Context) SetParam(key string, value any) {
	ctx.data.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.data.params.Set(ctx.scope, key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes, sorted by scope and key.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.data.params.Enumerate(fn)
}

// SetLoader configures a Loader consulted for the initial value of new variables.
func (ctx *Context) SetLoader(loader Loader) {
	ctx.data.loader = loader
}

// Loader returns the current configured Loader for this context, or nil.
func (ctx *Context) Loader() Loader {
	return ctx.data.loader
}

// RNG returns the random number generator shared by the context, used by initializers and by
// layers like Dropout. It is seeded from the ParamRandomSeed parameter, if set, at its first use.
func (ctx *Context) RNG() *rand.Rand {
	if ctx.data.rng == nil {
		seed := GetParamOr(ctx.InAbsPath(RootScope), ParamRandomSeed, int64(0))
		if seed == 0 {
			seed = rand.Int64()
		}
		ctx.data.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	}
	return ctx.data.rng
}

// SetTraining marks whether the model is being trained, as opposed to evaluated or used for inference.
// Layers like Dropout only act during training.
func (ctx *Context) SetTraining(training bool) {
	ctx.data.training = training
}

// IsTraining returns the value set by SetTraining. It defaults to false.
func (ctx *Context) IsTraining() bool {
	return ctx.data.training
}
