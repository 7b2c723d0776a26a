package context

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopes(t *testing.T) {
	ctx := New()
	assert.Equal(t, RootScope, ctx.Scope())
	ctx2 := ctx.In("encoder").Inf("layer_%d", 1)
	assert.Equal(t, "/encoder/layer_1", ctx2.Scope())
	assert.Equal(t, RootScope, ctx.Scope(), "In must not change the original reference")
	assert.Panics(t, func() { ctx.In("a/b") })
	assert.Panics(t, func() { ctx.In("") })
	assert.Panics(t, func() { ctx.InAbsPath("relative") })

	scope, name := SplitScope("/encoder/layer_1/weights")
	assert.Equal(t, "/encoder/layer_1", scope)
	assert.Equal(t, "weights", name)
	scope, name = SplitScope("/weights")
	assert.Equal(t, RootScope, scope)
	assert.Equal(t, "weights", name)
	assert.Equal(t, "/weights", JoinScope(RootScope, "weights"))
	assert.Equal(t, "/a/weights", JoinScope("/a", "weights"))
}

func TestParams(t *testing.T) {
	ctx := New()
	ctx.SetParams(map[string]any{
		"learning_rate": 0.01,
		"hidden_dim":    64,
		"fanouts":       []any{5.0, 5.0},
	})
	ctx.In("output").SetParam("hidden_dim", 7)

	assert.Equal(t, 64, GetParamOr(ctx, "hidden_dim", 0))
	assert.Equal(t, 7, GetParamOr(ctx.In("output"), "hidden_dim", 0))
	assert.Equal(t, 7, GetParamOr(ctx.In("output").In("inner"), "hidden_dim", 0))
	assert.Equal(t, float32(0.01), GetParamOr(ctx, "learning_rate", float32(0)))
	assert.Equal(t, 64.0, GetParamOr(ctx, "hidden_dim", 0.0), "int should convert to float64")
	assert.Equal(t, []int{5, 5}, GetParamOr[[]int](ctx, "fanouts", nil))
	assert.Equal(t, "adam", GetParamOr(ctx, "optimizer", "adam"))

	ctx.SetParam("optimizer", nil)
	assert.Equal(t, "sgd", GetParamOr(ctx, "optimizer", "sgd"), "nil value should return the default")

	err := exceptions.TryCatch[error](func() { _ = GetParamOr(ctx, "hidden_dim", "x") })
	require.Error(t, err, "int can't be read as a string")
	err = exceptions.TryCatch[error](func() { _ = GetParamOr(ctx, "learning_rate", 0) })
	require.Error(t, err, "fractional float can't be read as an int")
	err = exceptions.TryCatch[error](func() { _ = GetParamOr(ctx, "hidden_dim", false) })
	require.Error(t, err, "int can't be read as a bool")
	err = exceptions.TryCatch[error](func() { _ = MustGetParam[int](ctx, "missing") })
	require.Error(t, err)

	var keys []string
	ctx.EnumerateParams(func(scope, key string, _ any) { keys = append(keys, JoinScope(scope, key)) })
	assert.Equal(t, []string{"/fanouts", "/hidden_dim", "/learning_rate", "/optimizer", "/output/hidden_dim"}, keys)

	ctx.SetParam("num_classes", 7.0)
	assert.Equal(t, 7, GetParamOr(ctx, "num_classes", 0), "integral float can be read as an int")
	ctx.SetParam("negative", -1)
	err = exceptions.TryCatch[error](func() { _ = GetParamOr(ctx, "negative", uint(0)) })
	require.Error(t, err, "negative int can't be read as a uint")
	ctx.SetParam("fractional_list", []any{1.0, 2.5})
	err = exceptions.TryCatch[error](func() { _ = GetParamOr[[]int](ctx, "fractional_list", nil) })
	require.Error(t, err)
}

type constantLoader map[string]*tensors.Tensor[float32]

func (l constantLoader) LoadVariable(_ *Context, scope, name string) (*tensors.Tensor[float32], bool) {
	value, found := l[JoinScope(scope, name)]
	return value, found
}

func TestVariables(t *testing.T) {
	ctx := New().WithInitializer(initializers.One)
	dense := ctx.In("dense")
	w := dense.VariableWithShape("weights", 3, 2)
	assert.Equal(t, "/dense/weights", w.ScopeAndName())
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, w.Value().Data())
	assert.True(t, w.Trainable)

	// Checked and unique by default.
	assert.Panics(t, func() { dense.VariableWithShape("weights", 3, 2) })
	assert.Same(t, w, dense.Reuse().VariableWithShape("weights", 3, 2))
	assert.Same(t, w, dense.Checked(false).VariableWithShape("weights", 3, 2))
	assert.Panics(t, func() { dense.Reuse().VariableWithShape("weights", 2, 2) })
	assert.Panics(t, func() { dense.Reuse().VariableWithShape("missing", 2) })

	b := dense.VariableWithValue("biases", tensors.FromFlat([]float32{0.5, -0.5}))
	assert.Equal(t, []float32{0.5, -0.5}, b.Value().Data())
	assert.Equal(t, 2, ctx.NumVariables())
	assert.Equal(t, 8, ctx.NumParameters())
	assert.Same(t, b, ctx.InspectVariable("/dense", "biases"))
	assert.Nil(t, ctx.InspectVariable("/dense", "other"))

	var names []string
	ctx.In("other").VariableWithShape("x", 1)
	dense.EnumerateVariablesInScope(func(v *Variable) { names = append(names, v.ScopeAndName()) })
	assert.Equal(t, []string{"/dense/weights", "/dense/biases"}, names)

	// Loaded values take precedence over the initializer, and satisfy Reuse.
	ctx = New()
	ctx.SetLoader(constantLoader{"/emb/table": tensors.FromFlat([]float32{1, 2, 3, 4}, 2, 2)})
	table := ctx.In("emb").Reuse().VariableWithShape("table", 2, 2)
	assert.Equal(t, []float32{1, 2, 3, 4}, table.Value().Data())
	assert.Panics(t, func() { New().VariableWithShape("", 1) })
}

func TestGradients(t *testing.T) {
	ctx := New()
	w := ctx.VariableWithShape("w", 2, 2)
	assert.False(t, w.HasGrad())
	w.AccumulateGrad([]float32{1, 2, 3, 4})
	w.AccumulateGrad([]float32{1, 1, 1, 1})
	assert.True(t, w.HasGrad())
	assert.Equal(t, []float32{2, 3, 4, 5}, w.Grad().Data())
	assert.Nil(t, w.TouchedRows())
	assert.Panics(t, func() { w.AccumulateGrad([]float32{1}) })

	emb := ctx.VariableWithShape("emb", 4, 2).SetRowSparse(true)
	emb.AccumulateRowGrad(2, []float32{1, 1})
	emb.AccumulateRowGrad(0, []float32{1, 2})
	emb.AccumulateRowGrad(2, []float32{1, 1})
	assert.Equal(t, []int{2, 0}, emb.TouchedRows())
	assert.Equal(t, []float32{1, 2, 0, 0, 2, 2, 0, 0}, emb.Grad().Data())

	ctx.ZeroGrads()
	assert.False(t, w.HasGrad())
	assert.Equal(t, []float32{0, 0, 0, 0}, w.Grad().Data())
	assert.Empty(t, emb.TouchedRows())
	assert.Equal(t, make([]float32, 8), emb.Grad().Data())
}

func TestRNG(t *testing.T) {
	ctx := New()
	ctx.SetParam(ParamRandomSeed, 42)
	ctx2 := New()
	ctx2.SetParam(ParamRandomSeed, 42)
	assert.Equal(t, ctx.RNG().Float64(), ctx2.RNG().Float64())
	assert.Same(t, ctx.RNG(), ctx.In("x").RNG())
}

func TestDeleteVariablesAndTraining(t *testing.T) {
	ctx := New()
	ctx.In("optimizers").In("adam").VariableWithShape("m", 1)
	ctx.In("optimizers").VariableWithShape("lr", 1)
	ctx.In("optimizers_other").VariableWithShape("x", 1)
	ctx.DeleteVariablesInScope("/optimizers/adam")
	assert.Equal(t, 2, ctx.NumVariables())
	assert.Nil(t, ctx.InspectVariable("/optimizers/adam", "m"))
	ctx.DeleteVariablesInScope("/optimizers")
	assert.Equal(t, 1, ctx.NumVariables())
	assert.NotNil(t, ctx.InspectVariable("/optimizers_other", "x"))

	assert.False(t, ctx.IsTraining())
	ctx.In("x").SetTraining(true)
	assert.True(t, ctx.IsTraining())
}
