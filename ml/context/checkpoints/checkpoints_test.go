package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func done(t *testing.T, config *Config) *Handler {
	handler, err := config.Done()
	require.NoError(t, err)
	return handler
}

func TestCheckpoints(t *testing.T) {
	var dir string
	{
		// Build a model, checkpoint a few times.
		ctx := context.New()
		ctx.SetParam("learning_rate", 0.01)
		ctx.SetParam("fanouts", []int{5, 5})
		ctx.In("layer_1").SetParam("dim", 64)
		checkpoint := done(t, Build(ctx).Dir(filepath.Join(t.TempDir(), "checkpoints")).Keep(3))
		dir = checkpoint.Dir()
		has, err := checkpoint.HasCheckpoints()
		require.NoError(t, err)
		assert.False(t, has)
		w := ctx.In("model").VariableWithValue("w", tensors.FromFlat([]float32{1, 2, 3, 4}, 2, 2))
		for ii := range 10 {
			assert.Equal(t, int64(ii+1), optimizers.IncrementGlobalStep(ctx))
			w.Value().Data()[0] = float32(ii)
			require.NoError(t, checkpoint.Save())
		}
		has, err = checkpoint.HasCheckpoints()
		require.NoError(t, err)
		assert.True(t, has)
		list, err := checkpoint.ListCheckpoints()
		require.NoError(t, err)
		assert.Len(t, list, 3)
		assert.Equal(t, 9, maxCheckPointCountFromCheckpoints(list))
	}

	{
		// Reload in a new context.
		ctx := context.New()
		ctx.SetParam("learning_rate", 5.0)
		checkpoint := done(t, Build(ctx).Dir(dir).Keep(3))
		assert.Len(t, checkpoint.LoadedVariables(), 2)

		lr, found := ctx.GetParam("learning_rate")
		require.True(t, found)
		assert.Equal(t, 0.01, lr)
		fanouts, found := ctx.GetParam("fanouts")
		require.True(t, found)
		assert.Equal(t, []int{5, 5}, fanouts)
		dim, found := ctx.In("layer_1").GetParam("dim")
		require.True(t, found)
		assert.Equal(t, 64, dim)

		assert.Equal(t, int64(10), optimizers.GetGlobalStep(ctx))
		w := ctx.In("model").Checked(false).WithInitializer(initializers.Zero).VariableWithShape("w", 2, 2)
		assert.Equal(t, []float32{9, 2, 3, 4}, w.Value().Data())
		assert.Empty(t, checkpoint.LoadedVariables())

		require.NoError(t, checkpoint.Save())
		list, err := checkpoint.ListCheckpoints()
		require.NoError(t, err)
		assert.Len(t, list, 3)
	}

	{
		// Mean of the last 3 checkpoints: w[0] was 8, 9 and 9.
		ctx := context.New()
		checkpoint := done(t, Build(ctx).Dir(dir).ExcludeParams().TakeMean(-1))
		_, found := ctx.GetParam("learning_rate")
		assert.False(t, found)
		w := ctx.In("model").Checked(false).VariableWithShape("w", 2, 2)
		assert.InDelta(t, 26.0/3.0, w.Value().Data()[0], 1e-5)
		assert.InDelta(t, 2.0, w.Value().Data()[1], 1e-5)
		assert.Equal(t, int64(10), optimizers.GetGlobalStep(ctx))
		assert.Equal(t, dir, checkpoint.Dir())
	}
}

func TestExcludeVarsFromSaving(t *testing.T) {
	ctx := context.New()
	dir := t.TempDir()
	checkpoint := done(t, Build(ctx).Dir(dir).Keep(-1))
	kept := ctx.VariableWithValue("kept", tensors.Full[float32](1, 3))
	excluded := ctx.VariableWithValue("excluded", tensors.Full[float32](2, 3))
	checkpoint.config.ExcludeVarsFromSaving(excluded)
	require.NoError(t, checkpoint.Save())
	require.NoError(t, checkpoint.Save())
	list, err := checkpoint.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Contains(t, list[0], "-initial")

	ctx2 := context.New()
	checkpoint2 := done(t, Build(ctx2).Dir(dir))
	loaded := checkpoint2.LoadedVariables()
	assert.Contains(t, loaded, kept.ScopeAndName())
	assert.NotContains(t, loaded, excluded.ScopeAndName())
}

func TestConfigErrors(t *testing.T) {
	_, err := Build(context.New()).Done()
	assert.Error(t, err)

	f, err := os.CreateTemp("", "not_a_dir_")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	defer func() { _ = os.Remove(f.Name()) }()
	_, err = Build(context.New()).Dir(f.Name()).Done()
	assert.Error(t, err)
}
