package models

import (
	"testing"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/ml/layers"
	"github.com/gomlx/galileo/ml/train/losses"
	"github.com/gomlx/galileo/ml/train/metrics"
	"github.com/gomlx/galileo/transforms"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vocabSize = 6

// embeddingEncoder reads the ids of the role (or of "ids" if the role is empty) and embeds them.
func embeddingEncoder(ctx *context.Context, batch *tensors.Batch, role string) (*tensors.Tensor[float32], layers.Backward, error) {
	if role == "" {
		role = transforms.IDsKey
	}
	ids, err := batch.RequireInt(role)
	if err != nil {
		return nil, nil, err
	}
	output, backward := layers.Embedding(ctx, ids.Data(), vocabSize, 3)
	return output, backward, nil
}

func unsupervisedBatch() *tensors.Batch {
	return tensors.NewBatch().
		SetInt(transforms.TargetKey, tensors.FromFlat([]int64{0, 1, 2}, 3, 1)).
		SetInt(transforms.ContextKey, tensors.FromFlat([]int64{1, 2, 3}, 3, 1)).
		SetInt(transforms.NegativeKey, tensors.FromFlat([]int64{4, 5, 4, 3, 5, 0}, 3, 2))
}

func TestLogits(t *testing.T) {
	target := tensors.FromRows([][]float32{{1, 0}, {0, 1}})
	contexts := tensors.FromRows([][]float32{{2, 0}, {0, 3}})
	negative := tensors.FromRows([][]float32{{1, 1}, {-1, 0}, {0, 1}, {0, -2}})
	positive, negatives, err := Logits(target, contexts, negative)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, positive.Data())
	assert.Equal(t, []int{2, 2}, negatives.Dims())
	assert.Equal(t, []float32{1, -1, 1, -2}, negatives.Data())

	_, _, err = Logits(target, contexts, tensors.Zeros[float32](3, 2))
	assert.Error(t, err)
	_, _, err = Logits(target, tensors.Zeros[float32](2, 3), negative)
	assert.Error(t, err)
}

func TestUnsupervisedGradients(t *testing.T) {
	for _, shared := range []bool{true, false} {
		ctx := context.New().WithInitializer(initializers.RandomNormalFn(0.5))
		model := &Unsupervised{TargetEncoder: embeddingEncoder}
		scope := "/" + EncoderScope
		if !shared {
			model.ContextEncoder = embeddingEncoder
			scope = "/" + ContextEncoderScope
		}
		batch := unsupervisedBatch()
		ctx.SetTraining(true)
		output, err := model.Step(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 3, output.BatchSize)
		assert.Contains(t, output.Metrics, metrics.MRRMetricType)

		v := ctx.InspectVariable(scope, "embeddings")
		require.NotNil(t, v)
		require.True(t, v.HasGrad())
		grad := v.Grad().Clone()
		if shared {
			assert.Len(t, v.TouchedRows(), vocabSize)
		}

		ctx.SetTraining(false)
		reuse := ctx.Reuse()
		const eps = 1e-2
		values := v.Value().Data()
		for ii := range values {
			original := values[ii]
			values[ii] = original + eps
			plus, err := model.Step(reuse, batch)
			require.NoError(t, err)
			values[ii] = original - eps
			minus, err := model.Step(reuse, batch)
			require.NoError(t, err)
			values[ii] = original
			numerical := float64(plus.Loss-minus.Loss) / (2 * eps)
			assert.InDelta(t, numerical, grad.Data()[ii], 1e-3, "shared=%v, gradient of element %d", shared, ii)
		}
	}
}

func TestUnsupervisedPredict(t *testing.T) {
	ctx := context.New()
	model := &Unsupervised{TargetEncoder: embeddingEncoder}
	_, err := model.Step(ctx, unsupervisedBatch())
	require.NoError(t, err)
	embeddings, err := model.Predict(ctx.Reuse(), tensors.NewBatch().SetInt(transforms.TargetKey, tensors.FromFlat([]int64{2, 5})))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, embeddings.Dims())
	table := ctx.InspectVariable("/"+EncoderScope, "embeddings")
	assert.Equal(t, table.Value().Row(5), embeddings.Row(1))
	assert.Equal(t, []string{metrics.MRRMetricType}, model.MetricTypes())

	_, err = model.Step(ctx.Reuse(), tensors.NewBatch())
	assert.Error(t, err)
}

func TestSupervised(t *testing.T) {
	ctx := context.New().WithInitializer(initializers.RandomNormalFn(0.5))
	model := &Supervised{Encoder: embeddingEncoder, Loss: losses.CategoricalCrossEntropyLogits}
	batch := tensors.NewBatch().
		SetInt(transforms.IDsKey, tensors.FromFlat([]int64{0, 3})).
		SetFloat(transforms.LabelKey, tensors.FromRows([][]float32{{1, 0, 0}, {0, 0, 1}}))
	ctx.SetTraining(true)
	output, err := model.Step(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, output.BatchSize)
	assert.Contains(t, output.Metrics, metrics.AccuracyMetricType)
	v := ctx.InspectVariable("/"+EncoderScope, "embeddings")
	require.NotNil(t, v)
	assert.ElementsMatch(t, []int{0, 3}, v.TouchedRows())

	logits, err := model.Predict(ctx.Reuse(), batch)
	require.NoError(t, err)
	assert.Equal(t, v.Value().Row(3), logits.Row(1))

	_, err = model.Step(ctx.Reuse(), tensors.NewBatch().SetInt(transforms.IDsKey, tensors.FromFlat([]int64{0})))
	assert.Error(t, err, "missing labels")
	_, err = model.Step(ctx.Reuse(), tensors.NewBatch().
		SetInt(transforms.IDsKey, tensors.FromFlat([]int64{0})).
		SetFloat(transforms.LabelKey, tensors.Zeros[float32](1, 4)))
	assert.Error(t, err, "labels with wrong number of classes")
}
