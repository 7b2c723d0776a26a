package node2vec

import (
	"testing"

	"github.com/gomlx/galileo/engine/enginetest"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/train"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/models"
	"github.com/gomlx/galileo/transforms"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode2vec(t *testing.T) {
	const ringSize = 10
	g := enginetest.Ring(ringSize, 1)
	rw, err := transforms.NewRandomWalkNeg(g, transforms.RandomWalkNegConfig{
		VertexTypes: []uint8{0},
		EdgeTypes:   []uint8{0},
		NegativeNum: 3,
		ContextSize: 2,
		WalkLength:  3,
	})
	require.NoError(t, err)
	batch, err := rw.Transform(tensors.FromFlat([]int64{0, 2, 4, 6, 8}))
	require.NoError(t, err)

	ctx := context.New()
	ctx.SetParam(ParamEmbeddingDim, 8)
	ctx.SetParam(optimizers.ParamLearningRate, 0.01)
	model := New(ringSize - 1)
	trainer, err := train.NewTrainer(ctx, model, optimizers.Adam().Done())
	require.NoError(t, err)
	first, err := trainer.TrainStep(batch)
	require.NoError(t, err)
	var last []float64
	for range 50 {
		last, err = trainer.TrainStep(batch)
		require.NoError(t, err)
	}
	assert.Less(t, last[0], first[0])

	table := ctx.InspectVariable("/"+models.EncoderScope, "embeddings")
	require.NotNil(t, table)
	assert.Equal(t, []int{ringSize, 8}, table.Dims())
	assert.True(t, table.IsRowSparse())

	embeddings, err := model.Predict(ctx.Reuse(), tensors.NewBatch().
		SetInt(transforms.TargetKey, tensors.FromFlat([]int64{1, 9})))
	require.NoError(t, err)
	assert.Equal(t, table.Value().Row(9), embeddings.Row(1))

	_, err = model.Predict(ctx.Reuse(), tensors.NewBatch().
		SetInt(transforms.TargetKey, tensors.FromFlat([]int64{ringSize})))
	assert.Error(t, err, "id out of range")
}
