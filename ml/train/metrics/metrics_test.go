package metrics

import (
	"testing"

	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	base := NewBaseMetric("Batch Loss", "batch", LossMetricType, nil)
	assert.Equal(t, 2.0, base.Update(2, 10))
	assert.Equal(t, 3.0, base.Update(3, 10))
	assert.Equal(t, "3.000", base.PrettyPrint(3))

	mean, err := NewMeanFromName(AccuracyMetricType, "test", "tst")
	require.NoError(t, err)
	assert.Equal(t, "test: Mean Accuracy", mean.Name())
	assert.Equal(t, "tst: acc", mean.ShortName())
	assert.Equal(t, 1.0, mean.Update(1, 1))
	assert.InDelta(t, 0.25, mean.Update(0, 3), 1e-9, "weighted by batch size")
	assert.Equal(t, "25.00%", mean.PrettyPrint(0.25))
	mean.Reset()
	assert.Equal(t, 0.5, mean.Update(0.5, 4))

	ema, err := NewMovingAverageFromName(MRRMetricType, 0.5)
	require.NoError(t, err)
	assert.Equal(t, MRRMetricType, ema.MetricType())
	assert.Equal(t, 1.0, ema.Update(1, 1))
	assert.Equal(t, 0.5, ema.Update(0, 1))
	assert.Equal(t, 0.25, ema.Update(0, 1), "weight capped at 1/newExampleWeight")

	_, err = FromName("auc")
	require.Error(t, err)
}

func TestAccuracy(t *testing.T) {
	logits := tensors.FromFlat([]float32{
		0.1, 0.9, 0,
		2, 1, 0,
		0, 0, 5,
		1, 1, 1,
	}, 4, 3)
	labels := tensors.FromFlat([]float32{
		0, 1, 0,
		0, 1, 0,
		0, 0, 1,
		1, 0, 0,
	}, 4, 3)
	assert.Equal(t, 0.75, Accuracy(logits, labels))
	assert.Panics(t, func() { Accuracy(logits, tensors.Zeros[float32](4, 2)) })
}

func TestMRR(t *testing.T) {
	positive := tensors.FromFlat([]float32{3, 1, 0})
	negative := tensors.FromFlat([]float32{
		1, 2,
		2, 0,
		1, 2,
	}, 3, 2)
	assert.InDelta(t, (1+0.5+1.0/3)/3, MRR(positive, negative), 1e-9)
	assert.Panics(t, func() { MRR(positive, tensors.Zeros[float32](2, 2)) })
}
