package train

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/context/initializers"
	"github.com/gomlx/galileo/ml/train/metrics"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constantModel predicts the value of a single variable w, with a squared error loss.
type constantModel struct {
	returnNaN bool
}

func (m *constantModel) variable(ctx *context.Context) *context.Variable {
	return ctx.In("model").WithInitializer(initializers.Zero).VariableWithShape("w", 1)
}

func (m *constantModel) Step(ctx *context.Context, batch *tensors.Batch) (*Output, error) {
	labels, err := batch.RequireFloat("label")
	if err != nil {
		return nil, err
	}
	w := m.variable(ctx)
	value := w.Value().Data()[0]
	var loss, grad float32
	for _, y := range labels.Data() {
		loss += (value - y) * (value - y)
		grad += 2 * (value - y)
	}
	n := float32(labels.Size())
	if ctx.IsTraining() {
		w.AccumulateGrad([]float32{grad / n})
	}
	if m.returnNaN {
		loss = float32(math.NaN())
	}
	return &Output{Loss: loss / n, Metrics: map[string]float64{metrics.AccuracyMetricType: 0.5}, BatchSize: labels.Size()}, nil
}

func (m *constantModel) Predict(ctx *context.Context, batch *tensors.Batch) (*tensors.Tensor[float32], error) {
	ids := batch.Int(PredictIDsKey)
	value := m.variable(ctx).Value().Data()[0]
	return tensors.Full(value, ids.Size(), 1), nil
}

func (m *constantModel) MetricTypes() []string { return []string{metrics.AccuracyMetricType} }

// sliceDataset yields the given batches, one per call.
type sliceDataset struct {
	batches []*tensors.Batch
	next    int
}

func (ds *sliceDataset) Name() string { return "slice" }
func (ds *sliceDataset) Reset()       { ds.next = 0 }
func (ds *sliceDataset) Yield() (*tensors.Batch, error) {
	if ds.next >= len(ds.batches) {
		return nil, io.EOF
	}
	ds.next++
	return ds.batches[ds.next-1], nil
}

func labelsDataset(numBatches int, labels ...float32) *sliceDataset {
	ds := &sliceDataset{}
	for ii := range numBatches {
		ids := make([]int64, len(labels))
		for jj := range ids {
			ids[jj] = int64(ii*len(labels) + jj)
		}
		ds.batches = append(ds.batches, tensors.NewBatch().
			SetFloat("label", tensors.FromFlat(labels)).
			SetInt(PredictIDsKey, tensors.FromFlat(ids)))
	}
	return ds
}

func newTestTrainer(t *testing.T, model Model) (*context.Context, *Trainer) {
	ctx := context.New()
	ctx.SetParam(optimizers.ParamLearningRate, 0.1)
	trainer, err := NewTrainer(ctx, model, optimizers.StochasticGradientDescent())
	require.NoError(t, err)
	return ctx, trainer
}

func TestTrainer(t *testing.T) {
	ctx, trainer := newTestTrainer(t, &constantModel{})
	require.Len(t, trainer.TrainMetrics(), 3)
	require.Len(t, trainer.EvalMetrics(), 2)
	assert.Equal(t, "Batch Loss", trainer.TrainMetrics()[0].Name())

	ds := labelsDataset(1, 10, 10)
	batch, err := ds.Yield()
	require.NoError(t, err)
	values, err := trainer.TrainStep(batch)
	require.NoError(t, err)
	assert.Equal(t, 100.0, values[0])
	assert.Equal(t, 0.5, values[2])
	w := ctx.InspectVariable("/model", "w")
	require.NotNil(t, w)
	assert.InDelta(t, 2, w.Value().Data()[0], 1e-6)

	// Evaluation does not change the model.
	evalValues, err := trainer.Eval(labelsDataset(3, 10, 12))
	require.NoError(t, err)
	assert.InDelta(t, (64+100)/2.0, evalValues[0], 1e-4)
	assert.InDelta(t, 2, w.Value().Data()[0], 1e-6)

	evalMetrics, evalValues, err := trainer.EvalWithNames(labelsDataset(1, 2))
	require.NoError(t, err)
	assert.Equal(t, "slice: Mean Loss", evalMetrics[0].Name())
	assert.InDelta(t, 0, evalValues[0], 1e-6)

	var gotIDs []int64
	count, err := trainer.Predict(labelsDataset(2, 0, 0, 0), func(ids []int64, outputs *tensors.Tensor[float32]) error {
		gotIDs = append(gotIDs, ids...)
		assert.Equal(t, []int{3, 1}, outputs.Dims())
		assert.InDelta(t, 2, outputs.At(0, 0), 1e-6)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, gotIDs)

	_, err = trainer.TrainStep(tensors.NewBatch())
	require.Error(t, err)
}

func TestTrainer_AccumulateGradients(t *testing.T) {
	ctx, trainer := newTestTrainer(t, &constantModel{})
	require.Error(t, trainer.AccumulateGradients(0))
	require.NoError(t, trainer.AccumulateGradients(3))
	ds := labelsDataset(1, 10)
	batch, _ := ds.Yield()

	// Since the gradient hasn't been applied yet, the loss should remain the same.
	for range 3 {
		values, err := trainer.TrainStep(batch)
		require.NoError(t, err)
		assert.Equal(t, 100.0, values[0])
	}
	// Mean of the accumulated gradients applied.
	assert.InDelta(t, 2, ctx.InspectVariable("/model", "w").Value().Data()[0], 1e-5)
	values, err := trainer.TrainStep(batch)
	require.NoError(t, err)
	assert.InDelta(t, 64.0, values[0], 1e-4)
	assert.Equal(t, int64(1), optimizers.GetGlobalStep(ctx))
}

func TestLoop(t *testing.T) {
	_, trainer := newTestTrainer(t, &constantModel{})
	loop := NewLoop(trainer)
	var calls []string
	var stepsCalled, epochsCalled, everyNEpochsCalled int
	loop.OnStart("second", 1, func(_ *Loop, _ Dataset) error { calls = append(calls, "second"); return nil })
	loop.OnStart("first", -1, func(_ *Loop, _ Dataset) error { calls = append(calls, "first"); return nil })
	EveryNSteps(loop, 5, "every5", 0, func(_ *Loop, _ []float64) error { stepsCalled++; return nil })
	loop.OnEpochEnd("epochs", 0, func(_ *Loop, _ []float64) error { epochsCalled++; return nil })
	EveryNEpochs(loop, 2, true, "every2", 0, func(_ *Loop, _ []float64) error { everyNEpochsCalled++; return nil })
	var endSteps []int
	loop.OnStep("end_step", 0, func(loop *Loop, _ []float64) error {
		endSteps = append(endSteps, loop.EndStep)
		return nil
	})

	ds := labelsDataset(4, 1, 2)
	values, err := loop.RunEpochs(ds, 3)
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, 12, loop.LoopStep)
	assert.Equal(t, 12, loop.EndStep)
	assert.Equal(t, -1, endSteps[0], "end step unknown during the first epoch")
	assert.Equal(t, 12, endSteps[len(endSteps)-1])
	assert.Equal(t, 2, stepsCalled)
	assert.Equal(t, 3, epochsCalled)
	assert.Equal(t, 2, everyNEpochsCalled)
	assert.Equal(t, int64(12), loop.stepDurations.Count())

	// Continue for a few steps: the dataset was reset at the end of the last epoch.
	_, err = loop.RunSteps(ds, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, loop.StartStep)
	assert.Equal(t, 15, loop.LoopStep)
	_, err = loop.RunSteps(ds, 10)
	require.Error(t, err, "dataset exhausted before the number of steps")
}

func TestLoopCallbacks(t *testing.T) {
	_, trainer := newTestTrainer(t, &constantModel{})
	loop := NewLoop(trainer)
	recorder := func(steps *[]int) OnStepFn {
		return func(loop *Loop, _ []float64) error {
			*steps = append(*steps, loop.LoopStep)
			return nil
		}
	}
	var exponential, nTimes, periodic, everyN []int
	ExponentialCallback(loop, 2, 2, true, "exponential", 0, recorder(&exponential))
	NTimesDuringLoop(loop, 4, "n_times", 0, recorder(&nTimes))
	PeriodicCallback(loop, time.Hour, true, "periodic", 0, recorder(&periodic))
	EveryNSteps(loop, 15, "every15", 0, recorder(&everyN))

	_, err := loop.RunSteps(labelsDataset(40, 1), 40)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 13, 29, 40}, exponential, "intervals 2, 4, 8, 16 and the end of the loop")
	assert.Equal(t, []int{9, 19, 29, 39}, nTimes)
	assert.Equal(t, []int{40}, periodic, "only called at the end")
	assert.Equal(t, []int{14, 29}, everyN)

	// A new run restarts the exponential schedule.
	exponential = nil
	_, err = loop.RunSteps(labelsDataset(4, 1), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{41, 44}, exponential)

	assert.Panics(t, func() { ExponentialCallback(loop, 0, 2, false, "invalid", 0, recorder(&exponential)) })
	assert.Panics(t, func() { ExponentialCallback(loop, 10, 1, false, "invalid", 0, recorder(&exponential)) })
	assert.Panics(t, func() { EveryNSteps(loop, 0, "invalid", 0, recorder(&everyN)) })
}

func TestLoopErrors(t *testing.T) {
	_, trainer := newTestTrainer(t, &constantModel{returnNaN: true})
	loop := NewLoop(trainer)
	_, err := loop.RunSteps(labelsDataset(2, 1), 1)
	require.ErrorContains(t, err, "NaN")

	_, trainer = newTestTrainer(t, &constantModel{})
	loop = NewLoop(trainer)
	loop.OnStep("failing", 0, func(_ *Loop, _ []float64) error { return io.ErrUnexpectedEOF })
	_, err = loop.RunEpochs(labelsDataset(2, 1), 1)
	require.ErrorContains(t, err, "failing")
	_, err = NewLoop(trainer).RunEpochs(&sliceDataset{}, 1)
	require.Error(t, err)
}

func TestNTimesDuringLoop(t *testing.T) {
	_, trainer := newTestTrainer(t, &constantModel{})
	loop := NewLoop(trainer)
	var steps []int
	NTimesDuringLoop(loop, 4, "ntimes", 0, func(loop *Loop, _ []float64) error {
		steps = append(steps, loop.LoopStep)
		return nil
	})
	_, err := loop.RunSteps(labelsDataset(20, 1), 20)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 9, 14, 19}, steps)
}
