// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds tools to help run a training loop.
//
// The Trainer runs a Model over batches of a Dataset: training steps (with the optimizer), evaluations
// and predictions. The Loop calls the Trainer over epochs or steps, with hooks for checkpoints, progress
// bars and other tools.
package train

import (
	"io"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/train/metrics"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PredictIDsKey is the key of the batch with the ids of the examples predicted, see Trainer.Predict.
const PredictIDsKey = "target_ids"

// MovingAverageWeight is the weight of new batches in the moving average training metrics.
var MovingAverageWeight = 0.01

// Trainer is a helper object to orchestrate the training, evaluation and predictions of a Model.
//
// The first call to the model uses the context as given, so the model can create its variables. The
// following calls use ctx.Reuse().
type Trainer struct {
	ctx       *context.Context
	model     Model
	optimizer optimizers.Interface

	modelCalled bool

	trainMetrics []metrics.Interface
	evalMetrics  []metrics.Interface

	numAccumulatingSteps, accumulatingStep int
}

// NewTrainer constructs a trainer for the model, with the given optimizer. If optimizer is nil it is
// created from the context hyperparameters (see optimizers.FromContext).
//
// The training metrics are the batch loss, the moving average of the loss and the moving averages of each of
// the model metrics. The evaluation metrics are the mean loss and the means of each of the model metrics.
func NewTrainer(ctx *context.Context, model Model, optimizer optimizers.Interface) (*Trainer, error) {
	if optimizer == nil {
		err := exceptions.TryCatch[error](func() { optimizer = optimizers.FromContext(ctx) })
		if err != nil {
			return nil, err
		}
	}
	r := &Trainer{
		ctx:                  ctx,
		model:                model,
		optimizer:            optimizer,
		numAccumulatingSteps: 1,
	}
	r.trainMetrics = []metrics.Interface{metrics.NewBaseMetric("Batch Loss", "batch", metrics.LossMetricType, nil)}
	for _, metricType := range append([]string{metrics.LossMetricType}, model.MetricTypes()...) {
		m, err := metrics.NewMovingAverageFromName(metricType, MovingAverageWeight)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating training metrics")
		}
		r.trainMetrics = append(r.trainMetrics, m)
	}
	var err error
	r.evalMetrics, err = r.newEvalMetrics("", "")
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Trainer) newEvalMetrics(prefix, shortPrefix string) ([]metrics.Interface, error) {
	metricTypes := append([]string{metrics.LossMetricType}, r.model.MetricTypes()...)
	evalMetrics := make([]metrics.Interface, 0, len(metricTypes))
	for _, metricType := range metricTypes {
		m, err := metrics.NewMeanFromName(metricType, prefix, shortPrefix)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating evaluation metrics")
		}
		evalMetrics = append(evalMetrics, m)
	}
	return evalMetrics, nil
}

// Context used by the trainer.
func (r *Trainer) Context() *context.Context { return r.ctx }

// Model being trained.
func (r *Trainer) Model() Model { return r.model }

// Optimizer used by the trainer.
func (r *Trainer) Optimizer() optimizers.Interface { return r.optimizer }

// TrainMetrics returns the training metrics, the values returned by TrainStep are in the same order.
// The first is always the batch loss.
func (r *Trainer) TrainMetrics() []metrics.Interface { return r.trainMetrics }

// EvalMetrics returns the evaluation metrics, the values returned by Eval are in the same order. The first
// is always the mean loss.
func (r *Trainer) EvalMetrics() []metrics.Interface { return r.evalMetrics }

// ResetTrainMetrics call Metrics.Reset on all train metrics. Usually called before a training session.
func (r *Trainer) ResetTrainMetrics() {
	for _, m := range r.trainMetrics {
		m.Reset()
	}
}

// AccumulateGradients configures the trainer to accumulate the gradients of numSteps steps before
// applying them with the optimizer. The applied gradient is the mean of the accumulated ones.
//
// It can be used to simulate larger batches. numSteps = 1 (the default) disables it.
func (r *Trainer) AccumulateGradients(numSteps int) error {
	if numSteps < 1 {
		return errors.Errorf("AccumulateGradients(%d): number of steps must be >= 1", numSteps)
	}
	r.numAccumulatingSteps = numSteps
	r.accumulatingStep = 0
	return nil
}

// modelContext returns the context for a call to the model.
func (r *Trainer) modelContext() *context.Context {
	if r.modelCalled {
		return r.ctx.Reuse()
	}
	return r.ctx
}

// step runs the model on batch, converting panics to errors.
func (r *Trainer) step(batch *tensors.Batch, training bool) (*Output, error) {
	r.ctx.SetTraining(training)
	ctx := r.modelContext()
	var output *Output
	var err error
	if panicErr := exceptions.TryCatch[error](func() { output, err = r.model.Step(ctx, batch) }); panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return nil, err
	}
	r.modelCalled = true
	if output == nil {
		return nil, errors.New("model returned no output")
	}
	return output, nil
}

// metricsValues returns the values of the output in the order of the given metrics, updating them.
func metricsValues(ms []metrics.Interface, output *Output) ([]float64, error) {
	values := make([]float64, len(ms))
	for ii, m := range ms {
		var batchValue float64
		if m.MetricType() == metrics.LossMetricType {
			batchValue = float64(output.Loss)
		} else {
			var found bool
			batchValue, found = output.Metrics[m.MetricType()]
			if !found {
				return nil, errors.Errorf("model didn't return metric %q", m.MetricType())
			}
		}
		values[ii] = m.Update(batchValue, output.BatchSize)
	}
	return values, nil
}

// TrainStep runs one step of the model on the batch, and applies the optimizer to the accumulated gradients
// (see AccumulateGradients). It returns the values of the TrainMetrics.
func (r *Trainer) TrainStep(batch *tensors.Batch) ([]float64, error) {
	if r.accumulatingStep == 0 {
		r.ctx.ZeroGrads()
	}
	output, err := r.step(batch, true)
	if err != nil {
		return nil, errors.WithMessagef(err, "Trainer.TrainStep")
	}
	r.accumulatingStep++
	if r.accumulatingStep >= r.numAccumulatingSteps {
		if r.numAccumulatingSteps > 1 {
			for v := range r.ctx.IterVariables() {
				v.ScaleGrad(1 / float32(r.numAccumulatingSteps))
			}
		}
		if err := exceptions.TryCatch[error](func() { r.optimizer.Apply(r.ctx) }); err != nil {
			return nil, errors.WithMessagef(err, "Trainer.TrainStep: optimizer %q", r.optimizer.Name())
		}
		r.accumulatingStep = 0
	}
	return metricsValues(r.trainMetrics, output)
}

// EvalStep runs the model on the batch without training, and updates the evaluation metrics given.
func (r *Trainer) EvalStep(batch *tensors.Batch, evalMetrics []metrics.Interface) ([]float64, error) {
	output, err := r.step(batch, false)
	if err != nil {
		return nil, errors.WithMessagef(err, "Trainer.EvalStep")
	}
	return metricsValues(evalMetrics, output)
}

// Eval runs the model over the whole dataset (until io.EOF) and returns the values of the EvalMetrics: the
// means over all examples. The dataset is reset at the end.
func (r *Trainer) Eval(ds Dataset) ([]float64, error) {
	for _, m := range r.evalMetrics {
		m.Reset()
	}
	return r.evalWith(ds, r.evalMetrics)
}

// EvalWithNames is like Eval, but it returns new metrics, named after the dataset, along with their values.
// Used to report evaluations of several datasets.
func (r *Trainer) EvalWithNames(ds Dataset) ([]metrics.Interface, []float64, error) {
	evalMetrics, err := r.newEvalMetrics(ds.Name(), ShortName(ds))
	if err != nil {
		return nil, nil, err
	}
	values, err := r.evalWith(ds, evalMetrics)
	return evalMetrics, values, err
}

func (r *Trainer) evalWith(ds Dataset, evalMetrics []metrics.Interface) (values []float64, err error) {
	defer ds.Reset()
	count := 0
	for {
		var batch *tensors.Batch
		batch, err = ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval: failed reading from dataset %q", ds.Name())
		}
		values, err = r.EvalStep(batch, evalMetrics)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): batch %d", ds.Name(), count)
		}
		count++
	}
	if count == 0 {
		return nil, errors.Errorf("Trainer.Eval: dataset %q yielded no batches", ds.Name())
	}
	klog.V(1).Infof("evaluated %d batches of %q", count, ds.Name())
	return values, nil
}

// SavePredictFn receives the ids of the examples predicted and the model outputs `[len(ids), dim]`.
type SavePredictFn func(ids []int64, outputs *tensors.Tensor[float32]) error

// Predict runs the model predictions over the whole dataset, and calls save for each batch. The batches
// must have the ids of the examples under PredictIDsKey (see data.MapDataset.KeepInputs).
//
// It returns the number of examples predicted. The dataset is reset at the end.
func (r *Trainer) Predict(ds Dataset, save SavePredictFn) (count int, err error) {
	defer ds.Reset()
	r.ctx.SetTraining(false)
	ctx := r.ctx.Reuse()
	if !r.modelCalled {
		ctx = r.ctx.Checked(false)
	}
	for {
		var batch *tensors.Batch
		batch, err = ds.Yield()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, errors.WithMessagef(err, "Trainer.Predict: failed reading from dataset %q", ds.Name())
		}
		var ids *tensors.Tensor[int64]
		ids, err = batch.RequireInt(PredictIDsKey)
		if err != nil {
			return count, errors.WithMessagef(err, "Trainer.Predict(%q)", ds.Name())
		}
		var outputs *tensors.Tensor[float32]
		if panicErr := exceptions.TryCatch[error](func() { outputs, err = r.model.Predict(ctx, batch) }); panicErr != nil {
			err = panicErr
		}
		if err != nil {
			return count, errors.WithMessagef(err, "Trainer.Predict(%q)", ds.Name())
		}
		if outputs.Rank() != 2 || outputs.Dim(0) != ids.Size() {
			return count, errors.Errorf("Trainer.Predict(%q): model returned outputs shaped %s for %d ids",
				ds.Name(), outputs.ShapeString(), ids.Size())
		}
		if err = save(ids.Data(), outputs); err != nil {
			return count, errors.WithMessagef(err, "Trainer.Predict(%q): saving predictions", ds.Name())
		}
		count += ids.Size()
	}
}
