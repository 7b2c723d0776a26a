// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"slices"
	"time"

	"github.com/gomlx/galileo/ml/context"
	"github.com/gomlx/galileo/ml/train/metrics"
	"github.com/gomlx/galileo/ml/train/optimizers"
	"github.com/gomlx/galileo/types/tensors"
	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is the type of OnStep hooks. It receives the values of Trainer.TrainMetrics.
type OnStepFn func(loop *Loop, metrics []float64) error

// OnEpochEndFn is the type of OnEpochEnd hooks.
type OnEpochEndFn func(loop *Loop, metrics []float64) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, metrics []float64) error

// Loop will run a training loop, invoking Trainer.TrainStep every step,
// and calling the appropriate hooks.
//
// In itself it doesn't do much, but one can attach functionality to it, like
// checkpointing, progress bars, early-stopping strategies, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// Trainer associated with this loop. In particular Trainer.TrainMetrics() and
	// Trainer.EvalMetrics() can be of interest.
	Trainer *Trainer

	// LoopStep currently being executed. Defaults to 0. Notice this may not be in sync with model's
	// `GlobalStep` variable, see ReadGlobalStep.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run (RunSteps or RunEpochs). At the first
	// run it wil be 0 (the default value for LoopStep) and if Loop.RunSteps (or Loop.RunEpochs) is called
	// multiple times, StartStep is reset to the last LoopStep value of the previous run.
	StartStep int

	// EndStep is one-past the last step to be executed. If -1 the end step is not known (if
	// running till the end of the dataset). When running for multiple epochs (Loop.RunEpochs) it can
	// change during the run (after the first epoch, the value is extrapolated based on how many steps
	// have been run so far).
	EndStep int

	// Epoch is set when running Loop.RunEpochs() to the current running epoch, starting from 0.
	Epoch int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// stepDurations keeps a streaming median of the training step durations, in seconds.
	stepDurations *metrics.StreamingMedianMetric

	// Registered hooks.
	onStart    *priorityHooks[*hookWithName[OnStartFn]]
	onStep     *priorityHooks[*hookWithName[OnStepFn]]
	onEpochEnd *priorityHooks[*hookWithName[OnEpochEndFn]]
	onEnd      *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop trainer.
func NewLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer:       trainer,
		SharedData:    make(map[string]any),
		stepDurations: metrics.NewMedianMetric("Train Step Duration", "step", "duration", nil),
		onStart:       newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:        newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpochEnd:    newPriorityHooks[*hookWithName[OnEpochEndFn]](),
		onEnd:         newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// runHooks calls the hooks in priority order, until the first error.
func runHooks[F any](hooks *priorityHooks[*hookWithName[F]], kind string, call func(fn F) error) (err error) {
	hooks.Enumerate(func(hook *hookWithName[F]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = call(hook.fn)
		if err != nil {
			err = errors.WithMessagef(err, "%s(hook %q)", kind, hook.name)
		}
	})
	return
}

// start of loop, called by all looping methods.
func (loop *Loop) start(ds Dataset) error {
	return runHooks(loop.onStart, "OnStart", func(fn OnStartFn) error { return fn(loop, ds) })
}

// step of loop, called by all looping methods.
// It calls the appropriate hooks.
func (loop *Loop) step(batch *tensors.Batch) (trainMetrics []float64, err error) {
	startTime := time.Now()
	trainMetrics, err = loop.Trainer.TrainStep(batch)
	if err != nil {
		return nil, err
	}
	loop.stepDurations.Update(time.Since(startTime).Seconds(), 1)

	batchLoss := trainMetrics[0]
	if math.IsNaN(batchLoss) {
		return nil, errors.Errorf("batch loss is NaN, training interrupted")
	}
	if math.IsInf(batchLoss, 0) {
		return nil, errors.Errorf("batch loss is infinity (%f), training interrupted", batchLoss)
	}
	err = runHooks(loop.onStep, "OnStep", func(fn OnStepFn) error { return fn(loop, trainMetrics) })
	if err != nil {
		return nil, err
	}
	return trainMetrics, nil
}

// end of loop, called by all looping methods.
func (loop *Loop) end(trainMetrics []float64) error {
	return runHooks(loop.onEnd, "OnEnd", func(fn OnEndFn) error { return fn(loop, trainMetrics) })
}

// ReadGlobalStep will read the global step from the context and initialize the LoopStep
// to that value.
// The default is to have the LoopStep counter always start from 0 -- independent of the model's GlobalStep.
func (loop *Loop) ReadGlobalStep(ctx *context.Context) {
	loop.LoopStep = int(optimizers.GetGlobalStep(ctx))
}

// RunSteps runs those many steps. StartStep and EndStep are adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up
// where it left of last time.
func (loop *Loop) RunSteps(ds Dataset, steps int) (trainMetrics []float64, err error) {
	if steps == 0 {
		return nil, nil
	}
	loop.Trainer.ResetTrainMetrics()
	loop.stepDurations.Reset()
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + steps
	if err = loop.start(ds); err != nil {
		return nil, err
	}
	for loop.LoopStep = loop.StartStep; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		batch, err := ds.Yield()
		if err != nil {
			if err == io.EOF {
				return nil, errors.Errorf(
					"reached Dataset end after %d steps (requested %d steps) -- did you mean to use "+
						"a different (looping) Dataset, or use Loop.RunEpochs() instead of Loop.RunSteps() ?",
					loop.LoopStep-loop.StartStep, steps)
			}
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed reading from Dataset", steps)
		}
		trainMetrics, err = loop.step(batch)
		if err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed TrainStep(LoopStep=%d)", steps, loop.LoopStep)
		}
	}
	if err = loop.end(trainMetrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return
}

// RunEpochs runs those many epochs. StartStep is adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up
// where it left of last time.
// Loop.Epoch is set to the current running epoch. EndStep starts as -1 and will
// be adjusted to expectation after the first epoch, when one knows how many steps there are
// going to be.
// Dataset.Reset is called after each epoch (including the last), followed by the OnEpochEnd hooks.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (trainMetrics []float64, err error) {
	loop.Trainer.ResetTrainMetrics()
	loop.stepDurations.Reset()
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.Epoch = 0
	if err = loop.start(ds); err != nil {
		return nil, err
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		yieldsPerEpoch := 0
		for {
			batch, err := ds.Yield()
			if err == io.EOF {
				// End of epoch: estimate new EndStep and reset.
				loop.EndStep = loop.LoopStep + yieldsPerEpoch*(epochs-loop.Epoch-1)
				break
			}
			if err != nil {
				return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed reading from Dataset (LoopStep=%d)", epochs, loop.LoopStep)
			}
			yieldsPerEpoch++
			trainMetrics, err = loop.step(batch)
			if err != nil {
				return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed TrainStep(LoopStep=%d)", epochs, loop.LoopStep)
			}
			loop.LoopStep++
		}
		ds.Reset()
		if yieldsPerEpoch == 0 {
			return nil, errors.Errorf("Loop.RunEpochs(%d): dataset %q yielded no batches in epoch %d", epochs, ds.Name(), loop.Epoch)
		}
		err = runHooks(loop.onEpochEnd, "OnEpochEnd", func(fn OnEpochEndFn) error { return fn(loop, trainMetrics) })
		if err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): epoch %d", epochs, loop.Epoch)
		}
	}
	if err = loop.end(trainMetrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return
}

// MedianTrainStepDuration returns the (approximate) median duration of each training step of the current
// run. It returns 1 millisecond if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if loop.stepDurations.Count() == 0 {
		return time.Millisecond
	}
	return time.Duration(loop.stepDurations.Median() * float64(time.Second))
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function `fn` is called after each `Trainer.TrainStep`.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook with given priority and name (for error reporting) to the end of each epoch
// of Loop.RunEpochs. Loop.Epoch is the epoch just finished.
func (loop *Loop) OnEpochEnd(name string, priority Priority, fn OnEpochEndFn) {
	loop.onEpochEnd.Add(priority, &hookWithName[OnEpochEndFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last call to `Trainer.TrainStep`.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate will call fn for all registered hooks in priority order.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
