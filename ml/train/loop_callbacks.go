// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
)

// onEnd registers fn to also be called when the loop ends.
func onEnd(loop *Loop, name string, priority Priority, fn OnStepFn) {
	loop.OnEnd(name, priority, func(loop *Loop, trainMetrics []float64) error { return fn(loop, trainMetrics) })
}

// NTimesDuringLoop registers an OnStep hook that calls fn at most n times during a run, evenly spread over
// its steps, and always at the last step.
//
// While the number of steps is unknown (the first epoch of Loop.RunEpochs) it calls fn after 128 steps,
// then 256, 512 and so on, so it may end up calling fn more than n times.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("NTimesDuringLoop(n=%d): n must be > 0", n)
	}
	var calls int
	loop.OnStep(fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name), priority, func(loop *Loop, trainMetrics []float64) error {
		done := loop.LoopStep - loop.StartStep + 1
		switch {
		case loop.EndStep < 0:
			if done < 128<<calls {
				return nil
			}
		case loop.LoopStep < loop.EndStep-1:
			stepsPerCall := float64(loop.EndStep-loop.StartStep) / float64(n)
			if stepsPerCall > 1 && float64(done) < float64(calls+1)*stepsPerCall {
				return nil
			}
		}
		calls++
		return fn(loop, trainMetrics)
	})
}

// EveryNSteps registers an OnStep hook that calls fn whenever LoopStep+1 is a multiple of n, that is,
// after every n global steps if the loop was initialized with Loop.ReadGlobalStep.
//
// It's not called at the last step, unless it happens to be a multiple of n.
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNSteps(n=%d): n must be > 0", n)
	}
	loop.OnStep(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, func(loop *Loop, trainMetrics []float64) error {
		if (loop.LoopStep+1)%n != 0 {
			return nil
		}
		return fn(loop, trainMetrics)
	})
}

// PeriodicCallback registers an OnStep hook that calls fn once at least period has passed since the previous
// call. The clock starts at the first step, and restarts after fn returns, so the time spent in fn (or
// paused) doesn't count.
//
// If callOnEnd is set, fn is also called when the loop ends.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	var last time.Time
	loop.OnStep(fullName, priority, func(loop *Loop, trainMetrics []float64) error {
		if last.IsZero() {
			last = time.Now()
			return nil
		}
		if time.Since(last) < period {
			return nil
		}
		err := fn(loop, trainMetrics)
		last = time.Now()
		return err
	})
	if callOnEnd {
		onEnd(loop, fullName, priority, fn)
	}
}

// ExponentialCallback registers an OnStep hook that calls fn with exponentially growing intervals: first
// after startStep steps of the run, and then each interval is factor times the previous one.
// With startStep=100 and factor=2 it's called after 100, 300, 700, ... steps.
//
// If callOnEnd is set, fn is also called when the loop ends.
func ExponentialCallback(loop *Loop, startStep int, factor float64, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	if startStep <= 0 || factor <= 1 {
		exceptions.Panicf("ExponentialCallback(startStep=%d, factor=%g): startStep must be > 0 and factor > 1",
			startStep, factor)
	}
	fullName := fmt.Sprintf("ExponentialCallback(%d, %g): %s", startStep, factor, name)
	var next, interval int
	runStart := -1
	loop.OnStep(fullName, priority, func(loop *Loop, trainMetrics []float64) error {
		if runStart != loop.StartStep {
			// New run: restart the schedule.
			runStart, interval = loop.StartStep, startStep
			next = interval
		}
		if loop.LoopStep-loop.StartStep+1 < next {
			return nil
		}
		interval = int(math.Round(float64(interval) * factor))
		next += interval
		return fn(loop, trainMetrics)
	})
	if callOnEnd {
		onEnd(loop, fullName, priority, fn)
	}
}

// EveryNEpochs registers an OnEpochEnd hook that calls fn at the end of every n epochs of Loop.RunEpochs.
// If callOnEnd is set, it is also called when the loop ends, unless it was just called at the end of the
// last epoch.
func EveryNEpochs(loop *Loop, n int, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNEpochs(n=%d): n must be > 0", n)
	}
	fullName := fmt.Sprintf("EveryNEpochs(%d): %s", n, name)
	lastCallStep := -1
	loop.OnEpochEnd(fullName, priority, func(loop *Loop, trainMetrics []float64) error {
		if (loop.Epoch+1)%n != 0 {
			return nil
		}
		lastCallStep = loop.LoopStep
		return fn(loop, trainMetrics)
	})
	if callOnEnd {
		loop.OnEnd(fullName, priority, func(loop *Loop, trainMetrics []float64) error {
			if lastCallStep == loop.LoopStep {
				return nil
			}
			return fn(loop, trainMetrics)
		})
	}
}
