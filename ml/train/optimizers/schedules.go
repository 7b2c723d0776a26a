// Copyright 2025 The Galileo Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/galileo/ml/context"
)

// This file implements learning rate schedules.

var (
	// ParamCosineScheduleSteps will enable cosine annealing (aka. "cosine schedule")
	// of the learning rate, if set to a value > 0. It defines the number of steps of the
	// period of the cosine annealing schedule.
	// It is very commonly to use the same value as the number of steps being trained.
	ParamCosineScheduleSteps = "cosine_schedule_steps"

	// ParamCosineScheduleMinLearningRate is the minimum value of the learning rate, during
	// cosine annealing schedule.
	// Defaults to 10^-3 * initial learning rate.
	ParamCosineScheduleMinLearningRate = "cosine_annealing_min_learning_rate"
)

// CosineSchedule returns the learning rate for the given step (starting at 0), following a cosine
// annealing schedule from learningRate down to the minimum learning rate, restarted every period.
// See details https://paperswithcode.com/method/cosine-annealing.
//
// The period and minimum are read from the context hyperparameters ParamCosineScheduleSteps and
// ParamCosineScheduleMinLearningRate. If the period is 0 (the default) the learningRate is returned
// unchanged.
func CosineSchedule(ctx *context.Context, learningRate float64, step int64) float64 {
	periodNumSteps := context.GetParamOr(ctx, ParamCosineScheduleSteps, 0)
	if periodNumSteps == 0 {
		return learningRate
	}
	if periodNumSteps < 0 {
		exceptions.Panicf("%q must be >= 0, got %d", ParamCosineScheduleSteps, periodNumSteps)
	}
	minLearningRate := context.GetParamOr(ctx, ParamCosineScheduleMinLearningRate, 0.0)
	if minLearningRate == 0 {
		minLearningRate = learningRate * 1e-3
	}
	return cosineLearningRate(learningRate, minLearningRate, periodNumSteps, step)
}

func cosineLearningRate(learningRate, minLearningRate float64, periodNumSteps int, step int64) float64 {
	cycle := float64(step) / float64(periodNumSteps)
	cycle -= math.Floor(cycle) // Only the fractional part, in range [0.0, 1.0).
	cosine := (math.Cos(cycle*math.Pi) + 1) / 2
	return minLearningRate + cosine*(learningRate-minLearningRate)
}
