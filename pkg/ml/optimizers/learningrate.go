// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Schedule returns the learning rate of the step being run, of the given dtype, given the
// global step before it is incremented.
type Schedule func(globalStep *Node, dtype dtypes.DType) *Node

// ConstantLearningRate returns a learning rate that doesn't change.
func ConstantLearningRate(learningRate float64) Schedule {
	return func(globalStep *Node, dtype dtypes.DType) *Node {
		return Scalar(globalStep.Graph(), dtype, learningRate)
	}
}

// PiecewiseConstant returns a learning rate that depends on the global step: values[0] while
// step <= boundaries[0], values[1] while boundaries[0] < step <= boundaries[1], and so on, with
// values[len(boundaries)] after the last boundary.
//
// It panics if len(values) != len(boundaries)+1 or the boundaries are not increasing.
func PiecewiseConstant(boundaries []int, values []float64) Schedule {
	if len(values) != len(boundaries)+1 {
		exceptions.Panicf("PiecewiseConstant: %d boundaries require %d values, got %d", len(boundaries), len(boundaries)+1, len(values))
	}
	for ii := 1; ii < len(boundaries); ii++ {
		if boundaries[ii] <= boundaries[ii-1] {
			exceptions.Panicf("PiecewiseConstant: boundaries must be strictly increasing, got %v", boundaries)
		}
	}
	boundaries = slices.Clone(boundaries)
	values = slices.Clone(values)
	return func(globalStep *Node, dtype dtypes.DType) *Node {
		g := globalStep.Graph()
		lr := Scalar(g, dtype, values[0])
		for ii, boundary := range boundaries {
			lr = Where(GreaterThan(globalStep, Scalar(g, globalStep.DType(), boundary)), Scalar(g, dtype, values[ii+1]), lr)
		}
		return lr
	}
}

const (
	// ParamCosinePeriodSteps in the "train" section enables a cosine schedule of the learning
	// rate, with periods of the given number of steps. 0 disables it (default). A negative value
	// -n sets the period to 1/n of the total training steps, so -1 is one period over the whole
	// training.
	ParamCosinePeriodSteps = "cosine_schedule_steps"

	// ParamCosineWarmUpSteps is the number of initial steps during which the learning rate
	// increases linearly up to "train.learning_rate", before the cosine schedule starts.
	ParamCosineWarmUpSteps = "cosine_schedule_warmup_steps"

	// ParamCosineMinLearningRate is the learning rate at the end of each cosine period.
	ParamCosineMinLearningRate = "cosine_schedule_min_learning_rate"
)

// CosineSchedule returns a learning rate that follows a cosine curve from learningRate down to
// minLearningRate over each period of periodSteps, after warmUpSteps steps of linear increase
// from learningRate/warmUpSteps. It is computed in float64 and converted to the requested dtype.
//
// It panics if periodSteps <= 0 or warmUpSteps < 0.
func CosineSchedule(learningRate, minLearningRate float64, periodSteps, warmUpSteps int) Schedule {
	if periodSteps <= 0 || warmUpSteps < 0 {
		exceptions.Panicf("CosineSchedule: invalid periodSteps=%d or warmUpSteps=%d", periodSteps, warmUpSteps)
	}
	return func(globalStep *Node, dtype dtypes.DType) *Node {
		g := globalStep.Graph()
		step := ConvertDType(globalStep, dtypes.Float64)
		cycle := DivScalar(AddScalar(step, -float64(warmUpSteps)), float64(periodSteps))
		cycle = Sub(cycle, Floor(cycle))
		cosine := MulScalar(OnePlus(Cos(MulScalar(cycle, math.Pi))), (learningRate-minLearningRate)/2)
		lr := AddScalar(cosine, minLearningRate)
		if warmUpSteps > 0 {
			warmUp := MulScalar(OnePlus(step), learningRate/float64(warmUpSteps))
			lr = Where(LessThan(step, Scalar(g, dtypes.Float64, warmUpSteps)), warmUp, lr)
		}
		return ConvertDType(lr, dtype)
	}
}

// UpdateLearningRate sets the learning rate variable of ctx, for graph g, to the value of
// schedule at the current global step, and returns it. Optimizers read the variable after
// this, so the schedule is applied to the step being built.
func UpdateLearningRate(ctx *context.Context, g *Graph, schedule Schedule, dtype dtypes.DType, baseLearningRate float64) *Node {
	lr := schedule(GlobalStepVar(ctx).ValueGraph(g), dtype)
	LearningRateVar(ctx, dtype, baseLearningRate).SetValueGraph(lr)
	return lr
}

// stepsPerEpoch is train_num_samples / batch_size.
func stepsPerEpoch(c *config.Config) (float64, error) {
	numSamples, err := c.Int(config.SectionData, "train_num_samples")
	if err != nil {
		return 0, err
	}
	batchSize, err := c.Int(config.SectionTrain, "batch_size")
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		return 0, errors.Errorf("train.batch_size must be positive, got %d", batchSize)
	}
	return float64(numSamples) / float64(batchSize), nil
}

// BaseLearningRate is "train.learning_rate", or DefaultLearningRate if not set.
func BaseLearningRate(c *config.Config) (float64, error) {
	return c.FloatOr(config.SectionTrain, "learning_rate", DefaultLearningRate)
}

// LearningRateFromConfig returns the learning rate schedule configured in the "train" section:
// "learning_rate" (default DefaultLearningRate), optionally decayed in a piecewise-constant way
// by "piecewise_lr_decay" multipliers at "piecewise_boundaries" given in epochs (there must be
// one more multiplier than boundaries), or following a cosine schedule if ParamCosinePeriodSteps
// is set. The two schedules are exclusive.
func LearningRateFromConfig(c *config.Config) (Schedule, error) {
	lr, err := BaseLearningRate(c)
	if err != nil {
		return nil, err
	}
	epochBoundaries, err := c.Floats(config.SectionTrain, "piecewise_boundaries")
	if err != nil {
		return nil, err
	}
	cosinePeriod, err := c.IntOr(config.SectionTrain, ParamCosinePeriodSteps, 0)
	if err != nil {
		return nil, err
	}
	switch {
	case cosinePeriod != 0 && len(epochBoundaries) > 0:
		return nil, errors.Errorf("train.%s and train.piecewise_boundaries can't be used together", ParamCosinePeriodSteps)
	case cosinePeriod != 0:
		return cosineFromConfig(c, lr, cosinePeriod)
	case len(epochBoundaries) == 0:
		return ConstantLearningRate(lr), nil
	}
	decays, err := c.Floats(config.SectionTrain, "piecewise_lr_decay")
	if err != nil {
		return nil, err
	}
	if len(decays) != len(epochBoundaries)+1 {
		return nil, errors.Errorf("train.piecewise_lr_decay has %d values, it requires %d (one more than train.piecewise_boundaries)",
			len(decays), len(epochBoundaries)+1)
	}
	epochSteps, err := stepsPerEpoch(c)
	if err != nil {
		return nil, err
	}
	boundaries := make([]int, len(epochBoundaries))
	for ii, epoch := range epochBoundaries {
		boundaries[ii] = int(epoch * epochSteps)
	}
	values := make([]float64, len(decays))
	for ii, decay := range decays {
		values[ii] = lr * decay
	}
	klog.V(1).Infof("Piecewise constant learning rate: boundaries (steps)=%v, values=%v", boundaries, values)
	var schedule Schedule
	if exception := exceptions.Try(func() { schedule = PiecewiseConstant(boundaries, values) }); exception != nil {
		return nil, errors.Errorf("invalid piecewise learning rate: %v", exception)
	}
	return schedule, nil
}

func cosineFromConfig(c *config.Config, lr float64, period int) (Schedule, error) {
	minLR, err := c.FloatOr(config.SectionTrain, ParamCosineMinLearningRate, 0)
	if err != nil {
		return nil, err
	}
	warmUp, err := c.IntOr(config.SectionTrain, ParamCosineWarmUpSteps, 0)
	if err != nil {
		return nil, err
	}
	if warmUp < 0 {
		return nil, errors.Errorf("train.%s must be >= 0, got %d", ParamCosineWarmUpSteps, warmUp)
	}
	if period < 0 {
		epochSteps, err := stepsPerEpoch(c)
		if err != nil {
			return nil, err
		}
		epochs, err := c.Int(config.SectionTrain, "epochs")
		if err != nil {
			return nil, err
		}
		period = max(int(epochSteps*float64(epochs))/(-period), 1)
	}
	klog.V(1).Infof("Cosine learning rate schedule: period=%d steps, warm-up=%d steps, from %g to %g", period, warmUp, lr, minLR)
	return CosineSchedule(lr, minLR, period, warmUp), nil
}
