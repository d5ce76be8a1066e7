// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/lambdal/towers/internal/backendtest"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runSteps runs n steps of loss=mean(w), w=[1, 1], so the gradient is [0.5, 0.5], and
// returns the context and the final value of w.
func runSteps(t *testing.T, opt Interface, n int) (*context.Context, []float32) {
	t.Helper()
	ctx := context.New()
	e := context.MustNewExec(backendtest.Backend(t), ctx, func(ctx *context.Context, g *Graph) *Node {
		w := ctx.In("dense").VariableWithValue("w", []float32{1, 1}).ValueGraph(g)
		loss := ReduceAllMean(w)
		grads := Gradient(loss, w)
		require.Len(t, TrainableInUse(ctx, g), len(grads))
		opt.UpdateGraphWithGradients(ctx, grads, loss.DType())
		return GlobalStepVar(ctx).ValueGraph(g)
	})
	for ii := range n {
		step := e.MustExec()[0]
		assert.Equal(t, int64(ii+1), tensors.ToScalar[int64](step), "the global step must be incremented by every update")
	}
	assert.Equal(t, int64(n), GlobalStep(ctx))
	w := ctx.GetVariableByScopeAndName("/dense", "w")
	require.NotNil(t, w)
	return ctx, tensors.MustCopyFlatData[float32](w.MustValue())
}

func TestSGD(t *testing.T) {
	_, w := runSteps(t, StochasticGradientDescent(0.1), 1)
	assert.InDeltaSlice(t, []float32{0.95, 0.95}, w, 1e-6)
}

func TestMomentum(t *testing.T) {
	ctx, w := runSteps(t, Momentum(0.1, 0.9), 2)
	assert.InDeltaSlice(t, []float32{0.855, 0.855}, w, 1e-6)

	accum := ctx.GetVariableByScopeAndName("/optimizers/momentum/dense", "w")
	require.NotNil(t, accum)
	assert.False(t, accum.Trainable)
	assert.InDeltaSlice(t, []float32{0.95, 0.95}, tensors.MustCopyFlatData[float32](accum.MustValue()), 1e-6)

	require.NoError(t, Momentum(0.1, 0.9).Clear(ctx))
	assert.Nil(t, ctx.GetVariableByScopeAndName("/optimizers/momentum/dense", "w"))
}

func TestAdam(t *testing.T) {
	// The first Adam step moves each parameter by ~learning rate.
	_, w := runSteps(t, Adam().Done(0.1), 1)
	assert.InDeltaSlice(t, []float32{0.9, 0.9}, w, 1e-4)
}

func TestRMSProp(t *testing.T) {
	_, w := runSteps(t, RMSProp().Done(0.1), 1)
	assert.InDeltaSlice(t, []float32{0.9, 0.9}, w, 1e-4)
}

func TestMomentumRejectsMisalignedGradients(t *testing.T) {
	ctx := context.New()
	require.Panics(t, func() {
		context.MustExecOnce(backendtest.Backend(t), ctx, func(ctx *context.Context, g *Graph) *Node {
			a := ctx.VariableWithValue("a", []float32{1}).ValueGraph(g)
			b := ctx.VariableWithValue("b", []float32{2}).ValueGraph(g)
			loss := ReduceAllSum(Add(a, b))
			Momentum(0.1, 0.9).UpdateGraphWithGradients(ctx, Gradient(loss, a), loss.DType())
			return loss
		})
	})
}

func TestFromConfig(t *testing.T) {
	c := config.New()
	opt, err := FromConfig(c)
	require.NoError(t, err)
	assert.IsType(t, &momentum{}, opt)

	for _, name := range []string{"sgd", "momentum", "adam", "rmsprop"} {
		c.Set(config.SectionTrain, "optimizer", name)
		opt, err = FromConfig(c)
		require.NoError(t, err, name)
		assert.NotNil(t, opt, name)
	}

	c.Set(config.SectionTrain, "optimizer", "adagrad")
	_, err = FromConfig(c)
	require.ErrorContains(t, err, "adagrad")
	require.ErrorContains(t, err, "[adam momentum rmsprop sgd]")

	c.Set(config.SectionTrain, "optimizer", "momentum")
	c.Set(config.SectionTrain, "momentum", "high")
	_, err = FromConfig(c)
	require.Error(t, err)
}

// scheduleAt evaluates schedule at the given global step.
func scheduleAt(t *testing.T, schedule Schedule, step int64) float64 {
	t.Helper()
	lr := context.MustExecOnce(backendtest.Backend(t), context.New(), func(_ *context.Context, g *Graph) *Node {
		return schedule(Const(g, step), dtypes.Float64)
	})
	return tensors.ToScalar[float64](lr)
}

func TestLearningRateFromConfig(t *testing.T) {
	c := config.New()
	c.Set(config.SectionTrain, "learning_rate", 0.1)
	c.Set(config.SectionTrain, "batch_size", 10)
	c.Set(config.SectionData, "train_num_samples", 100)

	constant, err := LearningRateFromConfig(c)
	require.NoError(t, err)

	c.Set(config.SectionTrain, "piecewise_boundaries", []any{1, 2})
	c.Set(config.SectionTrain, "piecewise_lr_decay", []any{1, 0.1, 0.01})
	piecewise, err := LearningRateFromConfig(c)
	require.NoError(t, err)

	for _, tc := range []struct {
		step int64
		want float64
	}{{0, 0.1}, {10, 0.1}, {11, 0.01}, {20, 0.01}, {21, 0.001}} {
		assert.InDelta(t, 0.1, scheduleAt(t, constant, tc.step), 1e-12)
		assert.InDelta(t, tc.want, scheduleAt(t, piecewise, tc.step), 1e-12, "step %d", tc.step)
	}

	c.Set(config.SectionTrain, "piecewise_lr_decay", []any{1, 0.1})
	_, err = LearningRateFromConfig(c)
	require.Error(t, err)

	require.Panics(t, func() { PiecewiseConstant([]int{2, 1}, []float64{1, 2, 3}) })
}

func TestCosineSchedule(t *testing.T) {
	c := config.New()
	c.Set(config.SectionTrain, "learning_rate", 0.1)
	c.Set(config.SectionTrain, "batch_size", 10)
	c.Set(config.SectionTrain, "epochs", 2)
	c.Set(config.SectionData, "train_num_samples", 100)
	c.Set(config.SectionTrain, ParamCosinePeriodSteps, -1)

	wholeTraining, err := LearningRateFromConfig(c)
	require.NoError(t, err)
	warmUp := CosineSchedule(0.1, 0.02, 4, 4)

	for _, tc := range []struct {
		step                  int64
		wantWhole, wantWarmUp float64
	}{{0, 0.1, 0.025}, {3, 0.1 * (1 + math.Cos(math.Pi*3/20)) / 2, 0.1}, {4, 0.1 * (1 + math.Cos(math.Pi*4/20)) / 2, 0.1},
		{6, 0.1 * (1 + math.Cos(math.Pi*6/20)) / 2, 0.06}, {10, 0.05, 0.06}, {20, 0.1, 0.1}} {
		assert.InDelta(t, tc.wantWhole, scheduleAt(t, wholeTraining, tc.step), 1e-9, "step %d", tc.step)
		assert.InDelta(t, tc.wantWarmUp, scheduleAt(t, warmUp, tc.step), 1e-9, "step %d", tc.step)
	}

	c.Set(config.SectionTrain, "piecewise_boundaries", []any{1})
	_, err = LearningRateFromConfig(c)
	require.ErrorContains(t, err, "can't be used together")
	require.Panics(t, func() { CosineSchedule(0.1, 0, 0, 0) })
}

func TestUpdateLearningRate(t *testing.T) {
	ctx := context.New()
	schedule := PiecewiseConstant([]int{1}, []float64{0.5, 0.05})
	e := context.MustNewExec(backendtest.Backend(t), ctx, func(ctx *context.Context, g *Graph) *Node {
		w := ctx.VariableWithValue("w", []float32{1}).ValueGraph(g)
		loss := ReduceAllSum(w)
		lr := UpdateLearningRate(ctx, g, schedule, loss.DType(), 0.5)
		StochasticGradientDescent(0.5).UpdateGraphWithGradients(ctx, Gradient(loss, w), loss.DType())
		return lr
	})
	var got []float32
	for range 3 {
		got = append(got, tensors.ToScalar[float32](e.MustExec()[0]))
	}
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.05}, got, 1e-7, "steps 0 and 1 are on the first piece")
	w := ctx.GetVariableByScopeAndName(context.RootScope, "w")
	assert.InDeltaSlice(t, []float32{1 - 0.5 - 0.5 - 0.05}, tensors.MustCopyFlatData[float32](w.MustValue()), 1e-6)
}
