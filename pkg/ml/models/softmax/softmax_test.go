// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package softmax

import (
	"bytes"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/internal/backendtest"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	c := config.New()
	_, err := FromConfig(c)
	require.ErrorIs(t, err, config.ErrMissingKey)

	c.Set(config.SectionData, "num_features", 3)
	c.Set(config.SectionData, "num_classes", 1)
	_, err = FromConfig(c)
	require.Error(t, err)

	c.Set(config.SectionData, "num_classes", 4)
	c.Set(config.SectionModel, "feature_mean_momentum", 0.5)
	c.Set(config.SectionModel, "dtype", "float64")
	m, err := FromConfig(c)
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumFeatures)
	assert.Equal(t, 4, m.NumClasses)
	assert.Equal(t, 0.5, m.MeanMomentum)
	assert.Equal(t, 0.01, m.InitStddev)
	assert.Equal(t, "float64", m.DType)

	c.Set(config.SectionModel, "feature_mean_momentum", 1.0)
	_, err = FromConfig(c)
	require.Error(t, err)
}

func TestMeanUpdatedOnlyByFirstTower(t *testing.T) {
	m := New(2, 3)
	m.MeanMomentum = 0.5
	ctx := context.New()
	exec := context.MustNewExec(backendtest.Backend(t), ctx, func(ctx *context.Context, features *Node) *Node {
		m.CreateGraph(ctx.Checked(false), driver.ModeTrain, Slice(features, AxisRange(0, 1)))
		logits, _ := m.CreateGraph(ctx.Reuse(), driver.ModeTrain, Slice(features, AxisRange(1, 2)))
		return logits
	})
	exec.MustExec([][]float32{{1, 2}, {3, 4}})

	var trainable []string
	for v := range ctx.IterVariables() {
		if v.Trainable {
			trainable = append(trainable, v.ScopeAndName())
		}
	}
	assert.ElementsMatch(t, []string{"/softmax/weights", "/softmax/bias"}, trainable)
	mean := ctx.GetVariableByScopeAndName("/"+Scope, FeatureMeanName)
	require.NotNil(t, mean)
	// First tower sees only the example [1, 2].
	assert.InDeltaSlice(t, []float32{0.5, 1}, tensors.MustCopyFlatData[float32](mean.MustValue()), 1e-6)
}

func TestNoUpdatesOutsideTraining(t *testing.T) {
	for _, mode := range []driver.Mode{driver.ModeEval, driver.ModeInfer} {
		ctx := context.New()
		m := New(2, 2)
		context.MustExecOnce(backendtest.Backend(t), ctx, func(ctx *context.Context, g *Graph) *Node {
			_, predictions := m.CreateGraph(ctx, mode, Const(g, [][]float32{{1, 1}, {3, 3}}))
			return predictions
		})
		mean := ctx.GetVariableByScopeAndName("/"+Scope, FeatureMeanName)
		require.NotNil(t, mean)
		assert.Equal(t, []float32{0, 0}, tensors.MustCopyFlatData[float32](mean.MustValue()), "mode %s", mode)
	}
}

func TestCenteredForward(t *testing.T) {
	m := New(2, 2)
	ctx := context.New()
	scope := ctx.In(Scope)
	scope.VariableWithValue(FeatureMeanName, []float32{1, 1}).SetTrainable(false)
	scope.VariableWithValue(WeightsName, [][]float32{{1, 0}, {0, 1}})
	results := context.MustExecOnceN(backendtest.Backend(t), ctx, func(ctx *context.Context, g *Graph) []*Node {
		features := Const(g, [][]float32{{3, 0}, {0, 3}})
		labels := Const(g, []int32{0, 1})
		logits, predictions := m.CreateGraph(ctx.Checked(false), driver.ModeEval, features)
		return []*Node{logits, predictions, m.CreateEvalMetrics(predictions, labels), m.CreateLoss(logits, labels)}
	})
	assert.Equal(t, []float32{2, -1, -1, 2}, tensors.MustCopyFlatData[float32](results[0]))
	assert.Equal(t, []int32{0, 1}, tensors.MustCopyFlatData[int32](results[1]))
	assert.Equal(t, float32(1), tensors.ToScalar[float32](results[2]))
	// Each example: log(e^2 + e^-1) - 2.
	want := math.Log(math.Exp(2)+math.Exp(-1)) - 2
	assert.InDelta(t, want, float64(tensors.ToScalar[float32](results[3])), 1e-5)
}

func TestCenterShapes(t *testing.T) {
	context.MustExecOnce(backendtest.Backend(t), context.New(), func(_ *context.Context, g *Graph) *Node {
		x := Const(g, [][]float32{{1, 2}})
		require.Panics(t, func() { Center(x, Const(g, []float32{0, 0, 0})) })
		return Center(x, Const(g, []float32{1, 1}))
	})
}

func TestDisplayPredictionSimple(t *testing.T) {
	m := New(2, 2)
	var out bytes.Buffer
	m.Output = &out
	m.DisplayPredictionSimple([]*tensors.Tensor{tensors.FromValue([]int32{1}), tensors.FromValue([]int32{0})},
		[]string{"a", "b", "c"})
	m.DisplayPredictionSimple([]*tensors.Tensor{tensors.FromValue([]int32{1, 1})}, []string{"a", "b", "c"})
	assert.Equal(t, "tower 0: a -> class 1\ntower 1: b -> class 0\ntower 0: c -> class 1\ntower 0: a -> class 1\n",
		out.String())
}
