// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/lambdal/towers/pkg/core/devices"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second+200*time.Millisecond))
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.50ms", FormatDuration(2500*time.Microsecond))
	assert.Equal(t, "3.00µs", FormatDuration(3*time.Microsecond))
	assert.Equal(t, "500ns", FormatDuration(500*time.Nanosecond))
}

func TestFormatResult(t *testing.T) {
	assert.Empty(t, FormatResult(nil))

	train := FormatResult(&driver.Result{
		Mode: "train", GlobalStep: 12_000, StepsRun: 10,
		CheckpointSteps: []int64{4, 8, 10}, SummarySteps: nil,
	})
	assert.Contains(t, train, "12,000")
	assert.Contains(t, train, "4, 8, 10")
	assert.Contains(t, train, "Summaries")
	assert.NotContains(t, train, "Tower")

	placed := FormatResult(&driver.Result{
		Mode: "train", PretrainedRestored: 3, UnbackedTowers: 1,
		Towers: []driver.TowerPlacement{
			{Name: "tower_0", Compute: devices.GPUDevice(0), Parameters: devices.CPUDevice(0)},
			{Name: "tower_1", Compute: devices.GPUDevice(1), Parameters: devices.CPUDevice(0)},
		},
	})
	assert.Contains(t, placed, "tower_1")
	assert.Contains(t, placed, "/gpu:1")
	assert.Contains(t, placed, "/cpu:0")
	assert.Contains(t, placed, "1 without accelerator")
	assert.Contains(t, placed, "Warm-started variables")

	eval := FormatResult(&driver.Result{Mode: "eval", GlobalStep: 10, StepsRun: 100, Accuracy: 0.75})
	assert.Contains(t, eval, "75.00%")
	assert.NotContains(t, eval, "Checkpoints")

	inspect := FormatResult(&driver.Result{
		Mode:        "inspect",
		StepsRun:    2,
		BatchShapes: [][2]string{{"(4, 2)", "(4)"}, {"(4, 2)", "<nil>"}},
		Variables:   []string{"/dense/weights"},
	})
	assert.Contains(t, inspect, "(4, 2)")
	assert.Contains(t, inspect, "<nil>")
	assert.Contains(t, inspect, "/dense/weights")
}

func TestFormatScalars(t *testing.T) {
	table := FormatScalars(map[string][]summary.Point{
		"train_loss": {{Step: 3, Value: 0.9}, {Step: 6, Value: 0.5}, {Step: 9, Value: 0.25}},
		"empty":      nil,
	})
	assert.Contains(t, table, "train_loss")
	assert.Contains(t, table, "3-9")
	assert.Contains(t, table, "0.25")
	assert.NotContains(t, table, "empty")
}

func TestSprintSettings(t *testing.T) {
	cfg := config.New()
	cfg.Set(config.SectionTrain, "epochs", 2)
	cfg.Set(config.SectionRunConfig, "num_gpu", 1)
	paramsSet, err := cfg.ParseSettings("run_config.num_gpu=4;train.epochs=3;run_config.num_gpu=2")
	require.NoError(t, err)
	assert.Equal(t, "\t\"run_config.num_gpu\": (int) 2\n\t\"train.epochs\": (int) 3", SprintModifiedSettings(cfg, paramsSet))
	assert.Equal(t, "\t\"run_config.num_gpu\": (int) 2\n\t\"train.epochs\": (int) 3", SprintSettings(cfg))
}

func TestProgressBar(t *testing.T) {
	defer func(saved time.Duration) { maxUpdateFrequency = saved }(maxUpdateFrequency)
	maxUpdateFrequency = 0

	var out bytes.Buffer
	pBar := newProgressBar(&out, []ExtraMetricFn{func() (string, string) { return "Towers", "2" }})
	status := &driver.TrainStatus{StartStep: 0, MaxSteps: 3}
	require.NoError(t, pBar.onStart(status))
	for step := range 3 {
		status.GlobalStep = int64(step + 1)
		status.Loss = 1 / float64(step+1)
		status.StepDurations = append(status.StepDurations, time.Millisecond)
		require.NoError(t, pBar.onStep(status))
	}
	require.NoError(t, pBar.onStep(status), "no new steps, nothing to report")
	require.NoError(t, pBar.onEnd(status))

	printed := out.String()
	assert.Contains(t, printed, "Global Step")
	assert.Contains(t, printed, "3 of 3")
	assert.Contains(t, printed, "Median train step duration")
	assert.Contains(t, printed, "1.00ms")
	assert.Contains(t, printed, "Towers")
}
