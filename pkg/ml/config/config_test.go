// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
model:
  dir: /tmp/model
train:
  batch_size: 32
  learning_rate: 0.1
  optimizer: momentum
  skip_restore_var_list: [logits, global_step]
  piecewise_boundaries: [2, 4]
run_config:
  num_gpu: 2
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "run_config", "train"}, c.Sections())

	dir, err := c.StringValue(SectionModel, "dir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/model", dir)

	batchSize, err := c.Int(SectionTrain, "batch_size")
	require.NoError(t, err)
	assert.Equal(t, 32, batchSize)

	lr, err := c.Float(SectionTrain, "learning_rate")
	require.NoError(t, err)
	assert.Equal(t, 0.1, lr)

	// Integers are accepted as floats, not the other way around.
	f, err := c.Float(SectionTrain, "batch_size")
	require.NoError(t, err)
	assert.Equal(t, 32.0, f)
	_, err = c.Int(SectionTrain, "learning_rate")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrMissingKey)

	skip, err := c.Strings(SectionTrain, "skip_restore_var_list")
	require.NoError(t, err)
	assert.Equal(t, []string{"logits", "global_step"}, skip)
	boundaries, err := c.Floats(SectionTrain, "piecewise_boundaries")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, boundaries)

	none, err := c.Strings(SectionTrain, "trainable_var_list")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = Parse([]byte("model: [1, 2]"))
	require.Error(t, err)
}

func TestMissingKeys(t *testing.T) {
	c, err := Parse([]byte(testYAML))
	require.NoError(t, err)

	_, err = c.Int(SectionEval, "batch_size")
	require.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), "eval.batch_size")
	_, err = c.StringValue(SectionModel, "name")
	require.ErrorIs(t, err, ErrMissingKey)

	epochs, err := c.IntOr(SectionTrain, "epochs", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, epochs)
	opt, err := c.StringOr(SectionTrain, "optimizer", "sgd")
	require.NoError(t, err)
	assert.Equal(t, "momentum", opt)
	momentum, err := c.FloatOr(SectionTrain, "momentum", 0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.9, momentum)
}

func TestBoolOr(t *testing.T) {
	c := New()
	shuffle, err := c.BoolOr(SectionData, "shuffle", true)
	require.NoError(t, err)
	assert.True(t, shuffle)
	c.Set(SectionData, "shuffle", false)
	shuffle, err = c.BoolOr(SectionData, "shuffle", true)
	require.NoError(t, err)
	assert.False(t, shuffle)
	c.Set(SectionData, "shuffle", "false")
	shuffle, err = c.BoolOr(SectionData, "shuffle", true)
	require.NoError(t, err)
	assert.False(t, shuffle)
	c.Set(SectionData, "shuffle", 3)
	_, err = c.BoolOr(SectionData, "shuffle", true)
	require.Error(t, err)
}

func TestParseSettings(t *testing.T) {
	c, err := Parse([]byte(testYAML))
	require.NoError(t, err)

	settingsFile := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(settingsFile, []byte("# Comment\ntrain.epochs=2\n\neval.batch_size=8;eval.epochs=1\n"), 0o600))

	paramsSet, err := c.ParseSettings(
		"train.batch_size=1_024;train.optimizer=adam;train.skip_restore_var_list=logits,bias;" +
			"train.learning_rate=0.01;run_config.save_summary_steps=3;file:" + settingsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"train.batch_size", "train.optimizer", "train.skip_restore_var_list",
		"train.learning_rate", "run_config.save_summary_steps", "train.epochs", "eval.batch_size", "eval.epochs"}, paramsSet)

	batchSize, err := c.Int(SectionTrain, "batch_size")
	require.NoError(t, err)
	assert.Equal(t, 1024, batchSize)
	opt, err := c.StringValue(SectionTrain, "optimizer")
	require.NoError(t, err)
	assert.Equal(t, "adam", opt)
	skip, err := c.Strings(SectionTrain, "skip_restore_var_list")
	require.NoError(t, err)
	assert.Equal(t, []string{"logits", "bias"}, skip)
	lr, err := c.Float(SectionTrain, "learning_rate")
	require.NoError(t, err)
	assert.Equal(t, 0.01, lr)
	steps, err := c.Int(SectionRunConfig, "save_summary_steps")
	require.NoError(t, err)
	assert.Equal(t, 3, steps)
	evalBatch, err := c.Int(SectionEval, "batch_size")
	require.NoError(t, err)
	assert.Equal(t, 8, evalBatch)

	_, err = c.ParseSettings("train.batch_size")
	require.Error(t, err)
	_, err = c.ParseSettings("batch_size=3")
	require.Error(t, err)
	_, err = c.ParseSettings("train.batch_size=0.5")
	require.Error(t, err)
	_, err = c.ParseSettings("file:" + filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	numGPU, err := c.Int(SectionRunConfig, "num_gpu")
	require.NoError(t, err)
	assert.Equal(t, 2, numGPU)
	assert.Contains(t, c.String(), "run_config.num_gpu=2")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestPredicates(t *testing.T) {
	allow := ContainsAny([]string{"dense", "logits"})
	assert.True(t, allow("model/dense/weights"))
	assert.True(t, allow("logits/bias"))
	assert.False(t, allow("global_step"))
	assert.True(t, ContainsAny(nil)("anything"))

	deny := ContainsNone([]string{"logits"})
	assert.False(t, deny("logits/bias"))
	assert.True(t, deny("dense/weights"))
	assert.True(t, ContainsNone(nil)("anything"))
}
