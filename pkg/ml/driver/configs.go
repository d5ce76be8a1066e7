// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"path/filepath"

	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
)

const (
	// EvalSubdir is the subdirectory of the model directory where evaluation summaries are written.
	EvalSubdir = "eval"

	// DefaultBackend is the gomlx backend used when "run_config.backend" is not set: the
	// pure Go one.
	DefaultBackend = "go"
)

// RunConfig holds the settings shared by all orchestrators.
type RunConfig struct {
	// ModelDir holds the checkpoints and the training summaries ("model.dir").
	ModelDir string

	// NumGPU is the number of towers ("run_config.num_gpu").
	NumGPU int

	// Backend is the gomlx backend configuration ("run_config.backend"), e.g. "go" or
	// "xla:cuda".
	Backend string
}

// intGetter accumulates the first error of a sequence of required lookups.
type intGetter struct {
	c   *config.Config
	err error
}

func (g *intGetter) get(section, key string) int {
	if g.err != nil {
		return 0
	}
	var v int
	v, g.err = g.c.Int(section, key)
	return v
}

func (g *intGetter) positive(section, key string) int {
	v := g.get(section, key)
	if g.err == nil && v <= 0 {
		g.err = errors.Errorf("configuration %s.%s must be > 0, got %d", section, key, v)
	}
	return v
}

func newRunConfig(c *config.Config) (RunConfig, error) {
	var rc RunConfig
	var err error
	rc.ModelDir, err = c.StringValue(config.SectionModel, "dir")
	if err != nil {
		return rc, err
	}
	g := &intGetter{c: c}
	rc.NumGPU = g.positive(config.SectionRunConfig, "num_gpu")
	if g.err != nil {
		return rc, g.err
	}
	rc.Backend, err = c.StringOr(config.SectionRunConfig, "backend", DefaultBackend)
	return rc, err
}

// checkTowerBatch checks that the towers' slices fit in the batch.
func checkTowerBatch(section string, numGPU, batchSize, batchSizePerGPU int) error {
	if numGPU*batchSizePerGPU > batchSize {
		return errors.Errorf("%d towers of %s.batch_size_per_gpu=%d don't fit in %s.batch_size=%d",
			numGPU, section, batchSizePerGPU, section, batchSize)
	}
	return nil
}

// TrainConfig is the view of the configuration used by the training orchestrator.
type TrainConfig struct {
	RunConfig

	BatchSize, BatchSizePerGPU, Epochs int
	TrainNumSamples                    int

	LogEveryNIter, SaveSummarySteps, SaveCheckpointsSteps, KeepCheckpointMax int

	// RestoreCheckpoint is the pre-trained checkpoint path ("train.restore_ckpt"), or "" if
	// not configured.
	RestoreCheckpoint string

	// RestoreVar selects the variables restored from RestoreCheckpoint, by scope and name (e.g.
	// "/dense/weights"). It rejects the names containing any of "train.skip_restore_var_list".
	RestoreVar func(name string) bool

	// TrainableVar selects the trainable variables to update. It accepts names containing any
	// of "train.trainable_var_list", or every name if the list is not set.
	TrainableVar func(name string) bool
}

// NewTrainConfig builds the TrainConfig view of c. Missing required keys are errors wrapping
// config.ErrMissingKey.
func NewTrainConfig(c *config.Config) (*TrainConfig, error) {
	rc, err := newRunConfig(c)
	if err != nil {
		return nil, err
	}
	tc := &TrainConfig{RunConfig: rc}
	g := &intGetter{c: c}
	tc.BatchSize = g.positive(config.SectionTrain, "batch_size")
	tc.BatchSizePerGPU = g.positive(config.SectionTrain, "batch_size_per_gpu")
	tc.Epochs = g.get(config.SectionTrain, "epochs")
	tc.TrainNumSamples = g.get(config.SectionData, "train_num_samples")
	tc.LogEveryNIter = g.positive(config.SectionRunConfig, "log_every_n_iter")
	tc.SaveSummarySteps = g.positive(config.SectionRunConfig, "save_summary_steps")
	tc.SaveCheckpointsSteps = g.positive(config.SectionRunConfig, "save_checkpoints_steps")
	tc.KeepCheckpointMax = g.get(config.SectionRunConfig, "keep_checkpoint_max")
	if g.err != nil {
		return nil, g.err
	}
	if err = checkTowerBatch(config.SectionTrain, tc.NumGPU, tc.BatchSize, tc.BatchSizePerGPU); err != nil {
		return nil, err
	}
	if tc.RestoreCheckpoint, err = c.StringOr(config.SectionTrain, "restore_ckpt", ""); err != nil {
		return nil, err
	}
	skipRestore, err := c.Strings(config.SectionTrain, "skip_restore_var_list")
	if err != nil {
		return nil, err
	}
	tc.RestoreVar = config.ContainsNone(skipRestore)
	trainable, err := c.Strings(config.SectionTrain, "trainable_var_list")
	if err != nil {
		return nil, err
	}
	tc.TrainableVar = config.ContainsAny(trainable)
	return tc, nil
}

// MaxSteps is the total number of training steps: train_num_samples * epochs / batch_size.
func (tc *TrainConfig) MaxSteps() int64 {
	return int64(tc.TrainNumSamples) * int64(tc.Epochs) / int64(tc.BatchSize)
}

// EvalConfig is the view of the configuration used by the evaluation orchestrator.
type EvalConfig struct {
	RunConfig

	BatchSize, BatchSizePerGPU, Epochs int
	EvalNumSamples                     int
}

// NewEvalConfig builds the EvalConfig view of c.
func NewEvalConfig(c *config.Config) (*EvalConfig, error) {
	rc, err := newRunConfig(c)
	if err != nil {
		return nil, err
	}
	ec := &EvalConfig{RunConfig: rc}
	g := &intGetter{c: c}
	ec.BatchSize = g.positive(config.SectionEval, "batch_size")
	ec.BatchSizePerGPU = g.positive(config.SectionEval, "batch_size_per_gpu")
	ec.Epochs = g.get(config.SectionEval, "epochs")
	ec.EvalNumSamples = g.get(config.SectionData, "eval_num_samples")
	if g.err != nil {
		return nil, g.err
	}
	if err = checkTowerBatch(config.SectionEval, ec.NumGPU, ec.BatchSize, ec.BatchSizePerGPU); err != nil {
		return nil, err
	}
	return ec, nil
}

// MaxSteps is the number of evaluation steps: eval_num_samples * epochs / batch_size.
func (ec *EvalConfig) MaxSteps() int {
	return ec.EvalNumSamples * ec.Epochs / ec.BatchSize
}

// EvalDir is where the evaluation summaries are written.
func (ec *EvalConfig) EvalDir() string {
	return filepath.Join(ec.ModelDir, EvalSubdir)
}

// InferConfig is the view of the configuration used by the inference orchestrator.
type InferConfig struct {
	RunConfig

	BatchSize, BatchSizePerGPU int
}

// NewInferConfig builds the InferConfig view of c.
func NewInferConfig(c *config.Config) (*InferConfig, error) {
	rc, err := newRunConfig(c)
	if err != nil {
		return nil, err
	}
	ic := &InferConfig{RunConfig: rc}
	g := &intGetter{c: c}
	ic.BatchSize = g.positive(config.SectionInfer, "batch_size")
	ic.BatchSizePerGPU = g.positive(config.SectionInfer, "batch_size_per_gpu")
	if g.err != nil {
		return nil, g.err
	}
	if err = checkTowerBatch(config.SectionInfer, ic.NumGPU, ic.BatchSize, ic.BatchSizePerGPU); err != nil {
		return nil, err
	}
	return ic, nil
}

// MaxSteps is the number of full batches in numSamples. The trailing partial batch is dropped.
func (ic *InferConfig) MaxSteps(numSamples int) int {
	return numSamples / ic.BatchSize
}
