// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"maps"
	"slices"

	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/ml/models/softmax"
	"github.com/pkg/errors"
)

// Models registered by name, selected with "model.name".
var Models = map[string]func(cfg *config.Config) (driver.Modeler, error){
	"softmax": func(cfg *config.Config) (driver.Modeler, error) { return softmax.FromConfig(cfg) },
}

// ModelFromConfig creates the model named by "model.name" (default "softmax").
func ModelFromConfig(cfg *config.Config) (driver.Modeler, error) {
	name, err := cfg.StringOr(config.SectionModel, "name", "softmax")
	if err != nil {
		return nil, err
	}
	factory, found := Models[name]
	if !found {
		return nil, errors.Errorf("unknown model.name %q, known models are %q", name, slices.Sorted(maps.Keys(Models)))
	}
	return factory(cfg)
}

// DefaultConfig trains the softmax model on synthetic blobs, on 2 towers.
func DefaultConfig() *config.Config {
	cfg := config.New()
	cfg.Set(config.SectionModel, "name", "softmax")
	cfg.Set(config.SectionModel, "dir", "~/work/towers/blobs")
	cfg.Set(config.SectionModel, "dtype", "float32")

	cfg.Set(config.SectionData, "inputter", "blobs")
	cfg.Set(config.SectionData, "num_features", 2)
	cfg.Set(config.SectionData, "num_classes", 3)
	cfg.Set(config.SectionData, "train_num_samples", 1024)
	cfg.Set(config.SectionData, "eval_num_samples", 256)

	cfg.Set(config.SectionTrain, "batch_size", 32)
	cfg.Set(config.SectionTrain, "batch_size_per_gpu", 16)
	cfg.Set(config.SectionTrain, "epochs", 10)
	cfg.Set(config.SectionTrain, "optimizer", "sgd")
	cfg.Set(config.SectionTrain, "learning_rate", 0.05)

	cfg.Set(config.SectionEval, "batch_size", 32)
	cfg.Set(config.SectionEval, "batch_size_per_gpu", 16)
	cfg.Set(config.SectionEval, "epochs", 1)

	cfg.Set(config.SectionInfer, "batch_size", 2)
	cfg.Set(config.SectionInfer, "batch_size_per_gpu", 1)

	cfg.Set(config.SectionRunConfig, "num_gpu", 2)
	cfg.Set(config.SectionRunConfig, "backend", driver.DefaultBackend)
	cfg.Set(config.SectionRunConfig, "log_every_n_iter", 50)
	cfg.Set(config.SectionRunConfig, "save_summary_steps", 10)
	cfg.Set(config.SectionRunConfig, "save_checkpoints_steps", 100)
	cfg.Set(config.SectionRunConfig, "keep_checkpoint_max", 3)
	return cfg
}
