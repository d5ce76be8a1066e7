// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// towers trains, evaluates, runs inference with or inspects a model replicated over
// "run_config.num_gpu" towers, configured by a YAML file.
//
// Usage:
//
//	towers -config=blobs.yaml -set="train.epochs=2;run_config.num_gpu=2" -mode=train -progress
//	towers -config=blobs.yaml -mode=infer -samples="0.1,0.2;1.5,-3"
//
// Inference samples are separated by ";", since the features of a sample are comma-separated.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/datasets"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML configuration file. If empty, the default "+
		"configuration (listed under -set) is used.")
	flagMode = flag.String("mode", "train", "One of train, eval, infer, inspect or inspect_variables.")
	flagSamples = flag.String("samples", "", "Samples given to -mode=infer, separated by \";\".")
	flagProgress = flag.Bool("progress", true, "Display a progress bar during training.")
)

func main() {
	klog.InitFlags(nil)
	cfg := DefaultConfig()
	settings := commandline.CreateSettingsFlag(cfg, "")
	flag.Parse()

	if *flagConfig != "" {
		must.M(mergeConfigFile(cfg, *flagConfig))
	}
	paramsSet := must.M1(cfg.ParseSettings(*settings))
	if len(paramsSet) > 0 {
		klog.Infof("Settings changed from the command line:\n%s", commandline.SprintModifiedSettings(cfg, paramsSet))
	}

	var samples []string
	if *flagSamples != "" {
		samples = strings.Split(*flagSamples, ";")
	}
	req, err := driver.ParseMode(*flagMode, samples)
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg)
	if err != nil {
		klog.Fatalf("Failed to create the driver: %+v", err)
	}
	klog.Infof("Host: %s", app.Host())
	if *flagProgress {
		commandline.AttachProgressBar(app)
	}
	result, err := app.Run(req)
	if err != nil {
		klog.Fatalf("Failed to %s: %+v", *flagMode, err)
	}
	fmt.Println(commandline.FormatResult(result))
}

// mergeConfigFile loads the YAML configuration in path over cfg.
func mergeConfigFile(cfg *config.Config, path string) error {
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, section := range loaded.Sections() {
		for _, key := range loaded.Keys(section) {
			value, err := loaded.Get(section, key)
			if err != nil {
				return errors.WithMessagef(err, "reading %q", path)
			}
			cfg.Set(section, key, value)
		}
	}
	return nil
}

// NewApp creates the driver with the inputter selected by "data.inputter" and the model
// selected by "model.name".
func NewApp(cfg *config.Config) (*driver.App, error) {
	inputter, err := datasets.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	model, err := ModelFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return driver.New(cfg, inputter, model), nil
}
