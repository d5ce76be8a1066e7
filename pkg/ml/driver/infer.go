// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// infer implements the Infer request.
func (a *App) infer(samples []string) (*Result, error) {
	ic, err := NewInferConfig(a.config)
	if err != nil {
		return nil, errors.WithMessage(err, "infer")
	}
	maxSteps := ic.MaxSteps(len(samples))
	klog.V(1).Infof("Inference of %d samples in %d steps", len(samples), maxSteps)
	result := &Result{Mode: Infer{}.mode()}
	a.setupTowers(ic.NumGPU, result)

	ctx := context.New()
	if result.GlobalStep, err = restoreModelCheckpoint(ctx, ic.ModelDir); err != nil {
		return nil, errors.WithMessage(err, "infer")
	}
	if maxSteps == 0 {
		return result, nil
	}
	ds, err := a.inputter.InputFn(ModeInfer, samples...)
	if err != nil {
		return nil, errors.WithMessage(err, "infer")
	}
	exec, err := a.newExec(ic.RunConfig, ctx, "infer", func(ctx *context.Context, features *Node) []*Node {
		towerPredictions := make([]*Node, 0, ic.NumGPU)
		forEachTower(ctx, ic.NumGPU, ic.BatchSizePerGPU, features, nil, func(_ int, towerCtx *context.Context, x, _ *Node) {
			_, predictions := a.modeler.CreateGraph(towerCtx, ModeInfer, x)
			towerPredictions = append(towerPredictions, predictions)
		})
		return towerPredictions
	})
	if err != nil {
		return nil, err
	}
	defer exec.Finalize()

	for step := range maxSteps {
		_, inputs, _, err := ds.Yield()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading inference batch %d from %s", step, ds.Name())
		}
		predictions, err := execStep(exec, nil, inputs[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "inference step %d", step)
		}
		a.modeler.DisplayPredictionSimple(predictions, samples)
		result.StepsRun++
	}
	return result, nil
}
