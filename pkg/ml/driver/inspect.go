// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InspectBatches is the number of training batches read by Inspect.
const InspectBatches = 8

// inspect implements the Inspect request: it reads a few batches of the training input
// pipeline and reports their shapes. With listVariables, it also builds the first tower's
// forward pass on the first batch and lists its trainable variables, minus the ones matching
// "train.skip_l2_var_list".
func (a *App) inspect(listVariables bool) (*Result, error) {
	result := &Result{Mode: Inspect{}.mode()}
	ds, err := a.inputter.InputFn(ModeTrain)
	if err != nil {
		return nil, errors.WithMessage(err, "inspect")
	}
	var first *tensors.Tensor
	for step := range InspectBatches {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			return nil, errors.WithMessagef(err, "inspect batch #%d", step)
		}
		shapes := [2]string{inputs[0].Shape().String(), "<nil>"}
		if len(labels) > 0 && labels[0] != nil {
			shapes[1] = labels[0].Shape().String()
		}
		klog.Infof("Batch #%d: features %s, labels %s", step, shapes[0], shapes[1])
		result.BatchShapes = append(result.BatchShapes, shapes)
		result.StepsRun++
		if first == nil {
			first = inputs[0]
		}
	}
	if !listVariables {
		return result, nil
	}

	rc, err := newRunConfig(a.config)
	if err != nil {
		return nil, errors.WithMessage(err, "inspect")
	}
	batchSizePerGPU, err := a.config.Int(config.SectionTrain, "batch_size_per_gpu")
	if err != nil {
		return nil, errors.WithMessage(err, "inspect")
	}
	skipL2, err := a.config.Strings(config.SectionTrain, "skip_l2_var_list")
	if err != nil {
		return nil, errors.WithMessage(err, "inspect")
	}
	ctx := context.New()
	exec, err := a.newExec(rc, ctx, "inspect", func(ctx *context.Context, features *Node) *Node {
		var predictions *Node
		forEachTower(ctx, 1, batchSizePerGPU, features, nil, func(_ int, towerCtx *context.Context, x, _ *Node) {
			_, predictions = a.modeler.CreateGraph(towerCtx, ModeTrain, x)
		})
		return predictions
	})
	if err != nil {
		return nil, err
	}
	defer exec.Finalize()
	if _, err = execStep(exec, nil, first); err != nil {
		return nil, errors.WithMessage(err, "inspect forward pass")
	}

	keep := config.ContainsNone(skipL2)
	for v := range ctx.IterVariables() {
		if v.Trainable && keep(v.ScopeAndName()) {
			klog.Infof("Variable %s: %s", v.ScopeAndName(), v.Shape())
			result.Variables = append(result.Variables, v.ScopeAndName())
		}
	}
	return result, nil
}
