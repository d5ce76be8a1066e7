// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/pkg/ml/aggregate"
	"github.com/lambdal/towers/pkg/ml/checkpoints"
	"github.com/lambdal/towers/pkg/ml/optimizers"
	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/lambdal/towers/pkg/support/xtensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TagEvalAccuracy is the summary tag of the final evaluation accuracy.
const TagEvalAccuracy = "Eval accuracy"

// numEvalLogs is the number of running accuracy log lines during an evaluation.
const numEvalLogs = 10

// EvalLogSteps returns the evaluation steps, counted from 0, that log the running accuracy.
func EvalLogSteps(maxSteps int) []int {
	every := evalLogEvery(maxSteps)
	var steps []int
	for step := 0; step < maxSteps; step += every {
		steps = append(steps, step)
	}
	return steps
}

func evalLogEvery(maxSteps int) int {
	return max(1, maxSteps/numEvalLogs)
}

// eval implements the Eval request.
func (a *App) eval() (result *Result, err error) {
	ec, err := NewEvalConfig(a.config)
	if err != nil {
		return nil, errors.WithMessage(err, "eval")
	}
	maxSteps := ec.MaxSteps()
	if maxSteps <= 0 {
		return nil, errors.Errorf("eval: no evaluation steps, eval_num_samples=%d * epochs=%d / batch_size=%d is 0",
			ec.EvalNumSamples, ec.Epochs, ec.BatchSize)
	}
	result = &Result{Mode: Eval{}.mode()}
	a.setupTowers(ec.NumGPU, result)

	ctx := context.New()
	if result.GlobalStep, err = restoreModelCheckpoint(ctx, ec.ModelDir); err != nil {
		return nil, errors.WithMessage(err, "eval")
	}
	ds, err := a.inputter.InputFn(ModeEval)
	if err != nil {
		return nil, errors.WithMessage(err, "eval")
	}
	exec, err := a.newExec(ec.RunConfig, ctx, "eval", func(ctx *context.Context, features, labels *Node) *Node {
		towerAccuracies := make([]*Node, 0, ec.NumGPU)
		forEachTower(ctx, ec.NumGPU, ec.BatchSizePerGPU, features, labels, func(_ int, towerCtx *context.Context, x, y *Node) {
			_, predictions := a.modeler.CreateGraph(towerCtx, ModeEval, x)
			towerAccuracies = append(towerAccuracies, a.modeler.CreateEvalMetrics(predictions, y))
		})
		return aggregate.AverageAccuracies(towerAccuracies)
	})
	if err != nil {
		return nil, err
	}
	defer exec.Finalize()

	logEvery := evalLogEvery(maxSteps)
	var accumulated float64
	for step := range maxSteps {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading evaluation batch %d from %s", step, ds.Name())
		}
		outputs, err := execStep(exec, nil, inputs[0], labels[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluation step %d", step)
		}
		accuracy, err := xtensors.Float(outputs[0])
		if err != nil {
			return nil, err
		}
		accumulated += accuracy
		result.StepsRun++
		if step%logEvery == 0 {
			result.LogSteps = append(result.LogSteps, int64(step))
			klog.Infof("Evaluated %d of %d steps, running accuracy: %g", step, maxSteps, accumulated/float64(step+1))
		}
	}
	result.Accuracy = accumulated / float64(maxSteps)

	writer, err := summary.NewWriter(ec.EvalDir())
	if err != nil {
		return nil, err
	}
	defer func() {
		closeErr := writer.Close()
		if err == nil && closeErr != nil {
			err = closeErr
			result = nil
		}
	}()
	if err = writer.AddScalars(result.GlobalStep, []summary.Value{{Tag: TagEvalAccuracy, Value: result.Accuracy}}); err != nil {
		return nil, err
	}
	if err = writer.Flush(); err != nil {
		return nil, err
	}
	result.SummarySteps = []int64{result.GlobalStep}
	klog.Infof("Evaluation accuracy: %g", result.Accuracy)
	return result, nil
}

// restoreModelCheckpoint attaches the latest checkpoint of modelDir to ctx, for eval and
// infer, and returns its global step. It fails with ErrNoCheckpoint if there is none.
// Variables missing from the checkpoint are initialized from scratch.
func restoreModelCheckpoint(ctx *context.Context, modelDir string) (step int64, err error) {
	handler, err := checkpoints.AttachLatest(ctx, modelDir)
	if err != nil {
		return 0, errors.WithMessage(err, "can not find any checkpoint")
	}
	err = exceptions.TryCatch[error](func() { step = optimizers.GlobalStep(ctx) })
	if err != nil {
		return 0, err
	}
	klog.V(1).Infof("Restored %s at step %d", handler, step)
	return step, nil
}
