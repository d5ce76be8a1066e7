// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	gomlxckpt "github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/lambdal/towers/pkg/ml/aggregate"
	"github.com/lambdal/towers/pkg/ml/checkpoints"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/optimizers"
	"github.com/lambdal/towers/pkg/ml/regularizers"
	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/lambdal/towers/pkg/support/xslices"
	"github.com/lambdal/towers/pkg/support/xtensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Summary tags written by the training orchestrator.
const (
	TagTrainLoss        = "train_loss"
	TagTrainingAccuracy = "training_accuracy"
	TagLearningRate     = "learning_rate"
)

// trainer holds the state of one training invocation.
type trainer struct {
	app    *App
	tc     *TrainConfig
	result *Result

	ctx        *context.Context
	handler    *gomlxckpt.Handler
	pretrained *checkpoints.Pretrained
	writer     *summary.Writer

	opt          optimizers.Interface
	schedule     optimizers.Schedule
	baseLR       float64
	regularizer  regularizers.Regularizer
	skipL2       []string
	merged       *summary.Merged
	reportedWarm bool
}

// train implements the Train request.
func (a *App) train() (result *Result, err error) {
	tc, err := NewTrainConfig(a.config)
	if err != nil {
		return nil, errors.WithMessage(err, "train")
	}
	modelDir, created, err := fsutil.EnsureDir(tc.ModelDir)
	if err != nil {
		return nil, err
	}
	if created {
		klog.Infof("Creating model directory %s", modelDir)
	}
	tc.ModelDir = modelDir

	t := &trainer{app: a, tc: tc, result: &Result{Mode: Train{}.mode()}, ctx: context.New()}
	a.setupTowers(tc.NumGPU, t.result)
	if err = t.configure(); err != nil {
		return nil, errors.WithMessage(err, "train")
	}
	if err = t.attach(); err != nil {
		return nil, err
	}
	t.writer, err = summary.NewWriter(tc.ModelDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeErr := t.writer.Close()
		if err == nil && closeErr != nil {
			err = closeErr
			result = nil
		}
	}()
	if err = t.loop(); err != nil {
		return nil, err
	}
	return t.result, nil
}

// configure reads the optimizer, the learning rate schedule and the regularization.
func (t *trainer) configure() (err error) {
	c := t.app.config
	if t.opt, err = optimizers.FromConfig(c); err != nil {
		return err
	}
	if t.schedule, err = optimizers.LearningRateFromConfig(c); err != nil {
		return err
	}
	if t.baseLR, err = optimizers.BaseLearningRate(c); err != nil {
		return err
	}
	if t.regularizer, err = regularizers.FromConfig(c); err != nil {
		return err
	}
	t.skipL2, err = c.Strings(config.SectionTrain, "skip_l2_var_list")
	return err
}

// attach connects the context to the checkpoints of the model directory, and, if the model
// directory has none and "train.restore_ckpt" is configured, to the pretrained checkpoint.
//
// The pretrained checkpoint is only read if some variable is selected for restoring: an
// empty selection initializes everything from scratch.
func (t *trainer) attach() error {
	tc := t.tc
	hasCheckpoint, err := checkpoints.Exists(tc.ModelDir)
	if err != nil {
		return err
	}
	switch {
	case hasCheckpoint:
		klog.V(1).Infof("Resuming from the checkpoints of %s", tc.ModelDir)
	case tc.RestoreCheckpoint != "":
		t.pretrained = checkpoints.NewPretrained(tc.RestoreCheckpoint, tc.RestoreVar)
		t.ctx.SetLoader(t.pretrained)
	default:
		klog.Infof("Initialize global variables ...")
	}
	t.handler, err = checkpoints.Attach(t.ctx, tc.ModelDir, tc.KeepCheckpointMax)
	return err
}

// reportPretrained logs how the pretrained checkpoint was used, once the variables exist.
func (t *trainer) reportPretrained() {
	if t.pretrained == nil || t.reportedWarm {
		return
	}
	t.reportedWarm = true
	requested, covered := t.pretrained.Restored()
	t.result.PretrainedRestored = covered
	if requested == 0 {
		klog.Infof("No variable selected for restoring from %s, all variables initialized from scratch", t.tc.RestoreCheckpoint)
		return
	}
	klog.Infof("Restored %d of %d parameters from %s", covered, requested, t.tc.RestoreCheckpoint)
}

// buildStep builds the replicated training step: the towers' forward passes, losses and
// gradients, their averages, and the single update of the shared variables. It returns the
// new global step, the mean loss, the first tower's accuracy, the learning rate and the
// merged summary.
func (t *trainer) buildStep(ctx *context.Context, features, labels *Node) []*Node {
	g := features.Graph()
	ctx.SetTraining(g, true)
	globalStepVar := optimizers.GlobalStepVar(ctx)

	var trainVars []*context.Variable
	var accuracy *Node
	towerLosses := make([]*Node, 0, t.tc.NumGPU)
	towerGrads := make([][]*Node, 0, t.tc.NumGPU)
	forEachTower(ctx, t.tc.NumGPU, t.tc.BatchSizePerGPU, features, labels, func(tower int, towerCtx *context.Context, x, y *Node) {
		logits, predictions := t.app.modeler.CreateGraph(towerCtx, ModeTrain, x)
		if tower == 0 {
			if t.pretrained != nil {
				t.pretrained.Seal()
			}
			trainVars = t.selectTrainable(ctx, g)
			accuracy = t.app.modeler.CreateEvalMetrics(predictions, y)
		}
		loss := t.app.modeler.CreateLoss(logits, y)
		if t.regularizer != nil {
			if regularized := regularizers.Regularized(trainVars, config.ContainsNone(t.skipL2)); len(regularized) > 0 {
				term := t.regularizer(g, regularized...)
				if term.DType() != loss.DType() {
					term = ConvertDType(term, loss.DType())
				}
				loss = Add(loss, term)
			}
		}
		towerLosses = append(towerLosses, loss)
		towerGrads = append(towerGrads, Gradient(loss, xslices.Map(trainVars, func(v *context.Variable) *Node {
			return v.ValueGraph(g)
		})...))
	})

	loss := aggregate.AverageLosses(towerLosses)
	grads := aggregate.AverageGradients(towerGrads)
	for ii, grad := range grads {
		if grad == nil {
			grads[ii] = ZerosLike(trainVars[ii].ValueGraph(g))
		}
	}
	lr := optimizers.UpdateLearningRate(ctx, g, t.schedule, loss.DType(), t.baseLR)
	t.opt.UpdateGraphWithGradients(ctx, grads, loss.DType())

	t.merged = summary.New()
	t.merged.Scalar(TagTrainingAccuracy, accuracy)
	t.merged.Scalar(TagTrainLoss, loss)
	t.merged.Scalar(TagLearningRate, lr)
	return []*Node{globalStepVar.ValueGraph(g), loss, accuracy, lr, t.merged.Node()}
}

// selectTrainable marks as not trainable the variables in use by g that are not accepted by
// "train.trainable_var_list", and returns the remaining trainable ones in context order.
func (t *trainer) selectTrainable(ctx *context.Context, g *Graph) []*context.Variable {
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) && !t.tc.TrainableVar(v.ScopeAndName()) {
			klog.V(1).Infof("Variable %s is not trained", v.ScopeAndName())
			v.SetTrainable(false)
		}
	}
	trainVars := optimizers.TrainableInUse(ctx, g)
	if len(trainVars) == 0 {
		exceptions.Panicf("no trainable variables selected by train.trainable_var_list")
	}
	return trainVars
}

// globalStep reads the current global step, which is restored or created by the first read.
func (t *trainer) globalStep() (step int64, err error) {
	err = exceptions.TryCatch[error](func() { step = optimizers.GlobalStep(t.ctx) })
	if t.pretrained != nil && t.pretrained.Err() != nil {
		return 0, t.pretrained.Err()
	}
	return step, err
}

// loop runs the training steps up to the maximum number of steps, and then finalizes the
// checkpoints and summaries.
func (t *trainer) loop() (err error) {
	tc := t.tc
	maxSteps := tc.MaxSteps()
	step, err := t.globalStep()
	if err != nil {
		return err
	}
	t.result.GlobalStep = step
	if step >= maxSteps {
		t.reportPretrained()
		klog.Infof("Training has already reached the maximum steps.")
		return nil
	}
	if step == 0 {
		klog.Infof("Start training from step %d (%s steps)", step, humanize.Comma(maxSteps))
	} else {
		klog.Infof("Resume training from step %d (%s steps)", step, humanize.Comma(maxSteps))
	}

	ds, err := t.app.inputter.InputFn(ModeTrain)
	if err != nil {
		return err
	}
	exec, err := t.app.newExec(tc.RunConfig, t.ctx, "train", t.buildStep)
	if err != nil {
		return err
	}
	defer exec.Finalize()

	status := &TrainStatus{StartStep: step, MaxSteps: maxSteps, GlobalStep: step}
	if err = runHooks("OnTrainStart", t.app.hooks.onStart, status); err != nil {
		return err
	}
	defer func() {
		endErr := runHooks("OnTrainEnd", t.app.hooks.onEnd, status)
		if err == nil {
			err = endErr
		}
	}()

	var lastSummary []summary.Value
	lastSummaryStep, lastCheckpointStep := int64(-1), int64(-1)
	for step < maxSteps {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			return errors.WithMessagef(err, "reading training batch for step %d from %s", step+1, ds.Name())
		}
		start := time.Now()
		results, err := execStep(exec, t.pretrained, inputs[0], labels[0])
		if err != nil {
			return errors.WithMessagef(err, "training step %d", step+1)
		}
		t.reportPretrained()
		status.StepDurations = append(status.StepDurations, time.Since(start))
		if err = t.readStatus(results, status); err != nil {
			return err
		}
		step = status.GlobalStep
		t.result.StepsRun++
		t.result.GlobalStep = step

		if step%int64(tc.LogEveryNIter) == 0 {
			t.result.LogSteps = append(t.result.LogSteps, step)
			klog.Infof("Step %d: training accuracy %g, loss %g", step, status.TrainingAccuracy, status.Loss)
		}
		if lastSummary, err = t.merged.Values(results[4]); err != nil {
			return err
		}
		if step%int64(tc.SaveSummarySteps) == 0 {
			if err = t.addSummary(step, lastSummary); err != nil {
				return err
			}
			lastSummaryStep = step
		}
		if step%int64(tc.SaveCheckpointsSteps) == 0 {
			if err = t.saveCheckpoint(step); err != nil {
				return err
			}
			lastCheckpointStep = step
		}
		if err = runHooks("OnTrainStep", t.app.hooks.onStep, status); err != nil {
			return err
		}
	}

	// The last step may not fall on the cadences. A step already written on cadence is not
	// written again.
	if maxSteps%int64(tc.SaveCheckpointsSteps) != 0 && lastCheckpointStep != step {
		klog.Infof("Saving checkpoint for the last step ...")
		if err = t.saveCheckpoint(step); err != nil {
			return err
		}
	}
	if maxSteps%int64(tc.SaveSummarySteps) != 0 && lastSummaryStep != step {
		if err = t.addSummary(step, lastSummary); err != nil {
			return err
		}
	}
	return t.writer.Flush()
}

// readStatus copies the outputs of a training step to status.
func (t *trainer) readStatus(results []*tensors.Tensor, status *TrainStatus) (err error) {
	status.GlobalStep = tensors.ToScalar[int64](results[0])
	if status.Loss, err = xtensors.Float(results[1]); err != nil {
		return err
	}
	if status.TrainingAccuracy, err = xtensors.Float(results[2]); err != nil {
		return err
	}
	status.LearningRate, err = xtensors.Float(results[3])
	return err
}

func (t *trainer) addSummary(step int64, values []summary.Value) error {
	if err := t.writer.AddScalars(step, values); err != nil {
		return err
	}
	t.result.SummarySteps = append(t.result.SummarySteps, step)
	return nil
}

// saveCheckpoint saves the variables of the context, named after the current global step.
func (t *trainer) saveCheckpoint(step int64) error {
	if err := t.handler.Save(); err != nil {
		return errors.WithMessagef(err, "saving checkpoint of step %d", step)
	}
	klog.Infof("Saving checkpoint for step %d in %s", step, t.tc.ModelDir)
	t.result.CheckpointSteps = append(t.result.CheckpointSteps, step)
	return nil
}
