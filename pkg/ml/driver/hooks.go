// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"slices"
	"time"

	"github.com/pkg/errors"
)

// TrainStatus is the state of the training loop given to the hooks. It is meant for reading
// only.
type TrainStatus struct {
	// StartStep is the global step when the loop started, MaxSteps the one where it ends.
	StartStep, MaxSteps int64

	// GlobalStep after the last step run.
	GlobalStep int64

	// Loss, TrainingAccuracy and LearningRate computed by the last step.
	Loss, TrainingAccuracy, LearningRate float64

	// StepDurations of all the steps run so far.
	StepDurations []time.Duration
}

// MedianStepDuration returns the median of StepDurations, or 0 if no step was run.
func (s *TrainStatus) MedianStepDuration() time.Duration {
	if len(s.StepDurations) == 0 {
		return 0
	}
	sorted := slices.Clone(s.StepDurations)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// TrainHookFn is the type of the training hooks. An error aborts the training.
type TrainHookFn func(status *TrainStatus) error

type namedHook struct {
	name string
	fn   TrainHookFn
}

type hooks struct {
	onStart, onStep, onEnd []namedHook
}

// OnTrainStart registers fn to be called before the first training step.
func (a *App) OnTrainStart(name string, fn TrainHookFn) {
	a.hooks.onStart = append(a.hooks.onStart, namedHook{name, fn})
}

// OnTrainStep registers fn to be called after every training step.
func (a *App) OnTrainStep(name string, fn TrainHookFn) {
	a.hooks.onStep = append(a.hooks.onStep, namedHook{name, fn})
}

// OnTrainEnd registers fn to be called after the training loop ends, also when it ends
// with an error. It is not called if training had already reached the maximum steps.
func (a *App) OnTrainEnd(name string, fn TrainHookFn) {
	a.hooks.onEnd = append(a.hooks.onEnd, namedHook{name, fn})
}

func runHooks(kind string, list []namedHook, status *TrainStatus) error {
	for _, hook := range list {
		if err := hook.fn(status); err != nil {
			return errors.WithMessagef(err, "%s(hook %q)", kind, hook.name)
		}
	}
	return nil
}
