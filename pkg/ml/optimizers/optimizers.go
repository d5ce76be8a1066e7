// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers configures the gomlx optimizers that turn (averaged) gradients into
// parameter updates, plus a momentum optimizer written in the same manner, and the
// learning-rate schedules.
//
// Optimizers are given the gradients already computed and averaged across the towers, through
// UpdateGraphWithGradients: the gradients must be aligned with the trainable variables of the
// context in use by the graph, in context order. Every optimizer increments the global step
// ("/global_step") in the same graph execution that updates the variables.
package optimizers

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	gomlxopt "github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
)

const (
	// GlobalStepVariableName is the name of the global step variable, in the root scope.
	GlobalStepVariableName = gomlxopt.GlobalStepVariableName

	// DefaultOptimizer is used when "train.optimizer" is not set.
	DefaultOptimizer = "momentum"

	// DefaultLearningRate is used when "train.learning_rate" is not set.
	DefaultLearningRate = 0.1

	// DefaultMomentum is used when "train.momentum" is not set.
	DefaultMomentum = 0.9

	// MomentumScope is where the momentum optimizer keeps its accumulators, under the
	// optimizers scope.
	MomentumScope = "momentum"
)

// Interface implemented by optimizers: a gomlx optimizer that also accepts precomputed
// gradients.
type Interface interface {
	gomlxopt.Interface

	// UpdateGraphWithGradients applies grads, aligned with the trainable variables in use by
	// the graph, and increments the global step.
	UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType)
}

// KnownOptimizers maps the names accepted in "train.optimizer" to their constructors, given
// the base learning rate.
var KnownOptimizers = map[string]func(c *config.Config, learningRate float64) (Interface, error){
	"sgd": func(_ *config.Config, learningRate float64) (Interface, error) {
		return StochasticGradientDescent(learningRate), nil
	},
	"momentum": func(c *config.Config, learningRate float64) (Interface, error) {
		momentum, err := c.FloatOr(config.SectionTrain, "momentum", DefaultMomentum)
		if err != nil {
			return nil, err
		}
		return Momentum(learningRate, momentum), nil
	},
	"adam": func(c *config.Config, learningRate float64) (Interface, error) {
		return adamFromConfig(c, learningRate)
	},
	"rmsprop": func(c *config.Config, learningRate float64) (Interface, error) {
		return rmsPropFromConfig(c, learningRate)
	},
}

// ByName returns the optimizer registered in KnownOptimizers under name.
func ByName(c *config.Config, name string, learningRate float64) (Interface, error) {
	builder, found := KnownOptimizers[name]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v", name, slices.Sorted(maps.Keys(KnownOptimizers)))
	}
	return builder(c, learningRate)
}

// FromConfig returns the optimizer configured in "train.optimizer" (default DefaultOptimizer),
// with the base learning rate of "train.learning_rate".
func FromConfig(c *config.Config) (Interface, error) {
	name, err := c.StringOr(config.SectionTrain, "optimizer", DefaultOptimizer)
	if err != nil {
		return nil, err
	}
	lr, err := BaseLearningRate(c)
	if err != nil {
		return nil, err
	}
	return ByName(c, name, lr)
}

// withGradients asserts that opt accepts precomputed gradients.
func withGradients(opt gomlxopt.Interface) Interface {
	o, ok := opt.(Interface)
	if !ok {
		exceptions.Panicf("optimizer %T doesn't support precomputed gradients", opt)
	}
	return o
}

// StochasticGradientDescent returns gomlx's SGD with a fixed learning rate:
// value -= learningRate * grad. The learning rate decay of gomlx's default is disabled, since
// the schedule is configured separately.
func StochasticGradientDescent(learningRate float64) Interface {
	return withGradients(gomlxopt.StochasticGradientDescent().WithDecay(false).WithLearningRate(learningRate).Done())
}

// GlobalStepVar returns the global step variable of ctx, creating it with 0 if needed. It is a
// non-trainable int64 scalar in the root scope.
func GlobalStepVar(ctx *context.Context) *context.Variable {
	return gomlxopt.GetGlobalStepVar(ctx.InAbsPath(context.RootScope))
}

// GlobalStep returns the current value of the global step of ctx.
func GlobalStep(ctx *context.Context) int64 {
	return gomlxopt.GetGlobalStep(ctx.InAbsPath(context.RootScope))
}

// LearningRateVar returns the learning rate variable of ctx, shared by all optimizers.
func LearningRateVar(ctx *context.Context, dtype dtypes.DType, initialValue float64) *context.Variable {
	return gomlxopt.LearningRateVar(ctx.InAbsPath(context.RootScope), dtype, initialValue)
}

// trainableInUse returns the trainable variables of ctx in use by g, in context order: the
// order of the gradients given to UpdateGraphWithGradients.
func trainableInUse(ctx *context.Context, g *Graph) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) {
			vars = append(vars, v)
		}
	}
	return vars
}

// TrainableInUse returns the variables UpdateGraphWithGradients expects gradients for.
func TrainableInUse(ctx *context.Context, g *Graph) []*context.Variable {
	return trainableInUse(ctx, g)
}

// momentum implements gradient descent with momentum:
//
//	accumulation = momentum * accumulation + grad
//	value -= learningRate * accumulation
type momentum struct {
	learningRate float64
	momentum     float64
}

// Momentum returns a gradient descent optimizer with the given momentum, keeping one
// non-trainable accumulator per variable, under the scope "/optimizers/momentum".
func Momentum(learningRate, momentumValue float64) Interface {
	return &momentum{learningRate: learningRate, momentum: momentumValue}
}

// UpdateGraph implements gomlx optimizers.Interface.
func (o *momentum) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	o.UpdateGraphWithGradients(ctx, ctx.BuildTrainableVariablesGradientsGraph(loss), loss.DType())
}

// UpdateGraphWithGradients implements Interface.
func (o *momentum) UpdateGraphWithGradients(ctx *context.Context, grads []*Node, lossDType dtypes.DType) {
	if len(grads) == 0 {
		return
	}
	g := grads[0].Graph()
	vars := trainableInUse(ctx, g)
	if len(vars) != len(grads) {
		exceptions.Panicf("momentum: %d gradients given for %d trainable variables in use", len(grads), len(vars))
	}
	lr := LearningRateVar(ctx, lossDType, o.learningRate).ValueGraph(g)
	_ = gomlxopt.IncrementGlobalStepGraph(ctx.InAbsPath(context.RootScope), g, lossDType)
	for ii, v := range vars {
		grad := grads[ii]
		accumVar := o.accumulator(ctx, v)
		value := v.ValueGraph(g)
		accum := Add(MulScalar(accumVar.ValueGraph(g), o.momentum), grad)
		accumVar.SetValueGraph(accum)
		lrCast := lr
		if lrCast.DType() != value.DType() {
			lrCast = ConvertDType(lr, value.DType())
		}
		v.SetValueGraph(Sub(value, Mul(accum, lrCast)))
	}
}

// accumulator returns the accumulator variable of v, "/optimizers/momentum/<scope>/<name>".
func (o *momentum) accumulator(ctx *context.Context, v *context.Variable) *context.Variable {
	scope := strings.TrimSuffix(o.scope()+v.Scope(), context.ScopeSeparator)
	return ctx.Checked(false).InAbsPath(scope).
		VariableWithValue(v.Name(), tensors.FromShape(v.Shape())).
		SetTrainable(false)
}

func (o *momentum) scope() string {
	return context.ScopeSeparator + gomlxopt.Scope + context.ScopeSeparator + MomentumScope
}

// Clear deletes the accumulators.
func (o *momentum) Clear(ctx *context.Context) error {
	return ctx.InAbsPath(o.scope()).DeleteVariablesInScope()
}
