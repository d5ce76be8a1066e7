// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package regularizers adds regularization terms of the weights to the loss of each tower.
//
// The driver regularizes the trainable variables except the ones whose names contain any of
// "train.skip_l2_var_list", with the amounts configured in "train.l2_regularization" and
// "train.l1_regularization".
package regularizers

import (
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
)

const (
	// ParamL2 is the configuration key, in the "train" section, of the amount of L2
	// regularization. The default is 0, no regularization.
	ParamL2 = "l2_regularization"

	// ParamL1 is the configuration key, in the "train" section, of the amount of L1
	// regularization. The default is 0.
	ParamL1 = "l1_regularization"
)

// Regularizer returns the scalar regularization term for the given weights in graph g, to be
// added to the loss.
type Regularizer func(g *Graph, weights ...*context.Variable) *Node

// weightsTerm builds amount * sum(term(w)) over all the values of weights.
func weightsTerm(name string, g *Graph, amount float64, term func(x *Node) *Node, weights []*context.Variable) *Node {
	if len(weights) == 0 {
		exceptions.Panicf("no weights given to regularizers.%s", name)
	}
	var total *Node
	for _, v := range weights {
		sum := ReduceAllSum(term(v.ValueGraph(g)))
		if total == nil {
			total = sum
		} else {
			total = Add(total, sum)
		}
	}
	return MulScalar(total, amount)
}

// L2 creates a L2 regularizer (x^2 * amount) with the given static amount.
// It returns nil if amount is 0.
func L2(amount float64) Regularizer {
	if amount == 0 {
		return nil
	}
	return func(g *Graph, weights ...*context.Variable) *Node {
		return weightsTerm("L2", g, amount, Square, weights)
	}
}

// L1 creates a L1 regularizer (abs(x) * amount) with the given static amount.
// It returns nil if amount is 0.
func L1(amount float64) Regularizer {
	if amount == 0 {
		return nil
	}
	return func(g *Graph, weights ...*context.Variable) *Node {
		return weightsTerm("L1", g, amount, Abs, weights)
	}
}

// Combine the provided regularizers into one, adding their terms.
// Nil regularizers are skipped, and if none is left it returns nil.
func Combine(regs ...Regularizer) Regularizer {
	regs = slices.DeleteFunc(regs, func(r Regularizer) bool { return r == nil })
	switch len(regs) {
	case 0:
		return nil
	case 1:
		return regs[0]
	}
	return func(g *Graph, weights ...*context.Variable) *Node {
		total := regs[0](g, weights...)
		for _, reg := range regs[1:] {
			total = Add(total, reg(g, weights...))
		}
		return total
	}
}

// FromConfig returns the regularizer configured by ParamL2 and ParamL1 in the "train"
// section. It is nil if no regularization is configured.
func FromConfig(c *config.Config) (Regularizer, error) {
	var regs []Regularizer
	for _, param := range []struct {
		key string
		fn  func(float64) Regularizer
	}{{ParamL2, L2}, {ParamL1, L1}} {
		amount, err := c.FloatOr(config.SectionTrain, param.key, 0)
		if err != nil {
			return nil, err
		}
		if amount < 0 {
			return nil, errors.Errorf("train.%s must be >= 0, got %g", param.key, amount)
		}
		regs = append(regs, param.fn(amount))
	}
	return Combine(regs...), nil
}

// Regularized returns the variables regularized: the ones whose scoped names are accepted by
// keep, typically config.ContainsNone of "train.skip_l2_var_list".
func Regularized(vars []*context.Variable, keep func(name string) bool) []*context.Variable {
	var selected []*context.Variable
	for _, v := range vars {
		if keep(v.ScopeAndName()) {
			selected = append(selected, v)
		}
	}
	return selected
}
