// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package aggregate combines the per-tower values of a replicated graph: gradients, losses and
// metrics are stacked along a new leading "tower" axis and averaged over it.
package aggregate

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// AverageGradients averages the gradients of the towers.
//
// towerGrads[i] is the list of gradients of tower i, and all lists are aligned: position j is
// the gradient of the same shared variable in every tower. For each position, the non-nil
// gradients are stacked and averaged. A position without a gradient in any tower is nil in the
// result, so the result stays aligned with the variables.
//
// It panics if the lists are not aligned, or if the shapes of a position differ.
func AverageGradients(towerGrads [][]*Node) []*Node {
	if len(towerGrads) == 0 {
		return nil
	}
	numVars := len(towerGrads[0])
	for tower, grads := range towerGrads {
		if len(grads) != numVars {
			exceptions.Panicf("AverageGradients: tower #%d has %d gradients, tower #0 has %d", tower, len(grads), numVars)
		}
	}
	averaged := make([]*Node, numVars)
	for pos := range numVars {
		var grads []*Node
		for tower, towerGrad := range towerGrads {
			grad := towerGrad[pos]
			if grad == nil {
				continue
			}
			if len(grads) > 0 && !grad.Shape().Equal(grads[0].Shape()) {
				exceptions.Panicf("AverageGradients: gradient #%d of tower #%d has shape %s, expected %s",
					pos, tower, grad.Shape(), grads[0].Shape())
			}
			grads = append(grads, grad)
		}
		switch len(grads) {
		case 0:
		case 1:
			averaged[pos] = grads[0]
		default:
			averaged[pos] = ReduceMean(Stack(grads, 0), 0)
		}
	}
	return averaged
}

// AverageLosses returns the arithmetic mean of the scalar losses of the towers.
func AverageLosses(towerLosses []*Node) *Node {
	return meanOfScalars("AverageLosses", towerLosses)
}

// AverageAccuracies returns the arithmetic mean of the scalar accuracies of the towers.
func AverageAccuracies(towerAccuracies []*Node) *Node {
	return meanOfScalars("AverageAccuracies", towerAccuracies)
}

func meanOfScalars(name string, values []*Node) *Node {
	if len(values) == 0 {
		exceptions.Panicf("%s: no tower values given", name)
	}
	for tower, v := range values {
		if !v.Shape().IsScalar() {
			exceptions.Panicf("%s: value of tower #%d must be a scalar, got %s", name, tower, v.Shape())
		}
	}
	if len(values) == 1 {
		return values[0]
	}
	return ReduceMean(Stack(values, 0), 0)
}
