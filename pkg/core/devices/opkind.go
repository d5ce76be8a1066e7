// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package devices

import "fmt"

// OpKind classifies the operations the driver builds for a step. The placement policy only
// distinguishes the parameter/storage kinds from everything else.
type OpKind int

const (
	OpKindInvalid OpKind = iota

	// Parameter/storage kinds: always placed on the parameter device.
	OpKindVariable
	OpKindVariableV2
	OpKindAutoReloadVariable

	// Compute kinds.
	OpKindInput
	OpKindSliceBatch
	OpKindForward
	OpKindLoss
	OpKindMetric
	OpKindGradient
	OpKindAverageGradients
	OpKindApplyGradients
	OpKindSummary

	opKindLast
)

var opKindNames = [...]string{
	OpKindInvalid:            "Invalid",
	OpKindVariable:           "Variable",
	OpKindVariableV2:         "VariableV2",
	OpKindAutoReloadVariable: "AutoReloadVariable",
	OpKindInput:              "Input",
	OpKindSliceBatch:         "SliceBatch",
	OpKindForward:            "Forward",
	OpKindLoss:               "Loss",
	OpKindMetric:             "Metric",
	OpKindGradient:           "Gradient",
	OpKindAverageGradients:   "AverageGradients",
	OpKindApplyGradients:     "ApplyGradients",
	OpKindSummary:            "Summary",
}

// TowerOpKinds are the kinds of the operations each tower builds for itself.
var TowerOpKinds = []OpKind{OpKindSliceBatch, OpKindForward, OpKindLoss, OpKindMetric, OpKindGradient}

// String implements fmt.Stringer.
func (k OpKind) String() string {
	if k < 0 || k >= opKindLast {
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
	return opKindNames[k]
}

// OpKindValues returns all valid kinds, OpKindInvalid excluded.
func OpKindValues() []OpKind {
	values := make([]OpKind, 0, opKindLast-1)
	for k := OpKindInvalid + 1; k < opKindLast; k++ {
		values = append(values, k)
	}
	return values
}

// IsParameter returns whether the kind creates or holds a variable's storage.
func (k OpKind) IsParameter() bool {
	switch k {
	case OpKindVariable, OpKindVariableV2, OpKindAutoReloadVariable:
		return true
	default:
		return false
	}
}
