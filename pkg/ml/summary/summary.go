// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package summary records scalar time series (loss, accuracy, learning rate) keyed by the
// global step, in TensorBoard compatible event files.
//
// Scalar summaries are registered in a Merged while the graph is built. Merged.Node bundles
// all of them into one node, returned along with the other outputs of the training step, and
// the values are written with a Writer:
//
//	merged := summary.New()
//	...
//	// Inside the graph building function:
//	merged.Scalar("train_loss", loss)
//	outputs = append(outputs, merged.Node())
//	...
//	err = writer.AddMerged(step, merged, mergedValue)
package summary

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/lambdal/towers/pkg/support/xtensors"
	"github.com/pkg/errors"
)

// Value is one tagged scalar.
type Value struct {
	Tag   string
	Value float64
}

// Merged bundles the scalar summaries of a graph in one node.
type Merged struct {
	tags  []string
	nodes []*Node
}

// New returns an empty Merged.
func New() *Merged {
	return &Merged{}
}

// Scalar registers the scalar x under the given tag, and returns x.
// It panics if the tag is empty or x is not a scalar.
func (m *Merged) Scalar(tag string, x *Node) *Node {
	if tag == "" {
		exceptions.Panicf("summary.Scalar: empty tag")
	}
	if x == nil {
		exceptions.Panicf("summary.Scalar(%q): nil value", tag)
	}
	if !x.Shape().IsScalar() {
		exceptions.Panicf("summary %q requires a scalar, got shape %s", tag, x.Shape())
	}
	m.tags = append(m.tags, tag)
	m.nodes = append(m.nodes, x)
	return x
}

// Node returns the registered summaries as one vector, in the order of the tags, converted
// to the dtype of the first one. It returns nil if there are none.
func (m *Merged) Node() *Node {
	if m == nil || len(m.nodes) == 0 {
		return nil
	}
	dtype := m.nodes[0].DType()
	values := make([]*Node, len(m.nodes))
	for ii, x := range m.nodes {
		if x.DType() != dtype {
			x = ConvertDType(x, dtype)
		}
		values[ii] = x
	}
	return Stack(values, 0)
}

// Tags of the merged summaries.
func (m *Merged) Tags() []string {
	if m == nil {
		return nil
	}
	return m.tags
}

// Values pairs the value of the merged node, as returned by the execution of the graph, with
// the tags.
func (m *Merged) Values(merged *tensors.Tensor) ([]Value, error) {
	if m == nil || len(m.tags) == 0 {
		return nil, nil
	}
	if merged == nil {
		return nil, errors.Errorf("missing merged summary value for the %d tags %v", len(m.tags), m.tags)
	}
	flat, err := xtensors.Floats(merged)
	if err != nil {
		return nil, errors.WithMessage(err, "merged summary")
	}
	if len(flat) != len(m.tags) {
		return nil, errors.Errorf("merged summary value with %d values doesn't match the %d tags %v", len(flat), len(m.tags), m.tags)
	}
	values := make([]Value, len(m.tags))
	for ii, tag := range m.tags {
		values[ii] = Value{Tag: tag, Value: flat[ii]}
	}
	return values, nil
}
