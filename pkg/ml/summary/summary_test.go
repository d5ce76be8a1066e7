// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package summary

import (
	"os"
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/internal/backendtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerged(t *testing.T) {
	var empty *Merged
	assert.Nil(t, empty.Node())
	assert.Nil(t, New().Node())

	merged := New()
	results := context.MustExecOnceN(backendtest.Backend(t), context.New(), func(_ *context.Context, g *Graph) []*Node {
		merged.Scalar("train_loss", Const(g, float32(0.25)))
		merged.Scalar("learning_rate", Const(g, 0.5))
		merged.Scalar("global_step", Const(g, int64(3)))
		return []*Node{merged.Node()}
	})
	assert.Equal(t, []string{"train_loss", "learning_rate", "global_step"}, merged.Tags())
	values, err := merged.Values(results[0])
	require.NoError(t, err)
	assert.Equal(t, []Value{{"train_loss", 0.25}, {"learning_rate", 0.5}, {"global_step", 3}}, values)

	_, err = merged.Values(tensors.FromScalar(float32(1)))
	require.Error(t, err)
	_, err = merged.Values(nil)
	require.Error(t, err)
}

func TestScalarRequiresScalar(t *testing.T) {
	context.MustExecOnceN(backendtest.Backend(t), context.New(), func(_ *context.Context, g *Graph) []*Node {
		merged := New()
		x := Const(g, []float32{1, 2})
		require.Panics(t, func() { merged.Scalar("not_scalar", x) })
		require.Panics(t, func() { merged.Scalar("", ReduceAllSum(x)) })
		assert.Empty(t, merged.Tags())
		return []*Node{x}
	})
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(w.Path(), dir))
	require.NoError(t, w.AddScalars(3, []Value{{"train_loss", 1.5}, {"training_accuracy", 0.25}}))
	require.NoError(t, w.AddScalars(6, []Value{{"train_loss", 0.5}}))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.Error(t, w.AddScalars(7, nil))

	events, err := ReadEvents(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, FileVersion, events[0].FileVersion)
	assert.Equal(t, int64(3), events[1].Step)
	assert.Equal(t, []Value{{"train_loss", 1.5}, {"training_accuracy", 0.25}}, events[1].Values)
	assert.Equal(t, int64(6), events[2].Step)
	assert.Greater(t, events[2].WallTime, 0.0)

	series, err := ReadScalars(dir)
	require.NoError(t, err)
	assert.Equal(t, []Point{{3, 1.5}, {6, 0.5}}, series["train_loss"])
	assert.Equal(t, []Point{{3, 0.25}}, series["training_accuracy"])
}

func TestReadCorrupted(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.AddScalars(1, []Value{{"loss", 1}}))
	require.NoError(t, w.Close())

	contents, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	contents[len(contents)-6] ^= 0xff
	require.NoError(t, os.WriteFile(w.Path(), contents, 0o644))
	events, err := ReadEvents(w.Path())
	require.ErrorContains(t, err, "corrupted record")
	assert.Len(t, events, 1)

	require.NoError(t, os.WriteFile(w.Path(), contents[:len(contents)-2], 0o644))
	_, err = ReadEvents(w.Path())
	require.Error(t, err)
}
