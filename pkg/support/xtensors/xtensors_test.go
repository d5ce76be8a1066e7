// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package xtensors

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloats(t *testing.T) {
	data := []float64{0.5, -2, 3.25, 8}
	for _, dtype := range FloatDTypes {
		x, err := FromFloats(dtype, data, 2, 2)
		require.NoError(t, err, dtype)
		assert.Equal(t, []int{2, 2}, x.Shape().Dimensions, dtype)
		values, err := Floats(x)
		require.NoError(t, err, dtype)
		assert.InDeltaSlice(t, data, values, 1e-6, dtype)
	}
	_, err := FromFloats("int8", data, 4)
	require.Error(t, err)
	require.Error(t, CheckFloatDType("bfloat16"))

	dtype, err := DType("float16")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, dtype)
	_, err = DType("bfloat16")
	require.Error(t, err)
}

type fakeConfig map[string]string

func (c fakeConfig) StringOr(section, key, defaultValue string) (string, error) {
	if v, found := c[section+"."+key]; found {
		return v, nil
	}
	return defaultValue, nil
}

func TestDTypeFromConfig(t *testing.T) {
	dtype, err := DTypeFromConfig(fakeConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFloatDType, dtype)
	dtype, err = DTypeFromConfig(fakeConfig{"model.dtype": "float64"})
	require.NoError(t, err)
	assert.Equal(t, "float64", dtype)
	_, err = DTypeFromConfig(fakeConfig{"model.dtype": "int8"})
	require.Error(t, err)
}

func TestFloat(t *testing.T) {
	v, err := Float(tensors.FromScalar(int64(12)))
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	_, err = Float(tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	require.ErrorContains(t, err, "not a scalar")

	_, err = Floats(tensors.FromScalar(true))
	require.Error(t, err)
}
