// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlace(t *testing.T) {
	param := CPUDevice(0)
	for _, compute := range []Device{GPUDevice(0), GPUDevice(3), CPUDevice(1)} {
		for _, kind := range OpKindValues() {
			got := Place(kind, compute, param)
			switch kind {
			case OpKindVariable, OpKindVariableV2, OpKindAutoReloadVariable:
				assert.Equal(t, param, got, "kind %s should be on the parameter device", kind)
			default:
				assert.Equal(t, compute, got, "kind %s should be on the compute device", kind)
			}
		}
	}

	assign := AssignToDevice(GPUDevice(2), CPUDevice(0))
	assert.Equal(t, "/cpu:0", assign(OpKindVariableV2).String())
	assert.Equal(t, "/gpu:2", assign(OpKindForward).String())
	assert.Equal(t, GPUDevice(1), AssignAllTo(GPUDevice(1))(OpKindVariable))
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "VariableV2", OpKindVariableV2.String())
	assert.Equal(t, "AutoReloadVariable", OpKindAutoReloadVariable.String())
	assert.Equal(t, "OpKind(1000)", OpKind(1000).String())
	for _, kind := range OpKindValues() {
		assert.NotEmpty(t, kind.String())
	}
	for _, kind := range TowerOpKinds {
		assert.False(t, kind.IsParameter(), "tower kind %s", kind)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("/gpu:3")
	require.NoError(t, err)
	assert.Equal(t, GPUDevice(3), d)
	d, err = Parse("CPU:0")
	require.NoError(t, err)
	assert.Equal(t, CPUDevice(0), d)
	for _, bad := range []string{"gpu", "/tpu:0", "/gpu:-1", "/gpu:x"} {
		_, err = Parse(bad)
		assert.Error(t, err, "parsing %q", bad)
	}
}

func TestDiscover(t *testing.T) {
	info := Discover()
	assert.Positive(t, info.LogicalCores)
	assert.NotEmpty(t, info.String())
}
