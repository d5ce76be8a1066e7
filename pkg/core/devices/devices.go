// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package devices defines the device identifiers used to place graph operations, the
// enumeration of operation kinds, and the placement policy that pins variables to the
// parameter device while compute ops run on their tower's accelerator.
//
// The placement is logical: the driver uses it to describe each tower, while execution is
// left to the gomlx backend. Discover reports the devices actually present on the host.
package devices

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type of device.
type Type int

const (
	// CPU is the host, also the default parameter device.
	CPU Type = iota
	// GPU is an accelerator, one per tower.
	GPU
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Device identifies one device of the host, e.g. "/gpu:1".
type Device struct {
	Type Type
	Num  int
}

// CPUDevice returns the device "/cpu:<num>".
func CPUDevice(num int) Device { return Device{Type: CPU, Num: num} }

// GPUDevice returns the device "/gpu:<num>".
func GPUDevice(num int) Device { return Device{Type: GPU, Num: num} }

// DefaultParameterDevice is where variables are stored unless configured otherwise.
var DefaultParameterDevice = CPUDevice(0)

// String implements fmt.Stringer, in the "/<type>:<num>" format.
func (d Device) String() string {
	return fmt.Sprintf("/%s:%d", d.Type, d.Num)
}

// Parse a device in the "/<type>:<num>" format. The leading "/" is optional and the type is
// case-insensitive.
func Parse(s string) (Device, error) {
	spec := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
	typeStr, numStr, found := strings.Cut(spec, ":")
	if !found {
		return Device{}, errors.Errorf("invalid device %q, expected format \"/<cpu|gpu>:<num>\"", s)
	}
	num, err := strconv.Atoi(numStr)
	if err != nil || num < 0 {
		return Device{}, errors.Errorf("invalid device number in %q", s)
	}
	switch typeStr {
	case "cpu":
		return CPUDevice(num), nil
	case "gpu":
		return GPUDevice(num), nil
	}
	return Device{}, errors.Errorf("unknown device type %q in %q", typeStr, s)
}
