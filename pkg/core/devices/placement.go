// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package devices

// AssignFn returns the device on which an operation of the given kind is placed.
//
// Placement is logical: it names where each kind of operation of a tower belongs, and the
// driver reports it per tower. The computation itself is compiled and run by the gomlx
// backend on the device(s) it manages.
type AssignFn func(kind OpKind) Device

// Place returns parameterDevice for the parameter/storage kinds (see OpKind.IsParameter) and
// computeDevice for every other kind.
//
// Keeping all variables on one device means towers never hold replicas of a variable: they read
// the single copy and their gradients are combined before the one write.
func Place(kind OpKind, computeDevice, parameterDevice Device) Device {
	if kind.IsParameter() {
		return parameterDevice
	}
	return computeDevice
}

// AssignToDevice returns an AssignFn that places operations with Place.
func AssignToDevice(computeDevice, parameterDevice Device) AssignFn {
	return func(kind OpKind) Device {
		return Place(kind, computeDevice, parameterDevice)
	}
}

// AssignAllTo returns an AssignFn that places every operation on device.
func AssignAllTo(device Device) AssignFn {
	return func(OpKind) Device { return device }
}
