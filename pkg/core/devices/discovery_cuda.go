// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

//go:build cuda

package devices

import (
	"github.com/pkg/errors"
	"gorgonia.org/cu"
)

// discoverGPUs lists the CUDA devices visible to the driver.
func discoverGPUs() ([]GPUInfo, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return nil, errors.Wrap(err, "failed to count CUDA devices")
	}
	gpus := make([]GPUInfo, 0, n)
	for ii := 0; ii < n; ii++ {
		dev := cu.Device(ii)
		name, err := dev.Name()
		if err != nil {
			return gpus, errors.Wrapf(err, "failed to read name of CUDA device #%d", ii)
		}
		mem, err := dev.TotalMem()
		if err != nil {
			return gpus, errors.Wrapf(err, "failed to read memory of CUDA device #%d", ii)
		}
		gpus = append(gpus, GPUInfo{Device: GPUDevice(ii), Name: name, TotalMemory: mem})
	}
	return gpus, nil
}
