// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"
)

// HostInfo describes the devices found on this host.
type HostInfo struct {
	CPUBrand      string
	PhysicalCores int
	LogicalCores  int
	HasAVX2       bool

	// GPUs found, by number. Empty if built without the "cuda" tag or if no driver is present.
	GPUs []GPUInfo
}

// GPUInfo describes one accelerator.
type GPUInfo struct {
	Device      Device
	Name        string
	TotalMemory int64
}

// Discover the host's CPU and accelerators.
//
// GPU discovery is best-effort: failures are logged at verbosity 1 and reported as no GPUs.
func Discover() HostInfo {
	info := HostInfo{
		CPUBrand:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		HasAVX2:       cpuid.CPU.Supports(cpuid.AVX2),
	}
	if info.LogicalCores <= 0 {
		info.LogicalCores = runtime.NumCPU()
	}
	gpus, err := discoverGPUs()
	if err != nil {
		klog.V(1).Infof("no accelerators found: %v", err)
	}
	info.GPUs = gpus
	return info
}

// String implements fmt.Stringer.
func (h HostInfo) String() string {
	return fmt.Sprintf("%s (%d physical / %d logical cores, avx2=%v), %d GPU(s)",
		h.CPUBrand, h.PhysicalCores, h.LogicalCores, h.HasAVX2, len(h.GPUs))
}
