// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

//go:build !cuda

package devices

import "github.com/pkg/errors"

func discoverGPUs() ([]GPUInfo, error) {
	return nil, errors.New("built without the \"cuda\" tag")
}
