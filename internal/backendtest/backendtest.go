// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package backendtest provides the backend shared by the tests: the pure Go "go" backend,
// unless overridden by the GOMLX_BACKEND environment variable.
package backendtest

import (
	"os"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"k8s.io/klog/v2"
)

// DefaultBackend is the backend used by the tests.
const DefaultBackend = "go"

var (
	once    sync.Once
	backend backends.Backend
	initErr error
)

// Backend returns the test backend, created once per test binary.
func Backend(t testing.TB) backends.Backend {
	t.Helper()
	once.Do(func() {
		name := DefaultBackend
		if env := os.Getenv("GOMLX_BACKEND"); env != "" {
			name = env
		}
		backend, initErr = backends.NewWithConfig(name)
		if initErr == nil {
			klog.V(1).Infof("Test backend: %s", backend.Name())
		}
	})
	if initErr != nil {
		t.Fatalf("failed to create test backend: %+v", initErr)
	}
	return backend
}
