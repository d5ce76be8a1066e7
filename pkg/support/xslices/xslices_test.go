// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapFilterLast(t *testing.T) {
	names := []string{"dense/w", "dense/b", "global_step"}
	assert.Equal(t, []int{7, 7, 11}, Map(names, func(s string) int { return len(s) }))
	assert.Equal(t, []string{"dense/w", "dense/b"}, Filter(names, func(s string) bool { return strings.HasPrefix(s, "dense") }))
	assert.Equal(t, "global_step", Last(names))
	assert.Panics(t, func() { _ = Last([]int{}) })
}
