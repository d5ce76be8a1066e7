// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := MakeWith("w", "b", "global_step")
	assert.True(t, s.Has("w"))
	assert.False(t, s.Has("x"))
	assert.Equal(t, []string{"b", "global_step", "w"}, Sorted(s))

	sub := s.Sub(MakeWith("w"))
	assert.Equal(t, []string{"b", "global_step"}, Sorted(sub))
	assert.Len(t, Make[int](10), 0)
}
