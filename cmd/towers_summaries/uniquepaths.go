// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"
	"strings"
)

// MinimalUniquePaths returns short names for each of the paths, built from the path components
// that differ from the other paths. A single path is named by its last component.
//
// When more than one component differ, the first and last of them are joined with "...".
func MinimalUniquePaths(paths ...string) []string {
	names := make([]string, len(paths))
	parts := make([][]string, len(paths))
	for ii, path := range paths {
		parts[ii] = strings.Split(filepath.Clean(path), string(filepath.Separator))
	}
	for ii, components := range parts {
		var differing []int
		for jj, other := range parts {
			if ii == jj {
				continue
			}
			for kk := range min(len(components), len(other)) {
				if components[kk] != other[kk] && !slices.Contains(differing, kk) {
					differing = append(differing, kk)
				}
			}
		}
		slices.Sort(differing)
		switch len(differing) {
		case 0:
			names[ii] = components[len(components)-1]
		case 1:
			names[ii] = components[differing[0]]
		default:
			names[ii] = components[differing[0]] + "..." + components[differing[len(differing)-1]]
		}
	}
	return names
}
