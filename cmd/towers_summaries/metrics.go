// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"path/filepath"
	"slices"

	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// collectSeries reads the scalar summaries of each model directory and of its evaluation
// subdirectory. If names is not empty, only those tags are kept.
//
// With more than one directory, tags are prefixed by the directory's unique name, as in
// "run_a: train_loss".
func collectSeries(dirs, names []string) (map[string][]summary.Point, error) {
	uniqueNames := MinimalUniquePaths(dirs...)
	all := make(map[string][]summary.Point)
	for ii, dir := range dirs {
		for _, subdir := range []string{dir, filepath.Join(dir, driver.EvalSubdir)} {
			exists, err := fsutil.FileExists(subdir)
			if err != nil {
				return nil, err
			}
			if !exists {
				continue
			}
			series, err := summary.ReadScalars(subdir)
			if err != nil {
				return nil, errors.WithMessagef(err, "reading summaries from %q", subdir)
			}
			for tag, points := range series {
				if len(names) > 0 && !slices.Contains(names, tag) {
					continue
				}
				if len(dirs) > 1 {
					tag = uniqueNames[ii] + ": " + tag
				}
				all[tag] = append(all[tag], points...)
			}
		}
	}
	return all, nil
}
