// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"maps"
	"slices"

	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotSeries plots one line per tag, over the global step, and saves it to path.
// The image format is taken from the extension of path.
func plotSeries(series map[string][]summary.Point, path string) error {
	p := plot.New()
	p.Title.Text = "Summaries"
	p.X.Label.Text = "global step"
	p.Y.Label.Text = "value"
	p.Legend.Top = true

	var lines []any
	for _, tag := range slices.Sorted(maps.Keys(series)) {
		points := series[tag]
		if len(points) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(points))
		for ii, point := range points {
			xys[ii].X = float64(point.Step)
			xys[ii].Y = point.Value
		}
		lines = append(lines, tag, xys)
	}
	if len(lines) == 0 {
		return errors.New("no summaries to plot")
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrapf(err, "plotting summaries")
	}
	if err := p.Save(12*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %q", path)
	}
	return nil
}
