// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: a training progress
// bar, configuration settings flags and tables reporting the results of the driver.
package commandline

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/ml/summary"
	"github.com/lambdal/towers/pkg/support/xslices"
)

func newTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

func formatSteps(steps []int64) string {
	if len(steps) == 0 {
		return "-"
	}
	return strings.Join(xslices.Map(steps, func(step int64) string { return humanize.Comma(step) }), ", ")
}

// FormatResult renders the result of driver.App.Run as tables.
func FormatResult(result *driver.Result) string {
	if result == nil {
		return ""
	}
	table := newTable("Mode", result.Mode)
	table.Row("Global step", humanize.Comma(result.GlobalStep))
	table.Row("Steps run", humanize.Comma(int64(result.StepsRun)))
	switch result.Mode {
	case "train":
		table.Row("Checkpoints", formatSteps(result.CheckpointSteps))
		table.Row("Summaries", formatSteps(result.SummarySteps))
		if result.PretrainedRestored > 0 {
			table.Row("Warm-started variables", strconv.Itoa(result.PretrainedRestored))
		}
	case "eval":
		table.Row("Accuracy", fmt.Sprintf("%.2f%%", 100*result.Accuracy))
	}
	parts := []string{table.String()}

	if len(result.Towers) > 0 {
		// Logical placement, the backend decides where the step runs.
		towers := newTable("Tower", "Compute", "Parameters")
		for _, p := range result.Towers {
			towers.Row(p.Name, p.Compute.String(), p.Parameters.String())
		}
		if result.UnbackedTowers > 0 {
			towers.Row("", fmt.Sprintf("%d without accelerator", result.UnbackedTowers), "")
		}
		parts = append(parts, towers.String())
	}

	if len(result.BatchShapes) > 0 {
		batches := newTable("Batch", "Features", "Labels")
		for ii, shapes := range result.BatchShapes {
			batches.Row(strconv.Itoa(ii), shapes[0], shapes[1])
		}
		parts = append(parts, batches.String())
	}
	if len(result.Variables) > 0 {
		variables := newTable("#", "Variable")
		for ii, name := range result.Variables {
			variables.Row(strconv.Itoa(ii), name)
		}
		parts = append(parts, variables.String())
	}
	return strings.Join(parts, "\n")
}

// FormatScalars renders a table with one row per summary tag: the number of points, the first
// and last steps and values, and the minimum and maximum values.
func FormatScalars(series map[string][]summary.Point) string {
	table := newTable("Tag", "Points", "Steps", "First", "Last", "Min", "Max")
	for _, tag := range slices.Sorted(maps.Keys(series)) {
		points := series[tag]
		if len(points) == 0 {
			continue
		}
		first, last := points[0], xslices.Last(points)
		minValue, maxValue := first.Value, first.Value
		for _, p := range points {
			minValue = min(minValue, p.Value)
			maxValue = max(maxValue, p.Value)
		}
		table.Row(tag, strconv.Itoa(len(points)),
			fmt.Sprintf("%s-%s", humanize.Comma(first.Step), humanize.Comma(last.Step)),
			fmt.Sprintf("%.4g", first.Value), fmt.Sprintf("%.4g", last.Value),
			fmt.Sprintf("%.4g", minValue), fmt.Sprintf("%.4g", maxValue))
	}
	return table.String()
}
