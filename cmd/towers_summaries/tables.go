// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/lambdal/towers/pkg/ml/checkpoints"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// newPlainTable with alternating faint rows. The first column is right-aligned.
func newPlainTable(headers ...string) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(headers...).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			s = oddRowStyle
			if row%2 == 1 {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// numParameters is the number of values held by a variable of the given dimensions.
func numParameters(dims []int) int64 {
	size := int64(1)
	for _, dim := range dims {
		size *= int64(dim)
	}
	return size
}

// summaryTable has one column per model directory, with the metadata of its latest checkpoint.
// Directories without checkpoints are reported with "-".
func summaryTable(dirs []string) (*lgtable.Table, error) {
	headers := append([]string{""}, MinimalUniquePaths(dirs...)...)
	rows := [][]string{{"checkpoint"}, {"global_step"}, {"dtypes"}, {"# variables"}, {"# parameters"}, {"# bytes"}}
	for _, dir := range dirs {
		m, err := latestMetadata(dir)
		if err != nil {
			if !errors.Is(err, checkpoints.ErrNoCheckpoint) {
				return nil, err
			}
			for ii := range rows {
				rows[ii] = append(rows[ii], "-")
			}
			continue
		}
		var numParams, numBytes int64
		var dtypeNames []string
		for _, v := range m.Variables {
			numParams += numParameters(v.Dims)
			numBytes += int64(v.Bytes)
			dtypeNames = append(dtypeNames, v.DType.String())
		}
		slices.Sort(dtypeNames)
		rows[0] = append(rows[0], m.BaseName)
		rows[1] = append(rows[1], humanize.Comma(m.GlobalStep))
		rows[2] = append(rows[2], strings.Join(slices.Compact(dtypeNames), ", "))
		rows[3] = append(rows[3], humanize.Comma(int64(len(m.Variables))))
		rows[4] = append(rows[4], humanize.Comma(numParams))
		rows[5] = append(rows[5], humanize.Bytes(uint64(numBytes)))
	}
	return newPlainTable(headers...).Rows(rows...), nil
}

// variablesTable lists the variables of the latest checkpoint in dir.
func variablesTable(dir string) (*lgtable.Table, error) {
	m, err := latestMetadata(dir)
	if err != nil {
		return nil, err
	}
	table := newPlainTable("#", "Name", "DType", "Shape", "Size", "Bytes")
	for ii, v := range m.Variables {
		table.Row(strconv.Itoa(ii), v.Name, v.DType.String(), formatDims(v.Dims),
			humanize.Comma(numParameters(v.Dims)), humanize.Bytes(uint64(v.Bytes)))
	}
	return table, nil
}

func latestMetadata(dir string) (*checkpoints.Metadata, error) {
	dir, baseName, err := checkpoints.Find(dir)
	if err != nil {
		return nil, err
	}
	return checkpoints.ReadMetadata(dir, baseName)
}

func formatDims(dims []int) string {
	if len(dims) == 0 {
		return "scalar"
	}
	s := "("
	for ii, dim := range dims {
		if ii > 0 {
			s += ", "
		}
		s += strconv.Itoa(dim)
	}
	return s + ")"
}
