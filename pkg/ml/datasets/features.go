// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ParseFeatures parses an inference sample given as a comma-separated list of numFeatures
// numbers.
func ParseFeatures(sample string, numFeatures int) ([]float64, error) {
	parts := strings.Split(sample, ",")
	if len(parts) != numFeatures {
		return nil, errors.Errorf("expected %d comma-separated features, got %d", numFeatures, len(parts))
	}
	features := make([]float64, numFeatures)
	for ii, part := range parts {
		var err error
		if features[ii], err = strconv.ParseFloat(strings.TrimSpace(part), 64); err != nil {
			return nil, errors.Wrapf(err, "feature #%d", ii)
		}
	}
	return features, nil
}

// Standardization shifts and scales each feature to mean 0 and standard deviation 1, with the
// statistics of the training data.
type Standardization struct {
	Mean, Stddev []float64
}

// ComputeStandardization returns the per-feature statistics of rows. Constant features get a
// standard deviation of 1.
func ComputeStandardization(rows [][]float64) Standardization {
	if len(rows) == 0 {
		return Standardization{}
	}
	numFeatures := len(rows[0])
	s := Standardization{Mean: make([]float64, numFeatures), Stddev: make([]float64, numFeatures)}
	column := make([]float64, len(rows))
	for feature := range numFeatures {
		for ii, row := range rows {
			column[ii] = row[feature]
		}
		s.Mean[feature], s.Stddev[feature] = stat.MeanStdDev(column, nil)
		if !(s.Stddev[feature] > 0) {
			s.Stddev[feature] = 1
		}
	}
	return s
}

// Apply standardizes features in place. A zero Standardization is a no-op.
func (s Standardization) Apply(features []float64) {
	for ii := range min(len(features), len(s.Mean)) {
		features[ii] = (features[ii] - s.Mean[ii]) / s.Stddev[ii]
	}
}
