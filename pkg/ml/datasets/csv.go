// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CSV is a Source reading examples from CSV files with a header line. One column holds the
// class index of the example, every other column is a numeric feature.
//
// Files are loaded on first use. With Standardize, features are standardized with the statistics
// of the training file, for every mode. Inference samples are comma-separated features, in the
// order of the feature columns.
type CSV struct {
	LabelColumn string
	Standardize bool

	paths map[driver.Mode]string

	mu              sync.Mutex
	tables          map[driver.Mode]*table
	standardization Standardization
}

type table struct {
	columns []string
	rows    [][]float64
	labels  []float64
}

var _ Source = (*CSV)(nil)

// NewCSV creates a CSV source from "data.train_csv" and "data.eval_csv" (each required only by
// the mode using it), and the optional "data.label_column" (default "label") and
// "data.standardize" (default false).
func NewCSV(cfg *config.Config) (*CSV, error) {
	c := &CSV{
		paths:  make(map[driver.Mode]string),
		tables: make(map[driver.Mode]*table),
	}
	var err error
	for mode, key := range map[driver.Mode]string{driver.ModeTrain: "train_csv", driver.ModeEval: "eval_csv"} {
		if c.paths[mode], err = cfg.StringOr(config.SectionData, key, ""); err != nil {
			return nil, err
		}
	}
	if c.LabelColumn, err = cfg.StringOr(config.SectionData, "label_column", "label"); err != nil {
		return nil, err
	}
	if c.Standardize, err = cfg.BoolOr(config.SectionData, "standardize", false); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCSVFromFiles creates a CSV source for the given training and evaluation files.
func NewCSVFromFiles(trainPath, evalPath, labelColumn string) *CSV {
	return &CSV{
		LabelColumn: labelColumn,
		paths:       map[driver.Mode]string{driver.ModeTrain: trainPath, driver.ModeEval: evalPath},
		tables:      make(map[driver.Mode]*table),
	}
}

// Name implements Source.
func (c *CSV) Name() string {
	return fmt.Sprintf("csv(%s)", c.paths[driver.ModeTrain])
}

// readTable reads a CSV file with gota.
func readTable(path, labelColumn string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "reading %q", path)
	}
	if !slices.Contains(df.Names(), labelColumn) {
		return nil, errors.Errorf("%q has no label column %q, columns are %q", path, labelColumn, df.Names())
	}
	isNumeric := func(s series.Series) bool { return s.Type() == series.Float || s.Type() == series.Int }
	labels := df.Col(labelColumn)
	if !isNumeric(labels) {
		return nil, errors.Errorf("%q: label column %q is not numeric", path, labelColumn)
	}
	t := &table{labels: labels.Float()}
	features := df.Drop(labelColumn)
	if features.Err != nil {
		return nil, errors.Wrapf(features.Err, "reading %q", path)
	}
	t.columns = features.Names()
	t.rows = make([][]float64, features.Nrow())
	for ii := range t.rows {
		t.rows[ii] = make([]float64, len(t.columns))
	}
	for jj, name := range t.columns {
		col := features.Col(name)
		if !isNumeric(col) {
			return nil, errors.Errorf("%q: feature column %q is not numeric", path, name)
		}
		for ii, value := range col.Float() {
			if math.IsNaN(value) {
				return nil, errors.Errorf("%q: missing value in row %d, column %q", path, ii, name)
			}
			t.rows[ii][jj] = value
		}
	}
	return t, nil
}

// tableFor returns the table of mode, loading it if needed. It must be called with c.mu locked.
func (c *CSV) tableFor(mode driver.Mode) (*table, error) {
	if t, found := c.tables[mode]; found {
		return t, nil
	}
	if c.Standardize && mode != driver.ModeTrain {
		// Statistics come from the training file.
		if _, err := c.tableFor(driver.ModeTrain); err != nil {
			return nil, err
		}
	}
	path := c.paths[mode]
	if path == "" {
		return nil, errors.Errorf("no CSV file configured for mode %q", mode)
	}
	t, err := readTable(path, c.LabelColumn)
	if err != nil {
		return nil, err
	}
	if c.Standardize {
		if mode == driver.ModeTrain {
			c.standardization = ComputeStandardization(t.rows)
		}
		for _, row := range t.rows {
			c.standardization.Apply(row)
		}
	}
	klog.V(1).Infof("Loaded %d %s examples with %d features from %q", len(t.rows), mode, len(t.columns), path)
	c.tables[mode] = t
	return t, nil
}

// Samples implements Source: samples are the row numbers.
func (c *CSV) Samples(mode driver.Mode) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.tableFor(mode)
	if err != nil {
		return nil, err
	}
	samples := make([]string, len(t.rows))
	for ii := range samples {
		samples[ii] = strconv.Itoa(ii)
	}
	return samples, nil
}

// Parse implements Source.
func (c *CSV) Parse(mode driver.Mode, sample string) ([]float64, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == driver.ModeInfer {
		train, err := c.tableFor(driver.ModeTrain)
		if err != nil {
			return nil, 0, errors.WithMessage(err, "the training file defines the features")
		}
		features, err := ParseFeatures(sample, len(train.columns))
		if err != nil {
			return nil, 0, err
		}
		c.standardization.Apply(features)
		return features, 0, nil
	}
	t, err := c.tableFor(mode)
	if err != nil {
		return nil, 0, err
	}
	idx, err := strconv.Atoi(sample)
	if err != nil || idx < 0 || idx >= len(t.rows) {
		return nil, 0, errors.Errorf("invalid %s sample %q", mode, sample)
	}
	return append([]float64(nil), t.rows[idx]...), t.labels[idx], nil
}
