// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCSV(t *testing.T) {
	dir := t.TempDir()
	trainPath := writeFile(t, dir, "train.csv", "height,class,weight\n1.5,0,10\n2.5,1,30\n")
	evalPath := writeFile(t, dir, "eval.csv", "height,class,weight\n2,1,20\n")

	source := NewCSVFromFiles(trainPath, evalPath, "class")
	samples, err := source.Samples(driver.ModeTrain)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, samples)
	features, label, err := source.Parse(driver.ModeTrain, "1")
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 30}, features)
	assert.Equal(t, 1.0, label)

	features, label, err = source.Parse(driver.ModeEval, "0")
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 20}, features)
	assert.Equal(t, 1.0, label)

	features, _, err = source.Parse(driver.ModeInfer, "3,40")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 40}, features)
	_, _, err = source.Parse(driver.ModeTrain, "2")
	require.Error(t, err)
}

func TestCSVStandardize(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New()
	cfg.Set(config.SectionData, "train_csv", writeFile(t, dir, "train.csv", "x,label\n1,0\n3,1\n"))
	cfg.Set(config.SectionData, "eval_csv", writeFile(t, dir, "eval.csv", "x,label\n2,1\n"))
	cfg.Set(config.SectionData, "standardize", true)
	source, err := NewCSV(cfg)
	require.NoError(t, err)
	assert.Equal(t, "label", source.LabelColumn)

	// Statistics of the training file apply to evaluation: mean 2.
	features, _, err := source.Parse(driver.ModeEval, "0")
	require.NoError(t, err)
	assert.InDelta(t, 0, features[0], 1e-12)
	first, _, err := source.Parse(driver.ModeTrain, "0")
	require.NoError(t, err)
	second, _, err := source.Parse(driver.ModeTrain, "1")
	require.NoError(t, err)
	assert.InDelta(t, -first[0], second[0], 1e-12)
	assert.Negative(t, first[0])
	infer, _, err := source.Parse(driver.ModeInfer, "3")
	require.NoError(t, err)
	assert.InDelta(t, second[0], infer[0], 1e-12)
}

func TestCSVErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCSVFromFiles(filepath.Join(dir, "missing.csv"), "", "label").Samples(driver.ModeTrain)
	require.Error(t, err)

	noLabel := writeFile(t, dir, "nolabel.csv", "x,y\n1,2\n")
	_, err = NewCSVFromFiles(noLabel, "", "label").Samples(driver.ModeTrain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no label column")

	text := writeFile(t, dir, "text.csv", "x,label\nabc,0\ndef,1\n")
	_, err = NewCSVFromFiles(text, "", "label").Samples(driver.ModeTrain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")

	source := NewCSVFromFiles(writeFile(t, dir, "ok.csv", "x,label\n1,0\n"), "", "label")
	_, err = source.Samples(driver.ModeEval)
	require.Error(t, err, "no eval file configured")
}
