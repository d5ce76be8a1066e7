// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/pkg/errors"
)

// BlobsCenterBox bounds the coordinates of the centers of the blobs: [-BlobsCenterBox, BlobsCenterBox].
const BlobsCenterBox = 5.0

type example struct {
	features []float64
	label    float64
}

// Blobs is a synthetic Source: one isotropic Gaussian cluster of examples per class.
//
// Training and evaluation examples are drawn from the same clusters, and balanced across the
// classes. Inference samples are comma-separated features.
type Blobs struct {
	NumFeatures, NumClasses int
	Stddev                  float64

	centers  [][]float64
	examples map[driver.Mode][]example
}

var _ Source = (*Blobs)(nil)

// NewBlobs creates a Blobs source from "data.num_features", "data.num_classes",
// "data.train_num_samples", "data.eval_num_samples", and the optional "data.blobs_stddev"
// (default 1) and "data.seed".
func NewBlobs(cfg *config.Config) (*Blobs, error) {
	var numFeatures, numClasses, numTrain, numEval, seed int
	var stddev float64
	var err error
	if numFeatures, err = cfg.Int(config.SectionData, "num_features"); err != nil {
		return nil, err
	}
	if numClasses, err = cfg.Int(config.SectionData, "num_classes"); err != nil {
		return nil, err
	}
	if numTrain, err = cfg.IntOr(config.SectionData, "train_num_samples", 0); err != nil {
		return nil, err
	}
	if numEval, err = cfg.IntOr(config.SectionData, "eval_num_samples", 0); err != nil {
		return nil, err
	}
	if stddev, err = cfg.FloatOr(config.SectionData, "blobs_stddev", 1); err != nil {
		return nil, err
	}
	if seed, err = cfg.IntOr(config.SectionData, "seed", 0); err != nil {
		return nil, err
	}
	if numFeatures <= 0 || numClasses <= 0 || stddev < 0 {
		return nil, errors.Errorf("invalid blobs configuration: %d features, %d classes, stddev %g",
			numFeatures, numClasses, stddev)
	}
	return GenerateBlobs(numFeatures, numClasses, numTrain, numEval, stddev, uint64(seed)), nil
}

// GenerateBlobs creates a Blobs source with the given number of training and evaluation examples.
func GenerateBlobs(numFeatures, numClasses, numTrain, numEval int, stddev float64, seed uint64) *Blobs {
	b := &Blobs{
		NumFeatures: numFeatures,
		NumClasses:  numClasses,
		Stddev:      stddev,
		examples:    make(map[driver.Mode][]example),
	}
	rng := rand.New(rand.NewPCG(seed, 0))
	b.centers = make([][]float64, numClasses)
	for class := range b.centers {
		b.centers[class] = make([]float64, numFeatures)
		for ii := range b.centers[class] {
			b.centers[class][ii] = (2*rng.Float64() - 1) * BlobsCenterBox
		}
	}
	b.examples[driver.ModeTrain] = b.generate(rand.New(rand.NewPCG(seed, 1)), numTrain)
	b.examples[driver.ModeEval] = b.generate(rand.New(rand.NewPCG(seed, 2)), numEval)
	return b
}

func (b *Blobs) generate(rng *rand.Rand, n int) []example {
	examples := make([]example, n)
	for ii := range examples {
		class := ii % b.NumClasses
		features := make([]float64, b.NumFeatures)
		for jj, center := range b.centers[class] {
			features[jj] = center + rng.NormFloat64()*b.Stddev
		}
		examples[ii] = example{features: features, label: float64(class)}
	}
	return examples
}

// Center returns the center of the cluster of class.
func (b *Blobs) Center(class int) []float64 {
	return b.centers[class]
}

// Name implements Source.
func (b *Blobs) Name() string {
	return fmt.Sprintf("blobs(%d features, %d classes)", b.NumFeatures, b.NumClasses)
}

// Samples implements Source: samples are the indices of the examples.
func (b *Blobs) Samples(mode driver.Mode) ([]string, error) {
	examples, found := b.examples[mode]
	if !found {
		return nil, errors.Errorf("%s has no samples for mode %q", b.Name(), mode)
	}
	samples := make([]string, len(examples))
	for ii := range samples {
		samples[ii] = strconv.Itoa(ii)
	}
	return samples, nil
}

// Parse implements Source.
func (b *Blobs) Parse(mode driver.Mode, sample string) ([]float64, float64, error) {
	if mode == driver.ModeInfer {
		features, err := ParseFeatures(sample, b.NumFeatures)
		return features, 0, err
	}
	examples := b.examples[mode]
	idx, err := strconv.Atoi(sample)
	if err != nil || idx < 0 || idx >= len(examples) {
		return nil, 0, errors.Errorf("invalid %s sample %q", mode, sample)
	}
	e := examples[idx]
	return append([]float64(nil), e.features...), e.label, nil
}
