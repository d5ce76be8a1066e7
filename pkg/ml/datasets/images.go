// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/go-gota/gota/dataframe"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/pkg/errors"
)

// Images is a Source of image files, listed in CSV files with the columns "path" and "label".
// Relative paths are relative to the directory of the list.
//
// Each image is resized to Size x Size pixels and converted to grayscale: its Size*Size pixels,
// scaled to [0, 1], are the features. With RandomFlip, training images are flipped horizontally
// with probability 1/2. Inference samples are image paths.
type Images struct {
	Size       int
	RandomFlip bool

	lists map[driver.Mode]string

	mu     sync.Mutex
	labels map[driver.Mode]map[string]float64
	rng    *rand.Rand
}

var _ Source = (*Images)(nil)

// NewImages creates an Images source from "data.train_list" and "data.eval_list" (each required
// only by the mode using it), "data.image_size" and the optional "data.random_flip" (default
// false) and "data.seed".
func NewImages(cfg *config.Config) (*Images, error) {
	size, err := cfg.Int(config.SectionData, "image_size")
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.Errorf("data.image_size must be positive, got %d", size)
	}
	seed, err := cfg.IntOr(config.SectionData, "seed", 0)
	if err != nil {
		return nil, err
	}
	im := NewImagesFromLists("", "", size, uint64(seed))
	for mode, key := range map[driver.Mode]string{driver.ModeTrain: "train_list", driver.ModeEval: "eval_list"} {
		if im.lists[mode], err = cfg.StringOr(config.SectionData, key, ""); err != nil {
			return nil, err
		}
	}
	if im.RandomFlip, err = cfg.BoolOr(config.SectionData, "random_flip", false); err != nil {
		return nil, err
	}
	return im, nil
}

// NewImagesFromLists creates an Images source for the given training and evaluation lists.
func NewImagesFromLists(trainList, evalList string, size int, seed uint64) *Images {
	return &Images{
		Size:   size,
		lists:  map[driver.Mode]string{driver.ModeTrain: trainList, driver.ModeEval: evalList},
		labels: make(map[driver.Mode]map[string]float64),
		rng:    rand.New(rand.NewPCG(seed, 3)),
	}
}

// Name implements Source.
func (im *Images) Name() string {
	return fmt.Sprintf("images(%s, %dx%d)", im.lists[driver.ModeTrain], im.Size, im.Size)
}

// readList reads an image list with gota, and returns the paths and labels.
func readList(listPath string) (paths []string, labels []float64, err error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening image list %q", listPath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f)
	if df.Err != nil {
		return nil, nil, errors.Wrapf(df.Err, "reading image list %q", listPath)
	}
	for _, column := range []string{"path", "label"} {
		if !slices.Contains(df.Names(), column) {
			return nil, nil, errors.Errorf("image list %q has no %q column", listPath, column)
		}
	}
	dir := filepath.Dir(listPath)
	for _, path := range df.Col("path").Records() {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		paths = append(paths, path)
	}
	return paths, df.Col("label").Float(), nil
}

// Samples implements Source: samples are the paths of the images.
func (im *Images) Samples(mode driver.Mode) ([]string, error) {
	listPath := im.lists[mode]
	if listPath == "" {
		return nil, errors.Errorf("no image list configured for mode %q", mode)
	}
	paths, labels, err := readList(listPath)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]float64, len(paths))
	for ii, path := range paths {
		byPath[path] = labels[ii]
	}
	im.mu.Lock()
	im.labels[mode] = byPath
	im.mu.Unlock()
	return paths, nil
}

// Parse implements Source.
func (im *Images) Parse(mode driver.Mode, sample string) ([]float64, float64, error) {
	var label float64
	var flip bool
	im.mu.Lock()
	if mode != driver.ModeInfer {
		var found bool
		if label, found = im.labels[mode][sample]; !found {
			im.mu.Unlock()
			return nil, 0, errors.Errorf("image %q is not in the %s list", sample, mode)
		}
		flip = mode == driver.ModeTrain && im.RandomFlip && im.rng.IntN(2) == 1
	}
	im.mu.Unlock()

	img, err := imaging.Open(sample)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "loading image")
	}
	if flip {
		img = imaging.FlipH(img)
	}
	gray := imaging.Grayscale(imaging.Resize(img, im.Size, im.Size, imaging.Lanczos))
	features := make([]float64, 0, im.Size*im.Size)
	for y := range im.Size {
		row := gray.Pix[y*gray.Stride:]
		for x := range im.Size {
			features = append(features, float64(row[4*x])/255)
		}
	}
	return features, label, nil
}
