// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets implements driver.Inputter on top of simple data sources: synthetic Gaussian
// blobs (Blobs), CSV files (CSV) and lists of images (Images).
//
// A Source lists the samples of a mode and parses each sample into its features and label. The
// Inputter assembles the parsed samples into batches of "<mode>.batch_size" examples, cycling
// over the samples for as many epochs as the driver asks for, and reshuffling the training
// samples at each epoch.
//
// Example:
//
//	source, err := datasets.NewBlobs(cfg)
//	inputter, err := datasets.NewInputter(cfg, source)
//	app := driver.New(cfg, inputter, modeler)
package datasets

import (
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/lambdal/towers/internal/workerspool"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/support/xtensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Source lists and parses the samples of a dataset.
type Source interface {
	// Name of the source, for logging.
	Name() string

	// Samples lists the sample identifiers for driver.ModeTrain or driver.ModeEval. For
	// driver.ModeInfer the samples are given by the caller.
	Samples(mode driver.Mode) ([]string, error)

	// Parse converts one sample into its features and label. The label is ignored for
	// driver.ModeInfer. It must be safe for concurrent use.
	Parse(mode driver.Mode, sample string) (features []float64, label float64, err error)
}

// Inputter implements driver.Inputter for a Source.
type Inputter struct {
	cfg         *config.Config
	source      Source
	dtype       string
	shuffle     bool
	seed        uint64
	parallelism int
}

var _ driver.Inputter = (*Inputter)(nil)

// NewInputter creates an Inputter for source. It reads the optional "data.shuffle" (default
// true), "data.seed" (default 0), "model.dtype" (default float32, the dtype of the features) and
// "run_config.max_parallelism" (default number of CPUs, used to parse the samples of a batch in
// parallel).
func NewInputter(cfg *config.Config, source Source) (*Inputter, error) {
	shuffle, err := cfg.BoolOr(config.SectionData, "shuffle", true)
	if err != nil {
		return nil, err
	}
	seed, err := cfg.IntOr(config.SectionData, "seed", 0)
	if err != nil {
		return nil, err
	}
	dtype, err := xtensors.DTypeFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	parallelism, err := cfg.IntOr(config.SectionRunConfig, "max_parallelism", runtime.NumCPU())
	if err != nil {
		return nil, err
	}
	return &Inputter{
		cfg:         cfg,
		source:      source,
		dtype:       dtype,
		shuffle:     shuffle,
		seed:        uint64(seed),
		parallelism: parallelism,
	}, nil
}

// String implements fmt.Stringer.
func (in *Inputter) String() string {
	return fmt.Sprintf("datasets.Inputter(%s)", in.source.Name())
}

// InputFn implements driver.Inputter. The returned dataset never ends: it cycles over the
// samples, and each Yield returns one batch of features, shaped [batch_size, num_features],
// and int32 labels, shaped [batch_size]. Labels are empty for driver.ModeInfer.
func (in *Inputter) InputFn(mode driver.Mode, samples ...string) (train.Dataset, error) {
	batchSize, err := in.cfg.Int(string(mode), "batch_size")
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", in)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("%s: %s.batch_size must be positive, got %d", in, mode, batchSize)
	}
	if mode != driver.ModeInfer {
		if samples, err = in.source.Samples(mode); err != nil {
			return nil, errors.WithMessagef(err, "%s: listing %s samples", in, mode)
		}
	}
	if len(samples) == 0 {
		return nil, errors.Errorf("%s: no %s samples", in, mode)
	}
	return newDataset(in, mode, samples, batchSize), nil
}

// dataset yields the batches of one InputFn.
type dataset struct {
	inputter  *Inputter
	mode      driver.Mode
	samples   []string
	batchSize int
	pool      *workerspool.Pool

	mu    sync.Mutex
	rng   *rand.Rand
	order []int
	next  int
	epoch int
}

var _ train.Dataset = (*dataset)(nil)

func newDataset(in *Inputter, mode driver.Mode, samples []string, batchSize int) *dataset {
	ds := &dataset{
		inputter:  in,
		mode:      mode,
		samples:   samples,
		batchSize: batchSize,
		pool:      workerspool.NewWithParallelism(in.parallelism),
		order:     make([]int, len(samples)),
	}
	ds.Reset()
	return ds
}

// Name implements train.Dataset.
func (ds *dataset) Name() string {
	return fmt.Sprintf("%s[%s]", ds.inputter.source.Name(), ds.mode)
}

// Reset implements train.Dataset: it restarts from the first epoch, with the same shuffling.
func (ds *dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.rng = rand.New(rand.NewPCG(ds.inputter.seed, uint64(len(ds.samples))))
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	ds.next = 0
	ds.epoch = 0
	ds.reshuffle()
}

func (ds *dataset) reshuffle() {
	if ds.mode == driver.ModeTrain && ds.inputter.shuffle {
		ds.rng.Shuffle(len(ds.order), func(i, j int) { ds.order[i], ds.order[j] = ds.order[j], ds.order[i] })
	}
}

// take returns the indices of the next batch, starting a new epoch when the samples run out.
func (ds *dataset) take() []int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	indices := make([]int, 0, ds.batchSize)
	for len(indices) < ds.batchSize {
		if ds.next == len(ds.order) {
			ds.next = 0
			ds.epoch++
			klog.V(1).Infof("%s: epoch %d", ds.Name(), ds.epoch)
			ds.reshuffle()
		}
		indices = append(indices, ds.order[ds.next])
		ds.next++
	}
	return indices
}

// Yield implements train.Dataset.
func (ds *dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	indices := ds.take()
	rows := make([][]float64, len(indices))
	labelValues := make([]float64, len(indices))
	errs := make([]error, len(indices))
	tasks := make([]func(), len(indices))
	for ii, idx := range indices {
		tasks[ii] = func() {
			sample := ds.samples[idx]
			rows[ii], labelValues[ii], errs[ii] = ds.inputter.source.Parse(ds.mode, sample)
			if errs[ii] != nil {
				errs[ii] = errors.WithMessagef(errs[ii], "parsing sample %q", sample)
			}
		}
	}
	ds.pool.RunAll(tasks...)
	for _, err := range errs {
		if err != nil {
			return nil, nil, nil, err
		}
	}
	numFeatures := len(rows[0])
	flat := make([]float64, 0, len(rows)*numFeatures)
	for ii, row := range rows {
		if len(row) != numFeatures {
			return nil, nil, nil, errors.Errorf("%s: sample %q has %d features, sample %q has %d",
				ds.Name(), ds.samples[indices[ii]], len(row), ds.samples[indices[0]], numFeatures)
		}
		flat = append(flat, row...)
	}
	features, err := xtensors.FromFloats(ds.inputter.dtype, flat, len(rows), numFeatures)
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{features}
	if ds.mode == driver.ModeInfer {
		return nil, inputs, nil, nil
	}
	classes := make([]int32, len(labelValues))
	for ii, label := range labelValues {
		classes[ii] = int32(label)
	}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(classes, len(classes))}
	return nil, inputs, labels, nil
}
