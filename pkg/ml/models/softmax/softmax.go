// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package softmax implements a softmax regression driver.Modeler: one dense layer over the
// features, centered by their running mean.
//
// The running mean is a non-trainable "batch statistics" variable, updated during training by
// the first tower only, so there is a single update of it per step.
package softmax

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/lambdal/towers/pkg/ml/driver"
	"github.com/lambdal/towers/pkg/support/xtensors"
	"github.com/pkg/errors"
)

// Scope of the model variables, and their names in it.
const (
	Scope           = "softmax"
	WeightsName     = "weights"
	BiasName        = "bias"
	FeatureMeanName = "feature_mean"
)

// Model is a softmax regression. Its exported fields can be changed before the first graph is
// built.
type Model struct {
	NumFeatures, NumClasses int

	// DType of the variables, one of xtensors.FloatDTypes.
	DType string

	// InitStddev is the standard deviation of the initial weights, drawn with InitSeed.
	InitStddev float64
	InitSeed   uint64

	// MeanMomentum is the decay of the running mean of the features, in [0, 1).
	MeanMomentum float64

	// Output where DisplayPredictionSimple writes. Defaults to os.Stdout.
	Output io.Writer

	mu        sync.Mutex
	displayed int
}

var _ driver.Modeler = (*Model)(nil)

// New creates a Model with default hyperparameters.
func New(numFeatures, numClasses int) *Model {
	return &Model{
		NumFeatures:  numFeatures,
		NumClasses:   numClasses,
		DType:        xtensors.DefaultFloatDType,
		InitStddev:   0.01,
		MeanMomentum: 0.9,
		Output:       os.Stdout,
	}
}

// FromConfig creates a Model from "data.num_features" and "data.num_classes", and the optional
// "model.dtype", "model.init_stddev", "model.init_seed" and "model.feature_mean_momentum".
func FromConfig(c *config.Config) (*Model, error) {
	numFeatures, err := c.Int(config.SectionData, "num_features")
	if err != nil {
		return nil, err
	}
	numClasses, err := c.Int(config.SectionData, "num_classes")
	if err != nil {
		return nil, err
	}
	if numFeatures <= 0 || numClasses < 2 {
		return nil, errors.Errorf("softmax model requires num_features > 0 and num_classes >= 2, got %d and %d",
			numFeatures, numClasses)
	}
	m := New(numFeatures, numClasses)
	if m.DType, err = xtensors.DTypeFromConfig(c); err != nil {
		return nil, err
	}
	if m.InitStddev, err = c.FloatOr(config.SectionModel, "init_stddev", m.InitStddev); err != nil {
		return nil, err
	}
	seed, err := c.IntOr(config.SectionModel, "init_seed", 0)
	if err != nil {
		return nil, err
	}
	m.InitSeed = uint64(seed)
	if m.MeanMomentum, err = c.FloatOr(config.SectionModel, "feature_mean_momentum", m.MeanMomentum); err != nil {
		return nil, err
	}
	if m.MeanMomentum < 0 || m.MeanMomentum >= 1 {
		return nil, errors.Errorf("model.feature_mean_momentum must be in [0, 1), got %g", m.MeanMomentum)
	}
	return m, nil
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("softmax.Model(%d features, %d classes, %s)", m.NumFeatures, m.NumClasses, m.DType)
}

func (m *Model) values(data []float64, dims ...int) *tensors.Tensor {
	t, err := xtensors.FromFloats(m.DType, data, dims...)
	if err != nil {
		panic(errors.WithMessagef(err, "%s", m))
	}
	return t
}

func (m *Model) initialWeights() *tensors.Tensor {
	rng := rand.New(rand.NewPCG(m.InitSeed, uint64(m.NumFeatures*m.NumClasses)))
	data := make([]float64, m.NumFeatures*m.NumClasses)
	for ii := range data {
		data[ii] = rng.NormFloat64() * m.InitStddev
	}
	return m.values(data, m.NumFeatures, m.NumClasses)
}

// CreateGraph implements driver.Modeler.
//
// The running mean is updated from the examples of the first tower built in the graph only:
// the later towers find the variable already in use.
func (m *Model) CreateGraph(ctx *context.Context, mode driver.Mode, features *Node) (logits, predictions *Node) {
	g := features.Graph()
	ctx = ctx.In(Scope)
	if features.Rank() != 2 || features.Shape().Dimensions[1] != m.NumFeatures {
		panic(errors.Errorf("%s: features must be shaped [batch, %d], got %s", m, m.NumFeatures, features.Shape()))
	}
	weights := ctx.VariableWithValue(WeightsName, m.initialWeights())
	dtype := weights.Shape().DType
	if features.DType() != dtype {
		features = ConvertDType(features, dtype)
	}
	bias := ctx.VariableWithValue(BiasName, m.values(make([]float64, m.NumClasses), m.NumClasses))
	meanVar := ctx.VariableWithValue(FeatureMeanName, m.values(make([]float64, m.NumFeatures), m.NumFeatures)).
		SetTrainable(false)
	firstTower := !meanVar.InUseByGraph(g)
	mean := meanVar.ValueGraph(g)

	if mode == driver.ModeTrain && firstTower {
		batchMean := ReduceMean(features, 0)
		meanVar.SetValueGraph(Add(MulScalar(mean, m.MeanMomentum), MulScalar(batchMean, 1-m.MeanMomentum)))
	}

	centered := Center(features, mean)
	logits = Add(MatMul(centered, weights.ValueGraph(g)), InsertAxes(bias.ValueGraph(g), 0))
	predictions = ArgMax(logits, -1, dtypes.Int32)
	return
}

// Center subtracts mean [m] from each row of x [n, m].
func Center(x, mean *Node) *Node {
	if x.Rank() != 2 || mean.Rank() != 1 || x.Shape().Dimensions[1] != mean.Shape().Dimensions[0] {
		panic(errors.Errorf("Center of incompatible shapes %s and %s", x.Shape(), mean.Shape()))
	}
	return Sub(x, InsertAxes(mean, 0))
}

// CreateLoss implements driver.Modeler: the mean softmax cross-entropy of the logits [n, k]
// and the integer labels [n].
func (m *Model) CreateLoss(logits, labels *Node) *Node {
	return SoftmaxCrossEntropy(logits, labels)
}

// SoftmaxCrossEntropy returns the mean cross-entropy between the softmax of logits [n, k] and
// the integer class labels [n].
func SoftmaxCrossEntropy(logits, labels *Node) *Node {
	shifted := Sub(logits, StopGradient(ReduceAndKeep(logits, ReduceMax, -1)))
	logSumExp := Log(ReduceSum(Exp(shifted), -1))
	numClasses := logits.Shape().Dimensions[logits.Rank()-1]
	target := ReduceSum(Mul(shifted, OneHot(labels, numClasses, logits.DType())), -1)
	return ReduceAllMean(Sub(logSumExp, target))
}

// CreateEvalMetrics implements driver.Modeler: the fraction of predictions equal to the labels.
func (m *Model) CreateEvalMetrics(predictions, labels *Node) *Node {
	return Accuracy(predictions, labels, dtypes.Float32)
}

// Accuracy returns the fraction of predictions equal to the labels, as a scalar of dtype.
func Accuracy(predictions, labels *Node, dtype dtypes.DType) *Node {
	if labels.DType() != predictions.DType() {
		labels = ConvertDType(labels, predictions.DType())
	}
	return ReduceAllMean(ConvertDType(Equal(predictions, labels), dtype))
}

// DisplayPredictionSimple implements driver.Modeler. It prints one line per prediction.
//
// Predictions are matched to samples in order, cycling over them, the way datasets.Inputter
// feeds them.
func (m *Model) DisplayPredictionSimple(predictions []*tensors.Tensor, samples []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.Output
	if out == nil {
		out = os.Stdout
	}
	for tower, towerPredictions := range predictions {
		if towerPredictions == nil {
			continue
		}
		classes, err := xtensors.Floats(towerPredictions)
		if err != nil {
			_, _ = fmt.Fprintf(out, "tower %d: %v\n", tower, err)
			continue
		}
		for _, class := range classes {
			sample := fmt.Sprintf("#%d", m.displayed)
			if len(samples) > 0 {
				sample = samples[m.displayed%len(samples)]
			}
			_, _ = fmt.Fprintf(out, "tower %d: %s -> class %d\n", tower, sample, int(class))
			m.displayed++
		}
	}
}
