// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package driver implements the multi-device train, eval and infer orchestrators.
//
// The App builds the computation graph of a step once per invocation, replicated across
// num_gpu "towers": each tower takes a contiguous slice of the batch and builds its own forward
// pass (and, for training, its own loss and gradients), while all towers share the same
// variables of one context.Context. Per-tower losses, gradients and accuracies are averaged (see
// package aggregate) before the single parameter update.
//
// Graphs are built and executed with gomlx, on the backend named by "run_config.backend" (the
// pure Go "go" backend by default). Tower placement is logical: each tower is described by the
// devices.Place policy, the compute device "/gpu:<tower>" and the parameter device "/cpu:0",
// and reported in Result.Towers, while the backend decides where the compiled step runs.
//
// The model and the input pipeline are collaborators, given as a Modeler and an Inputter.
// The Modeler builds its part of the graph by panicking with an error on failures, as every
// graph building function does; the driver converts those panics to returned errors.
//
// Example:
//
//	cfg := must.M1(config.Load("config.yaml"))
//	app := driver.New(cfg, inputter, modeler)
//	result, err := app.Run(driver.Train{})
package driver

import (
	"fmt"
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/lambdal/towers/pkg/core/devices"
	"github.com/lambdal/towers/pkg/ml/checkpoints"
	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Mode of a graph build.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeEval  Mode = "eval"
	ModeInfer Mode = "infer"
)

var (
	// ErrNoCheckpoint is returned (wrapped) by Eval and Infer when the model directory has no
	// checkpoint.
	ErrNoCheckpoint = checkpoints.ErrNoCheckpoint

	// ErrNoPretrainedCheckpoint is returned (wrapped) by Train when "train.restore_ckpt" is
	// configured, the model directory has no checkpoint, some variable is selected for
	// restoring, and the pre-trained path has no checkpoint.
	ErrNoPretrainedCheckpoint = checkpoints.ErrNoPretrainedCheckpoint
)

// Inputter is the input pipeline collaborator.
type Inputter interface {
	// InputFn creates the dataset of the given mode. Each Yield returns one batch: the
	// features, shaped [batch_size, ...], as the only input, and the labels, shaped
	// [batch_size], as the only label. For ModeInfer samples are the caller's samples, and
	// the labels may be empty. The dataset is not expected to end.
	InputFn(mode Mode, samples ...string) (train.Dataset, error)
}

// Modeler is the model collaborator.
type Modeler interface {
	// CreateGraph builds the forward pass for the features of one tower, with its variables
	// in ctx. The first tower is given an unchecked context, and the others one that reuses
	// the variables created by the first.
	CreateGraph(ctx *context.Context, mode Mode, features *Node) (logits, predictions *Node)

	// CreateLoss returns the scalar loss of one tower.
	CreateLoss(logits, labels *Node) *Node

	// CreateEvalMetrics returns the scalar accuracy of one tower.
	CreateEvalMetrics(predictions, labels *Node) *Node

	// DisplayPredictionSimple consumes the predictions of one inference step, one tensor per
	// tower, along with all the samples given to the inference.
	DisplayPredictionSimple(predictions []*tensors.Tensor, samples []string)
}

// Request selects what App.Run does: one of Train, Eval, Infer or Inspect.
type Request interface {
	mode() string
}

// Train runs the training orchestrator.
type Train struct{}

// Eval runs the evaluation orchestrator.
type Eval struct{}

// Infer runs the inference orchestrator on Samples.
type Infer struct {
	Samples []string
}

// Inspect runs the inspection utility.
type Inspect struct {
	// Variables also builds the forward pass of the first tower and lists its trainable
	// variables, minus those matching "train.skip_l2_var_list".
	Variables bool
}

func (Train) mode() string   { return "train" }
func (Eval) mode() string    { return "eval" }
func (Infer) mode() string   { return "infer" }
func (Inspect) mode() string { return "inspect" }

// Result of App.Run.
type Result struct {
	// Mode that was run: "train", "eval", "infer" or "inspect".
	Mode string

	// GlobalStep at the end of the run. For eval and infer it's the global step of the
	// restored checkpoint.
	GlobalStep int64

	// StepsRun by the orchestrator loop.
	StepsRun int

	// CheckpointSteps and SummarySteps are the global steps at which checkpoints and summaries
	// were written, in order.
	CheckpointSteps []int64
	SummarySteps    []int64

	// LogSteps are the steps at which a progress line was logged: global steps for training,
	// evaluation steps counted from 0 for eval.
	LogSteps []int64

	// Accuracy is the final mean accuracy of an evaluation.
	Accuracy float64

	// BatchShapes holds the features and labels shapes of the batches read by Inspect.
	BatchShapes [][2]string

	// Variables listed by Inspect{Variables: true}.
	Variables []string

	// Towers describes the logical placement of each tower.
	Towers []TowerPlacement

	// UnbackedTowers is the number of towers beyond the accelerators discovered on the host.
	UnbackedTowers int

	// PretrainedRestored is the number of variables initialized from "train.restore_ckpt".
	PretrainedRestored int
}

// App owns the configuration and the collaborators, and runs one orchestrator per call to Run.
type App struct {
	config   *config.Config
	inputter Inputter
	modeler  Modeler
	hooks    hooks

	mu      sync.Mutex
	backend backends.Backend
	host    *devices.HostInfo
}

// discoverHost is replaced in tests.
var discoverHost = devices.Discover

// New creates an App. The configuration must not be changed afterwards.
func New(cfg *config.Config, inputter Inputter, modeler Modeler) *App {
	return &App{config: cfg, inputter: inputter, modeler: modeler}
}

// Config returns the App's configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// SetBackend sets the backend used to execute the graphs, instead of the one named by
// "run_config.backend". It must be called before Run.
func (a *App) SetBackend(backend backends.Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backend = backend
}

// getBackend returns the App's backend, creating it on first use.
func (a *App) getBackend(rc RunConfig) (backends.Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != nil {
		return a.backend, nil
	}
	backend, err := backends.NewWithConfig(rc.Backend)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q (run_config.backend)", rc.Backend)
	}
	klog.V(1).Infof("Backend: %s", backend.Name())
	a.backend = backend
	return backend, nil
}

// Host returns the devices discovered on this host, discovering them on first use.
func (a *App) Host() devices.HostInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.host == nil {
		host := discoverHost()
		klog.V(1).Infof("Host: %s", host)
		a.host = &host
	}
	return *a.host
}

// String implements fmt.Stringer.
func (a *App) String() string {
	return fmt.Sprintf("driver.App(%T, %T)", a.inputter, a.modeler)
}

// Run dispatches req to its orchestrator.
func (a *App) Run(req Request) (*Result, error) {
	if a.inputter == nil || a.modeler == nil {
		return nil, errors.Errorf("%s: both an Inputter and a Modeler are required", a)
	}
	switch r := req.(type) {
	case Train:
		return a.train()
	case Eval:
		return a.eval()
	case Infer:
		return a.infer(r.Samples)
	case Inspect:
		return a.inspect(r.Variables)
	case nil:
		return nil, errors.New("driver.App.Run: nil request")
	default:
		return nil, errors.Errorf("driver.App.Run: unknown request %T", req)
	}
}

// ParseMode converts a command-line mode name to its Request. Samples are only used by "infer".
func ParseMode(mode string, samples []string) (Request, error) {
	switch mode {
	case "train":
		return Train{}, nil
	case "eval":
		return Eval{}, nil
	case "infer":
		return Infer{Samples: samples}, nil
	case "inspect":
		return Inspect{}, nil
	case "inspect_variables":
		return Inspect{Variables: true}, nil
	}
	return nil, errors.Errorf("unknown mode %q, valid modes are train, eval, infer, inspect and inspect_variables", mode)
}
