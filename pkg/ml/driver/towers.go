// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/lambdal/towers/pkg/core/devices"
	"github.com/lambdal/towers/pkg/ml/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TowerNameScope returns the name scope of tower i.
func TowerNameScope(tower int) string {
	return fmt.Sprintf("tower_%d", tower)
}

// TowerPlacement is the logical placement of one tower: its forward pass, loss, metrics and
// gradients belong to Compute, and the variables it reads to Parameters.
type TowerPlacement struct {
	Name       string
	Compute    devices.Device
	Parameters devices.Device
}

// String implements fmt.Stringer.
func (p TowerPlacement) String() string {
	return fmt.Sprintf("%s: compute %s, parameters %s", p.Name, p.Compute, p.Parameters)
}

// placeTowers returns the placement of numTowers towers, given by devices.Place.
func placeTowers(numTowers int) []TowerPlacement {
	placements := make([]TowerPlacement, numTowers)
	for tower := range numTowers {
		assign := devices.AssignToDevice(devices.GPUDevice(tower), devices.DefaultParameterDevice)
		placements[tower] = TowerPlacement{
			Name:       TowerNameScope(tower),
			Compute:    assign(devices.OpKindForward),
			Parameters: assign(devices.OpKindVariable),
		}
	}
	return placements
}

// UnbackedTowers returns how many of numTowers towers have no discovered accelerator of
// their own.
func UnbackedTowers(host devices.HostInfo, numTowers int) int {
	return max(0, numTowers-len(host.GPUs))
}

// setupTowers fills in the towers' placement in result, and warns about the towers beyond the
// host's accelerators.
func (a *App) setupTowers(numTowers int, result *Result) {
	result.Towers = placeTowers(numTowers)
	for _, p := range result.Towers {
		klog.V(1).Infof("Tower %s", p)
	}
	result.UnbackedTowers = UnbackedTowers(a.Host(), numTowers)
	if result.UnbackedTowers > 0 {
		klog.Warningf("run_config.num_gpu=%d, but %d accelerator(s) found: %d tower(s) share the backend's devices",
			numTowers, len(a.Host().GPUs), result.UnbackedTowers)
	}
}

// towerContext returns the context tower builds its forward pass with: the first tower
// creates the variables, and the others reuse them.
func towerContext(ctx *context.Context, tower int) *context.Context {
	if tower == 0 {
		return ctx.Checked(false)
	}
	return ctx.Reuse()
}

// forEachTower calls buildTower for each tower, with the tower's context and its contiguous
// block of batchSizePerGPU rows of features and labels. A nil labels yields nil tower labels.
func forEachTower(ctx *context.Context, numTowers, batchSizePerGPU int, features, labels *Node,
	buildTower func(tower int, ctx *context.Context, features, labels *Node)) {
	batchSize := features.Shape().Dimensions[0]
	if numTowers*batchSizePerGPU > batchSize {
		exceptions.Panicf("batch of %d examples is too small for %d towers of %d examples", batchSize, numTowers, batchSizePerGPU)
	}
	for tower := range numTowers {
		from, to := tower*batchSizePerGPU, (tower+1)*batchSizePerGPU
		var towerLabels *Node
		if labels != nil {
			towerLabels = Slice(labels, AxisRange(from, to))
		}
		buildTower(tower, towerContext(ctx, tower), Slice(features, AxisRange(from, to)), towerLabels)
	}
}

// execStep runs one step of exec, converting the panics raised while building or running the
// graph to errors. An error of the pretrained loader is preferred, since it is the cause.
func execStep(exec *context.Exec, pretrained *checkpoints.Pretrained, args ...any) ([]*tensors.Tensor, error) {
	var outputs []*tensors.Tensor
	var execErr error
	err := exceptions.TryCatch[error](func() {
		outputs, execErr = exec.Exec(args...)
	})
	if pretrained != nil && pretrained.Err() != nil {
		return nil, pretrained.Err()
	}
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// newExec creates the executor of the step graph built by fn, for the App's backend. The graph
// itself is built on the first step.
func (a *App) newExec(rc RunConfig, ctx *context.Context, name string, fn any) (*context.Exec, error) {
	backend, err := a.getBackend(rc)
	if err != nil {
		return nil, err
	}
	exec, err := context.NewExecAny(backend, ctx, fn)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %s executor", name)
	}
	return exec, nil
}
