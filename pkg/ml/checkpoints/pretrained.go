// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	gomlxckpt "github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pretrained is a context.Loader that initializes the selected variables from a pretrained
// checkpoint, used to warm-start training when the model directory has no checkpoint yet.
//
// The checkpoint is only looked up when the first selected variable is created: if no
// variable is selected, the path is never read, and a missing path is not an error.
//
// Install it with Context.SetLoader before Attach, so it is consulted before the model
// directory checkpoint.
type Pretrained struct {
	path string
	keep func(scopeAndName string) bool

	baseName string
	values   map[string]*tensors.Tensor
	err      error

	requested, covered int
	sealed             bool
}

// NewPretrained creates a loader reading from path, a checkpoint directory (its latest
// checkpoint is used) or a checkpoint base path. Only variables whose scope and name
// (e.g. "/softmax/weights") satisfy keep are restored.
func NewPretrained(path string, keep func(scopeAndName string) bool) *Pretrained {
	return &Pretrained{path: path, keep: keep}
}

// LoadVariable implements context.Loader. It panics with an error wrapping
// ErrNoPretrainedCheckpoint if a selected variable is requested and path holds no checkpoint.
func (p *Pretrained) LoadVariable(_ *context.Context, scope, name string) (*tensors.Tensor, bool) {
	if p.sealed || !p.keep(context.JoinScope(scope, name)) {
		return nil, false
	}
	p.requested++
	if err := p.load(); err != nil {
		panic(err)
	}
	paramName := context.VariableParameterNameFromScopeAndName(scope, name)
	value, found := p.values[paramName]
	if !found {
		klog.V(1).Infof("Variable %s not in pretrained checkpoint %s, initializing it", context.JoinScope(scope, name), p.baseName)
		return nil, false
	}
	delete(p.values, paramName)
	p.covered++
	return value, true
}

// DeleteVariable implements context.Loader.
func (p *Pretrained) DeleteVariable(_ *context.Context, scope, name string) error {
	delete(p.values, context.VariableParameterNameFromScopeAndName(scope, name))
	return nil
}

// Seal stops restoring: variables created afterwards, e.g. the optimizer state, are
// initialized from scratch.
func (p *Pretrained) Seal() {
	p.sealed = true
}

// Err returns the error that stopped the loading of the pretrained checkpoint, if any.
// Since LoadVariable can only report it by panicking, callers use it to recover the original
// error after a failed graph build.
func (p *Pretrained) Err() error {
	return p.err
}

// Used reports whether any variable was selected for restoring.
func (p *Pretrained) Used() bool {
	return p.requested > 0
}

// Restored returns how many variables were selected for restoring, and how many of those
// were found in the pretrained checkpoint.
func (p *Pretrained) Restored() (requested, covered int) {
	return p.requested, p.covered
}

// BaseName of the pretrained checkpoint, once it was read.
func (p *Pretrained) BaseName() string {
	return p.baseName
}

func (p *Pretrained) load() error {
	if p.err != nil || p.values != nil {
		return p.err
	}
	p.err = p.read()
	return p.err
}

func (p *Pretrained) read() error {
	dir, baseName, err := Find(p.path)
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return errors.Wrapf(ErrNoPretrainedCheckpoint, "%q: %v", p.path, err)
		}
		return err
	}
	jsonBytes, err := os.ReadFile(filepath.Join(dir, baseName+JsonNameSuffix))
	if err != nil {
		return errors.Wrapf(err, "reading pretrained checkpoint %s", baseName)
	}
	binBytes, err := os.ReadFile(filepath.Join(dir, baseName+BinDataSuffix))
	if err != nil {
		return errors.Wrapf(err, "reading pretrained checkpoint %s", baseName)
	}
	handler, err := gomlxckpt.Build(context.New()).FromEmbed(string(jsonBytes), binBytes).ExcludeAllParams().Done()
	if err != nil {
		return errors.WithMessagef(err, "pretrained checkpoint %s", filepath.Join(dir, baseName))
	}
	p.baseName = baseName
	p.values = make(map[string]*tensors.Tensor, len(handler.LoadedVariables()))
	for paramName, value := range handler.LoadedVariables() {
		p.values[paramName] = value
	}
	klog.Infof("Warm-starting from pretrained checkpoint %s", filepath.Join(dir, baseName))
	return nil
}

var _ context.Loader = (*Pretrained)(nil)
