// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints locates, describes and attaches the checkpoints saved by
// github.com/gomlx/gomlx/pkg/ml/context/checkpoints for a context.Context.
//
// Each checkpoint is a pair of files sharing a base name
// "checkpoint-n<count>-<date>-<time>-step-<global step>": a ".json" file with the metadata
// and a ".bin" file with the values. Base names sort in the order the checkpoints were saved,
// and the last one is the latest.
//
// Example:
//
//	handler, err := checkpoints.Attach(ctx, modelDir, 5) // Latest checkpoint, if any, is loaded lazily.
//	...
//	err = handler.Save()
package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	gomlxckpt "github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/pkg/errors"
)

var (
	// ErrNoCheckpoint is returned (wrapped) when a checkpoint is required but none is found.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrNoPretrainedCheckpoint is returned (wrapped) when a pretrained checkpoint is configured,
	// some variable should be restored from it, and the path holds no checkpoint.
	ErrNoPretrainedCheckpoint = errors.New("pretrained checkpoint not found")
)

const (
	JsonNameSuffix = gomlxckpt.JsonNameSuffix
	BinDataSuffix  = gomlxckpt.BinDataSuffix

	baseNamePrefix = "checkpoint-"
)

// Attach creates the handler that saves the variables of ctx to dir, keeping only the keep most
// recent checkpoints (all of them if keep <= 0).
// If dir already holds checkpoints, the latest one is attached to ctx: its values are used when
// the variables are created.
func Attach(ctx *context.Context, dir string, keep int) (*gomlxckpt.Handler, error) {
	if keep <= 0 {
		keep = -1
	}
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	return gomlxckpt.Build(ctx).Dir(dir).Keep(keep).ExcludeAllParams().Done()
}

// AttachLatest attaches the latest checkpoint of dir to ctx, for evaluation or inference.
// It returns an error wrapping ErrNoCheckpoint if dir has none.
func AttachLatest(ctx *context.Context, dir string) (*gomlxckpt.Handler, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	exists, err := Exists(dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(ErrNoCheckpoint, "model directory %q", dir)
	}
	return gomlxckpt.Load(ctx).Dir(dir).ExcludeAllParams().Done()
}

func listCheckpoints(dir string) (checkpoints []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, JsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, JsonNameSuffix))
	}
	slices.Sort(checkpoints)
	return checkpoints, nil
}

// Exists returns whether dir holds at least one checkpoint. A missing directory has none.
func Exists(dir string) (bool, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return false, err
	}
	list, err := listCheckpoints(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return len(list) > 0, nil
}

// Find resolves path to a checkpoint: either a directory, in which case its latest checkpoint
// is used, or the path to a checkpoint without suffix ("<dir>/checkpoint-...").
// It returns an error wrapping ErrNoCheckpoint if there is none.
func Find(path string) (dir, baseName string, err error) {
	path, err = fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return
	}
	fi, statErr := os.Stat(path)
	if statErr == nil && fi.IsDir() {
		var list []string
		list, err = listCheckpoints(path)
		if err != nil {
			return
		}
		if len(list) == 0 {
			err = errors.Wrapf(ErrNoCheckpoint, "directory %q", path)
			return
		}
		return path, list[len(list)-1], nil
	}
	path = strings.TrimSuffix(strings.TrimSuffix(path, JsonNameSuffix), BinDataSuffix)
	exists, err := fsutil.FileExists(path + JsonNameSuffix)
	if err != nil {
		return
	}
	if !exists {
		err = errors.Wrapf(ErrNoCheckpoint, "path %q", path)
		return
	}
	return filepath.Dir(path), filepath.Base(path), nil
}

// serializedData mirrors the ".json" file written by the gomlx checkpoints handler.
type serializedData struct {
	Variables []serializedVar
	BinFormat string
}

type serializedVar struct {
	ParameterName string
	Dimensions    []int
	DType         dtypes.DType
	Pos, Length   int
}

// VariableInfo describes one variable saved in a checkpoint.
type VariableInfo struct {
	// Name is the variable scope and name, e.g. "/softmax/weights".
	Name  string
	Dims  []int
	DType dtypes.DType

	// Bytes used by the variable in the uncompressed data file.
	Bytes int
}

// Metadata of a checkpoint.
type Metadata struct {
	BaseName   string
	GlobalStep int64
	BinFormat  string
	Variables  []VariableInfo
}

var globalStepRegex = regexp.MustCompile(`-step-(\d+)$`)

// GlobalStepOf returns the global step encoded in a checkpoint base name. Checkpoints saved
// before the first training step ("...-initial") are at step 0.
func GlobalStepOf(baseName string) int64 {
	matches := globalStepRegex.FindStringSubmatch(baseName)
	if len(matches) != 2 {
		return 0
	}
	step, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0
	}
	return step
}

func readSerialized(dir, baseName string) (*serializedData, error) {
	jsonFileName := filepath.Join(dir, baseName+JsonNameSuffix)
	contents, err := os.ReadFile(jsonFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint metadata file %s", jsonFileName)
	}
	serialized := &serializedData{}
	if err := json.Unmarshal(contents, serialized); err != nil {
		return nil, errors.Wrapf(err, "failed to decode metadata of checkpoint %s", baseName)
	}
	return serialized, nil
}

// ReadMetadata reads the metadata of the checkpoint baseName in dir, without loading the values
// of its variables.
func ReadMetadata(dir, baseName string) (*Metadata, error) {
	serialized, err := readSerialized(dir, baseName)
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		BaseName:   baseName,
		GlobalStep: GlobalStepOf(baseName),
		BinFormat:  serialized.BinFormat,
		Variables:  make([]VariableInfo, 0, len(serialized.Variables)),
	}
	for _, v := range serialized.Variables {
		scope, name := context.VariableScopeAndNameFromParameterName(v.ParameterName)
		m.Variables = append(m.Variables, VariableInfo{
			Name:  context.JoinScope(scope, name),
			Dims:  v.Dimensions,
			DType: v.DType,
			Bytes: v.Length,
		})
	}
	return m, nil
}
