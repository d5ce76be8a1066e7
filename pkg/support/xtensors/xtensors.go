// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package xtensors converts between gomlx tensors and float64 slices, for the float dtypes
// the models are built with.
package xtensors

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// FloatDTypes are the accepted values of "model.dtype".
var FloatDTypes = []string{"float32", "float64", "float16"}

// DefaultFloatDType is used when "model.dtype" is not set.
const DefaultFloatDType = "float32"

// CheckFloatDType returns an error if dtype is not one of FloatDTypes.
func CheckFloatDType(dtype string) error {
	switch dtype {
	case "float32", "float64", "float16":
		return nil
	}
	return errors.Errorf("unsupported float dtype %q, valid values are %q", dtype, FloatDTypes)
}

// DType converts one of FloatDTypes to the graph dtype.
func DType(dtype string) (dtypes.DType, error) {
	switch dtype {
	case "float32":
		return dtypes.Float32, nil
	case "float64":
		return dtypes.Float64, nil
	case "float16":
		return dtypes.Float16, nil
	}
	return dtypes.InvalidDType, CheckFloatDType(dtype)
}

// StringGetter is the part of the configuration read by DTypeFromConfig.
type StringGetter interface {
	StringOr(section, key, defaultValue string) (string, error)
}

// DTypeFromConfig returns "model.dtype", the float dtype of the features and of the model
// variables, defaulting to DefaultFloatDType.
func DTypeFromConfig(cfg StringGetter) (string, error) {
	dtype, err := cfg.StringOr("model", "dtype", DefaultFloatDType)
	if err != nil {
		return "", err
	}
	return dtype, CheckFloatDType(dtype)
}

// FromFloats creates a tensor of the given float dtype and dimensions from data.
func FromFloats(dtype string, data []float64, dimensions ...int) (*tensors.Tensor, error) {
	switch dtype {
	case "float64":
		return tensors.FromFlatDataAndDimensions(data, dimensions...), nil
	case "float32":
		flat := make([]float32, len(data))
		for ii, v := range data {
			flat[ii] = float32(v)
		}
		return tensors.FromFlatDataAndDimensions(flat, dimensions...), nil
	case "float16":
		flat := make([]float16.Float16, len(data))
		for ii, v := range data {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(flat, dimensions...), nil
	}
	return nil, CheckFloatDType(dtype)
}

// Floats returns a copy of the flat values of t, converted to float64. Integer tensors are
// accepted too.
func Floats(t *tensors.Tensor) (values []float64, err error) {
	if t == nil {
		return nil, errors.New("xtensors.Floats: nil tensor")
	}
	err = t.ConstFlatData(func(flat any) {
		switch data := flat.(type) {
		case []float64:
			values = append(values, data...)
		case []float32:
			values = convert(data, func(v float32) float64 { return float64(v) })
		case []float16.Float16:
			values = convert(data, func(v float16.Float16) float64 { return float64(v.Float32()) })
		case []int32:
			values = convert(data, func(v int32) float64 { return float64(v) })
		case []int64:
			values = convert(data, func(v int64) float64 { return float64(v) })
		default:
			err = errors.Errorf("xtensors.Floats: unsupported tensor %s", t.Shape())
		}
	})
	return
}

func convert[T any](data []T, fn func(T) float64) []float64 {
	values := make([]float64, len(data))
	for ii, v := range data {
		values[ii] = fn(v)
	}
	return values
}

// Float returns the value of the scalar tensor t as a float64.
func Float(t *tensors.Tensor) (float64, error) {
	values, err := Floats(t)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, errors.Errorf("xtensors.Float: tensor %s is not a scalar", t.Shape())
	}
	return values[0], nil
}
