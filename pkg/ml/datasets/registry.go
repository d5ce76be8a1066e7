// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"maps"
	"slices"

	"github.com/lambdal/towers/pkg/ml/config"
	"github.com/pkg/errors"
)

// SourceFactory creates a Source from the configuration.
type SourceFactory func(cfg *config.Config) (Source, error)

// Sources registered by name, selected with "data.inputter".
var Sources = map[string]SourceFactory{
	"blobs":  func(cfg *config.Config) (Source, error) { return NewBlobs(cfg) },
	"csv":    func(cfg *config.Config) (Source, error) { return NewCSV(cfg) },
	"images": func(cfg *config.Config) (Source, error) { return NewImages(cfg) },
}

// FromConfig creates the Inputter for the source named by "data.inputter" (default "blobs").
func FromConfig(cfg *config.Config) (*Inputter, error) {
	name, err := cfg.StringOr(config.SectionData, "inputter", "blobs")
	if err != nil {
		return nil, err
	}
	factory, found := Sources[name]
	if !found {
		return nil, errors.Errorf("unknown data.inputter %q, known inputters are %q", name, slices.Sorted(maps.Keys(Sources)))
	}
	source, err := factory(cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %q inputter", name)
	}
	return NewInputter(cfg, source)
}
