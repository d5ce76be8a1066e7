// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the nested configuration of the driver: named sections (model, train,
// eval, infer, data, run_config) mapping keys to scalar or list values.
//
// The configuration is loaded once, from a YAML file plus "section.key=value" overrides (see
// Config.ParseSettings), and is read-only afterwards. Accessors fail with ErrMissingKey when a
// required key is absent, at the point of first use.
package config

import (
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrMissingKey is returned (wrapped) when a required configuration key is not set.
var ErrMissingKey = errors.New("missing configuration key")

// Section names used by the driver.
const (
	SectionModel     = "model"
	SectionTrain     = "train"
	SectionEval      = "eval"
	SectionInfer     = "infer"
	SectionData      = "data"
	SectionRunConfig = "run_config"
)

// Config is a nested section -> key -> value mapping. Values are the types decoded by YAML:
// int, float64, string, bool and []any.
type Config struct {
	sections map[string]map[string]any
}

// New returns an empty configuration.
func New() *Config {
	return &Config{sections: make(map[string]map[string]any)}
}

// Parse a YAML document whose top-level keys are sections, each a mapping of keys to values.
func Parse(contents []byte) (*Config, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(contents, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	c := New()
	for section, values := range raw {
		for key, value := range values {
			c.Set(section, key, value)
		}
	}
	return c, nil
}

// Load reads the YAML configuration file at path. A leading "~" is expanded to the home directory.
func Load(path string) (*Config, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration from %q", path)
	}
	c, err := Parse(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	return c, nil
}

// Set the value of section.key.
func (c *Config) Set(section, key string, value any) {
	values, found := c.sections[section]
	if !found {
		values = make(map[string]any)
		c.sections[section] = values
	}
	values[key] = value
}

// Has returns whether section.key is set.
func (c *Config) Has(section, key string) bool {
	_, found := c.sections[section][key]
	return found
}

// Get returns the raw value of section.key, or an error wrapping ErrMissingKey.
func (c *Config) Get(section, key string) (any, error) {
	value, found := c.sections[section][key]
	if !found {
		return nil, errors.Wrapf(ErrMissingKey, "%s.%s", section, key)
	}
	return value, nil
}

// Sections returns the names of the sections, sorted.
func (c *Config) Sections() []string {
	return slices.Sorted(maps.Keys(c.sections))
}

// Keys returns the keys set in section, sorted.
func (c *Config) Keys(section string) []string {
	return slices.Sorted(maps.Keys(c.sections[section]))
}

// String implements fmt.Stringer, listing every setting in the "section.key=value" format, one per line.
func (c *Config) String() string {
	var parts []string
	for _, section := range c.Sections() {
		for _, key := range c.Keys(section) {
			parts = append(parts, fmt.Sprintf("%s.%s=%v", section, key, c.sections[section][key]))
		}
	}
	return strings.Join(parts, "\n")
}

func wrongType(section, key string, value any, want string) error {
	return errors.Errorf("configuration %s.%s=%v (%T) is not %s", section, key, value, value, want)
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns the required integer section.key.
func (c *Config) Int(section, key string) (int, error) {
	value, err := c.Get(section, key)
	if err != nil {
		return 0, err
	}
	i, ok := toInt(value)
	if !ok {
		return 0, wrongType(section, key, value, "an integer")
	}
	return i, nil
}

// IntOr returns the integer section.key, or defaultValue if it is not set.
func (c *Config) IntOr(section, key string, defaultValue int) (int, error) {
	if !c.Has(section, key) {
		return defaultValue, nil
	}
	return c.Int(section, key)
}

// Float returns the required number section.key.
func (c *Config) Float(section, key string) (float64, error) {
	value, err := c.Get(section, key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, wrongType(section, key, value, "a number")
	}
	return f, nil
}

// FloatOr returns the number section.key, or defaultValue if it is not set.
func (c *Config) FloatOr(section, key string, defaultValue float64) (float64, error) {
	if !c.Has(section, key) {
		return defaultValue, nil
	}
	return c.Float(section, key)
}

// StringValue returns the required string section.key. Scalars of other types are formatted.
func (c *Config) StringValue(section, key string) (string, error) {
	value, err := c.Get(section, key)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case []any, map[string]any:
		return "", wrongType(section, key, value, "a string")
	default:
		return fmt.Sprint(v), nil
	}
}

// StringOr returns the string section.key, or defaultValue if it is not set.
func (c *Config) StringOr(section, key, defaultValue string) (string, error) {
	if !c.Has(section, key) {
		return defaultValue, nil
	}
	return c.StringValue(section, key)
}

// BoolOr returns the boolean section.key, or defaultValue if it is not set. The strings "true"
// and "false" are accepted.
func (c *Config) BoolOr(section, key string, defaultValue bool) (bool, error) {
	if !c.Has(section, key) {
		return defaultValue, nil
	}
	value := c.sections[section][key]
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
	}
	return false, wrongType(section, key, value, "a boolean")
}

// Strings returns the list of strings section.key, or nil if it is not set. A single string
// value is taken as a list with one element.
func (c *Config) Strings(section, key string) ([]string, error) {
	if !c.Has(section, key) {
		return nil, nil
	}
	value := c.sections[section][key]
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		list := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, wrongType(section, key, value, "a list of strings")
			}
			list = append(list, s)
		}
		return list, nil
	}
	return nil, wrongType(section, key, value, "a list of strings")
}

// Floats returns the list of numbers section.key, or nil if it is not set.
func (c *Config) Floats(section, key string) ([]float64, error) {
	if !c.Has(section, key) {
		return nil, nil
	}
	value := c.sections[section][key]
	switch v := value.(type) {
	case []float64:
		return slices.Clone(v), nil
	case []any:
		list := make([]float64, 0, len(v))
		for _, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, wrongType(section, key, value, "a list of numbers")
			}
			list = append(list, f)
		}
		return list, nil
	}
	if f, ok := toFloat(value); ok {
		return []float64{f}, nil
	}
	return nil, wrongType(section, key, value, "a list of numbers")
}

// ContainsAny returns a predicate that reports whether a name contains any of the substrings.
// With no substrings it matches every name, so it can be used as an allow-list that defaults to
// allowing everything.
func ContainsAny(substrings []string) func(name string) bool {
	if len(substrings) == 0 {
		return func(string) bool { return true }
	}
	substrings = slices.Clone(substrings)
	return func(name string) bool {
		for _, s := range substrings {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}
}

// ContainsNone returns a predicate that reports whether a name contains none of the substrings.
// Used as a deny-list.
func ContainsNone(substrings []string) func(name string) bool {
	substrings = slices.Clone(substrings)
	return func(name string) bool {
		for _, s := range substrings {
			if strings.Contains(name, s) {
				return false
			}
		}
		return true
	}
}
