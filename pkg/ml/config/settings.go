// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strings"

	"github.com/lambdal/towers/pkg/support/fsutil"
	"github.com/lambdal/towers/pkg/support/xslices"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ParseSettings applies a list of settings separated by ";", each in the format
// "section.key=value". Values are parsed as YAML scalars or flow sequences ("[a, b]"); when the
// key currently holds a list, a plain comma-separated value is also accepted. Underscores can be
// used as digit separators in integers ("1_000").
//
// A setting "file:<path>" reads settings from the file, one or more per line, skipping empty
// lines and lines starting with "#".
//
// It returns the "section.key" of every setting applied, in order.
func (c *Config) ParseSettings(settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = c.parseSetting(setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func (c *Config) parseSetting(setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				newParamsSet, err = c.parseSetting(lineSetting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse setting %q: each setting requires the format \"<section>.<key>=<value>\"", setting)
		return
	}
	paramPath = strings.TrimSpace(paramPath)
	section, key, found := strings.Cut(paramPath, ".")
	if !found || section == "" || key == "" {
		err = errors.Errorf("can't parse setting %q: parameter %q is not in the format \"<section>.<key>\"", setting, paramPath)
		return
	}
	var value any
	value, err = c.parseValue(section, key, strings.TrimSpace(valueStr))
	if err != nil {
		err = errors.WithMessagef(err, "failed to parse value %q for parameter %q", valueStr, paramPath)
		return
	}
	c.Set(section, key, value)
	newParamsSet = append(newParamsSet, paramPath)
	return
}

// parseValue parses valueStr, taking into account the current value of section.key.
func (c *Config) parseValue(section, key, valueStr string) (any, error) {
	current, exists := c.sections[section][key]
	switch current.(type) {
	case int:
		valueStr = strings.ReplaceAll(valueStr, "_", "")
	case string:
		return valueStr, nil
	case []any:
		if !strings.HasPrefix(valueStr, "[") {
			parts := strings.Split(valueStr, ",")
			var err error
			values := xslices.Map(parts, func(part string) any {
				v, newErr := parseYAMLScalar(strings.TrimSpace(part))
				if newErr != nil {
					err = newErr
				}
				return v
			})
			return values, err
		}
	}
	value, err := parseYAMLScalar(valueStr)
	if err != nil {
		return nil, err
	}
	if exists {
		if _, wasInt := current.(int); wasInt {
			if _, isInt := value.(int); !isInt {
				return nil, errors.Errorf("expected an integer, got %v (%T)", value, value)
			}
		}
	}
	return value, nil
}

func parseYAMLScalar(valueStr string) (any, error) {
	if valueStr == "" {
		return "", nil
	}
	var value any
	if err := yaml.Unmarshal([]byte(valueStr), &value); err != nil {
		return nil, errors.Wrap(err, "invalid value")
	}
	if _, isMap := value.(map[string]any); isMap {
		return nil, errors.New("mappings are not accepted as values")
	}
	return value, nil
}
