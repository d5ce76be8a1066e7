// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/lambdal/towers/pkg/ml/config"
)

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") for configuration overrides, to be applied with config.Config.ParseSettings. The usage
// lists the settings currently in cfg, typically the defaults.
//
// The flag should be created before the call to flag.Parse().
//
// Example usage:
//
//	func main() {
//		cfg := defaultConfig()
//		settings := commandline.CreateSettingsFlag(cfg, "")
//		flag.Parse()
//		paramsSet := must.M1(cfg.ParseSettings(*settings))
//		fmt.Println(commandline.SprintModifiedSettings(cfg, paramsSet))
//		...
//	}
func CreateSettingsFlag(cfg *config.Config, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Override configuration settings. ` +
			`It should be a list of elements "section.key=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments.`,
	}
	if defaults := cfg.String(); defaults != "" {
		parts = append(parts, "Default settings:", defaults)
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-prints all the settings of cfg into a string.
func SprintSettings(cfg *config.Config) string {
	var parts []string
	for _, section := range cfg.Sections() {
		for _, key := range cfg.Keys(section) {
			value, _ := cfg.Get(section, key)
			parts = append(parts, fmt.Sprintf("\t\"%s.%s\": (%T) %v", section, key, value, value))
		}
	}
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-prints the settings listed in paramsSet, as returned by
// config.Config.ParseSettings, sorted and without duplicates.
func SprintModifiedSettings(cfg *config.Config, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, paramPath := range paramsSet {
		section, key, found := strings.Cut(paramPath, ".")
		if !found {
			continue
		}
		value, err := cfg.Get(section, key)
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
	}
	return strings.Join(parts, "\n")
}
