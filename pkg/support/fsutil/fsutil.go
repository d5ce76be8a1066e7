// Copyright 2026 The Towers Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: existence checks,
// "~" expansion and directory creation for model directories.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DirPermMode is the permission (before umask) used when creating directories.
var DirPermMode = os.FileMode(0770)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` refers to an unknown user (e.g: `~unknown/...`).
func ReplaceTildeInDir(dir string) (string, error) {
	if dir == "" || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		userName, _, _ = strings.Cut(dir[1:], "/")
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// EnsureDir expands "~" in dir and creates it (and its parents) if it doesn't exist yet.
// It returns the expanded path, and whether it had to be created.
//
// It fails if the path exists but is not a directory.
func EnsureDir(dir string) (expanded string, created bool, err error) {
	expanded, err = ReplaceTildeInDir(dir)
	if err != nil {
		return
	}
	fi, statErr := os.Stat(expanded)
	if statErr == nil {
		if !fi.IsDir() {
			err = errors.Errorf("%q exists but it's a normal file, not a directory", expanded)
		}
		return
	}
	if !errors.Is(statErr, os.ErrNotExist) {
		err = errors.Wrapf(statErr, "failed to os.Stat(%q)", expanded)
		return
	}
	if err = os.MkdirAll(expanded, DirPermMode); err != nil {
		err = errors.Wrapf(err, "trying to create dir %q", expanded)
		return
	}
	created = true
	return
}
