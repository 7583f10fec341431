// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system: resolving user-configured
// paths (template files, toolchain directories, device modules) and reading them.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user (e.g: `~unknown/...`).
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
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

// ReadConfigured reads the file at a user configured path, expanding a leading "~".
// The returned error names the source of the configuration (e.g. an environment variable),
// so users know where the path came from.
func ReadConfigured(path, source string) ([]byte, error) {
	resolved, err := ReplaceTildeInDir(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "resolving %s=%q", source, path)
	}
	contents, err := os.ReadFile(resolved)
	if err != nil {
		return nil, errors.Wrapf(err, "reading file %q configured by %s", resolved, source)
	}
	return contents, nil
}
