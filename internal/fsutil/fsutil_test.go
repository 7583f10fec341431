// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTildeInDir("~/templates/a.tmpl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "templates/a.tmpl"), got)

	got, err = ReplaceTildeInDir("/tmp/a.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.tmpl", got)

	_, err = ReplaceTildeInDir("~no_such_user_for_sure_123/x")
	require.Error(t, err)
}

func TestReadConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	contents, err := ReadConfigured(path, "TEST_ENV")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))

	_, err = ReadConfigured(filepath.Join(dir, "missing.txt"), "TEST_ENV")
	require.ErrorContains(t, err, "TEST_ENV")
	exists, err = FileExists(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.False(t, exists)
}
