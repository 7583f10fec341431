// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantiate(t *testing.T) {
	text := "{M} {N} {K} {VEC_A_SIZE} {VEC_B_SIZE} {VEC_C_SIZE} {A_STRIDE} {B_STRIDE} {C_STRIDE}"
	got, err := Instantiate(text, shapes.Make(2, 4, 3))
	require.NoError(t, err)
	assert.Equal(t, "2 4 3 6 12 8 2 3 2", got)

	// Placeholders may repeat, and unknown braces are left alone.
	got, err = Instantiate("<{VEC_C_SIZE} x float> {M}x{N} {OTHER}", shapes.Make(5, 7, 1))
	require.NoError(t, err)
	assert.Equal(t, "<35 x float> 5x7 {OTHER}", got)
}

func TestInstantiateNotParameterized(t *testing.T) {
	fixed := "define void @ll_matmul_4x4(ptr %a, ptr %b, ptr %c) { ret void }"
	_, err := Instantiate(fixed, shapes.Make(4, 4, 4))
	require.ErrorIs(t, err, ErrTemplate)

	// Only strides and sizes is still not parameterized.
	_, err = Instantiate("{VEC_A_SIZE} {A_STRIDE}", shapes.Make(4, 4, 4))
	require.ErrorIs(t, err, ErrTemplate)

	_, err = Instantiate("{M}", shapes.MatMul{M: 0, N: 1, K: 1})
	require.ErrorIs(t, err, shapes.ErrInvalidInput)
}

func TestDefault(t *testing.T) {
	tmpl := Default()
	require.True(t, tmpl.IsDefault())
	assert.Equal(t, DefaultEntryPoint, tmpl.EntryPoint)
	require.True(t, IsParameterized(tmpl.Text))

	ir, err := tmpl.Instantiate(shapes.Make(2, 4, 3))
	require.NoError(t, err)
	assert.NotRegexp(t, `\{[A-Z_]+\}`, ir)
	assert.Contains(t, ir, "define void @ll_matmul_jit(")
	assert.Contains(t, ir, "@llvm.matrix.multiply.v8f32.v6f32.v12f32(<6 x float> %va, <12 x float> %vb, i32 2, i32 3, i32 4)")
	assert.Contains(t, ir, "ptr %c, i64 2, i1 false, i32 2, i32 4)")

	// Square shapes must not declare the same intrinsic twice.
	ir, err = tmpl.Instantiate(shapes.Make(4, 4, 4))
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, line := range strings.Split(ir, "\n") {
		if !strings.HasPrefix(line, "declare ") {
			continue
		}
		require.False(t, seen[line], "duplicate declaration %q", line)
		seen[line] = true
	}
	assert.Len(t, seen, 4)
}

func TestIsLarge(t *testing.T) {
	assert.False(t, IsLarge(shapes.Make(1, 33, 1)))
	assert.False(t, IsLarge(shapes.Make(32, 32, 32)))
	assert.True(t, IsLarge(shapes.Make(33, 32, 32)))
	assert.True(t, IsLarge(shapes.Make(64, 64, 64)))
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvTemplate, "")
	t.Setenv(EnvEntryPoint, "")
	tmpl, err := Resolve()
	require.NoError(t, err)
	assert.True(t, tmpl.IsDefault())

	path := filepath.Join(t.TempDir(), "blocked.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("define void @my_kernel() ; {M}"), 0o644))
	t.Setenv(EnvTemplate, path)
	t.Setenv(EnvEntryPoint, "my_kernel")
	tmpl, err = Resolve()
	require.NoError(t, err)
	assert.False(t, tmpl.IsDefault())
	assert.Equal(t, path, tmpl.Origin)
	assert.Equal(t, "my_kernel", tmpl.EntryPoint)
	ir, err := tmpl.Instantiate(shapes.Make(3, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, "define void @my_kernel() ; 3", ir)

	t.Setenv(EnvTemplate, filepath.Join(t.TempDir(), "missing.tmpl"))
	_, err = Resolve()
	require.ErrorIs(t, err, ErrTemplate)
}

func TestNew(t *testing.T) {
	tmpl := New("{M}", "")
	assert.Equal(t, DefaultEntryPoint, tmpl.EntryPoint)
	assert.False(t, tmpl.IsDefault())
	assert.Equal(t, "Template(user, @ll_matmul_jit)", tmpl.String())
}
