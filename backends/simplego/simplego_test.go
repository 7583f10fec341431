// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"testing"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/reference"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/layout"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileDefault(t *testing.T, shape shapes.MatMul) backends.Kernel {
	tmpl := templates.Default()
	ir := must.M1(tmpl.Instantiate(shape))
	kernel, ctx, err := must.M1(New("")).Compile(ir, tmpl.EntryPoint)
	require.NoError(t, err)
	require.NoError(t, ctx.Release())
	assert.Contains(t, ctx.Description(), shape.String())
	return kernel
}

func TestCompile(t *testing.T) {
	for _, shape := range []shapes.MatMul{shapes.Make(2, 4, 3), shapes.Make(4, 4, 4), shapes.Make(1, 1, 1),
		shapes.Make(7, 3, 9), shapes.Make(5, 1, 13)} {
		kernel := compileDefault(t, shape)
		a := reference.RandomMatrix(shape.M, shape.K, 1)
		b := reference.RandomMatrix(shape.K, shape.N, 2)
		want := must.M1(reference.MatMul(a, shape.A(), b, shape.B()))

		aCol := must.M1(layout.RowToColMajor(a, shape.M, shape.K))
		bCol := must.M1(layout.RowToColMajor(b, shape.K, shape.N))
		cCol := make([]float32, shape.M*shape.N)
		kernel.Call(aCol, bCol, cCol)
		got := must.M1(layout.ColToRowMajor(cCol, shape.M, shape.N))
		require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(shape.K, 255)), "shape %s", shape)
	}
}

func TestCompileErrors(t *testing.T) {
	compiler := must.M1(New(""))
	assert.Equal(t, BackendName, compiler.Name())

	// Garbage.
	_, _, err := compiler.Compile("this is not IR", "ll_matmul_jit")
	require.ErrorIs(t, err, backends.ErrCompilation)
	var compErr *backends.CompilationError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, backends.StageParse, compErr.Stage)

	// Valid template, wrong entry point.
	ir := must.M1(templates.Default().Instantiate(shapes.Make(2, 2, 2)))
	_, _, err = compiler.Compile(ir, "not_there")
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, backends.StageEntryPoint, compErr.Stage)
	assert.Contains(t, compErr.Diagnostic, "ll_matmul_jit")

	// Not instantiated template: the dimensions are not constants.
	_, _, err = compiler.Compile(templates.Default().Text, templates.DefaultEntryPoint)
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, backends.StageParse, compErr.Stage)
}
