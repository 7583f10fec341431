// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/backends/simplego"
	"github.com/gomlx/llmatmul/internal/reference"
	"github.com/gomlx/llmatmul/jit/fixed"
	"github.com/gomlx/llmatmul/jit/kernelcache"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func newTestMultiplier(options ...Option) *Multiplier {
	cache := kernelcache.New(must.M1(simplego.New("")), kernelcache.WithTemplate(templates.Default()))
	return New(cache, options...)
}

func TestMultiplyMatchesReference(t *testing.T) {
	m := newTestMultiplier()
	rng := rand.New(rand.NewPCG(42, 7))
	for ii := range 25 {
		rows, inner, cols := 1+rng.IntN(12), 1+rng.IntN(12), 1+rng.IntN(12)
		a := reference.RandomMatrix(rows, inner, uint64(2*ii))
		b := reference.RandomMatrix(inner, cols, uint64(2*ii+1))
		got, err := m.Multiply(a, shapes.Mat(rows, inner), b, shapes.Mat(inner, cols))
		require.NoError(t, err)
		want := must.M1(reference.MatMul(a, shapes.Mat(rows, inner), b, shapes.Mat(inner, cols)))
		require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(inner, 255)),
			"%dx%d x %dx%d", rows, inner, inner, cols)
	}
	assert.Greater(t, m.Cache().Len(), 1)
}

// gemm multiplies the row-major a (m×k) and b (k×n) with gonum's BLAS.
func gemm(m, n, k int, a, b []float32) []float32 {
	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: make([]float32, m*n)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0, c)
	return c.Data
}

func TestMultiplyMatchesBLAS(t *testing.T) {
	m := newTestMultiplier(WithFixedKernels())
	for ii, dims := range [][3]int{{1, 1, 1}, {4, 4, 4}, {2, 4, 3}, {9, 1, 17}, {16, 20, 8}} {
		rows, cols, inner := dims[0], dims[1], dims[2]
		a := reference.RandomMatrix(rows, inner, uint64(100+ii))
		b := reference.RandomMatrix(inner, cols, uint64(200+ii))
		got := must.M1(m.Multiply(a, shapes.Mat(rows, inner), b, shapes.Mat(inner, cols)))
		want := gemm(rows, cols, inner, a, b)
		require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(inner, 255)),
			"m=%d, n=%d, k=%d", rows, cols, inner)
	}
}

func TestMultiplySmallMagnitudes(t *testing.T) {
	m := newTestMultiplier()
	a := reference.RandomMatrixInRange(5, 6, 1, 1e-10, 2e-10)
	b := reference.RandomMatrixInRange(6, 3, 2, 1e-10, 2e-10)
	got := must.M1(m.Multiply(a, shapes.Mat(5, 6), b, shapes.Mat(6, 3)))
	want := must.M1(reference.MatMul(a, shapes.Mat(5, 6), b, shapes.Mat(6, 3)))
	require.NoError(t, reference.Compare(got, want, 1e-18))
}

func TestConcrete4x4(t *testing.T) {
	a := reference.Sequence(4, 4, 1, 1)
	b := reference.Sequence(4, 4, 16, -1)
	for _, m := range []*Multiplier{newTestMultiplier(), newTestMultiplier(WithFixedKernels())} {
		got, err := m.Multiply(a, shapes.Mat(4, 4), b, shapes.Mat(4, 4))
		require.NoError(t, err)
		require.NoError(t, reference.Compare(got, reference.Expected4x4, 1e-4))
	}

	// Fixed kernels don't compile anything.
	m := newTestMultiplier(WithFixedKernels(fixed.Transposed4x4))
	assert.Equal(t, PathFixed, m.PathFor(fixed.Shape))
	_ = must.M1(m.Multiply(a, shapes.Mat(4, 4), b, shapes.Mat(4, 4)))
	assert.Equal(t, 0, m.Cache().Len())
}

func TestAlgebraicLaws(t *testing.T) {
	m := newTestMultiplier()
	const size = 6
	square := shapes.Mat(size, size)
	a := reference.RandomMatrix(size, size, 1)
	b := reference.RandomMatrix(size, size, 2)

	// Identity.
	got := must.M1(m.Multiply(a, square, reference.Identity(size), square))
	require.NoError(t, reference.Compare(got, a, 1e-4))

	// Zero.
	got = must.M1(m.Multiply(a, square, make([]float32, size*size), square))
	require.NoError(t, reference.Compare(got, make([]float32, size*size), 0))

	// Non-commutativity.
	ab := must.M1(m.Multiply(a, square, b, square))
	ba := must.M1(m.Multiply(b, square, a, square))
	diff, _ := reference.MaxAbsDiff(ab, ba)
	assert.Greater(t, diff, 1.0)
}

func TestInvalidInputs(t *testing.T) {
	compiler := must.M1(simplego.New(""))
	cache := kernelcache.New(compiler, kernelcache.WithTemplate(templates.Default()))
	m := New(cache)

	_, err := m.Multiply(make([]float32, 6), shapes.Mat(2, 3), make([]float32, 6), shapes.Mat(2, 3))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)

	_, err = m.Multiply(nil, shapes.Mat(0, 0), nil, shapes.Mat(0, 0))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)

	_, err = m.Multiply(make([]float32, 5), shapes.Mat(2, 3), make([]float32, 12), shapes.Mat(3, 4))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)

	// Fixed kernels also reject empty inputs.
	mFixed := New(cache, WithFixedKernels())
	_, err = mFixed.Multiply(nil, shapes.Mat(4, 0), nil, shapes.Mat(0, 4))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)

	assert.Equal(t, 0, cache.Len(), "nothing should have been compiled")
	assert.Equal(t, kernelcache.Stats{}, cache.Stats())
}

func TestCeiling(t *testing.T) {
	a := reference.RandomMatrix(8, 8, 1)
	b := reference.RandomMatrix(8, 8, 2)
	shape := shapes.Make(8, 8, 8)
	want := must.M1(reference.MatMul(a, shape.A(), b, shape.B()))

	// BLAS fallback.
	m := newTestMultiplier(WithMaxVolume(100))
	assert.Equal(t, PathBLAS, m.PathFor(shape))
	got, err := m.Multiply(a, shape.A(), b, shape.B())
	require.NoError(t, err)
	require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(8, 255)))
	assert.Equal(t, 0, m.Cache().Len())

	// Error.
	m = newTestMultiplier(WithMaxVolume(100), WithFallback(FallbackError))
	assert.Equal(t, PathRejected, m.PathFor(shape))
	_, err = m.Multiply(a, shape.A(), b, shape.B())
	require.ErrorIs(t, err, ErrTooLarge)

	// No ceiling.
	m = newTestMultiplier(WithMaxVolume(0), WithFallback(FallbackError))
	assert.Equal(t, PathJIT, m.PathFor(shapes.Make(100, 100, 100)))
	got, err = m.Multiply(a, shape.A(), b, shape.B())
	require.NoError(t, err)
	require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(8, 255)))

	// Default ceiling.
	m = newTestMultiplier()
	assert.Equal(t, PathJIT, m.PathFor(shapes.Make(32, 32, 32)))
	assert.Equal(t, PathBLAS, m.PathFor(shapes.Make(33, 32, 32)))
	assert.Equal(t, "blas", PathBLAS.String())
}

func TestCompilationErrorsPropagate(t *testing.T) {
	m := newTestMultiplier(WithTemplate(templates.New("define void @ll_matmul_jit() ; {M}", "")))
	_, err := m.Multiply(make([]float32, 4), shapes.Mat(2, 2), make([]float32, 4), shapes.Mat(2, 2))
	require.ErrorIs(t, err, backends.ErrCompilation)

	m = newTestMultiplier(WithTemplate(templates.New("not a template", "")))
	_, err = m.Multiply(make([]float32, 4), shapes.Mat(2, 2), make([]float32, 4), shapes.Mat(2, 2))
	require.ErrorIs(t, err, templates.ErrTemplate)
}

func TestNewDefault(t *testing.T) {
	t.Setenv(backends.ConfigEnvVar, simplego.BackendName)
	t.Setenv(templates.EnvTemplate, "")
	m, err := NewDefault()
	require.NoError(t, err)
	assert.Equal(t, simplego.BackendName, m.Cache().Compiler().Name())
	got := must.M1(m.Multiply(reference.Sequence(4, 4, 1, 1), shapes.Mat(4, 4),
		reference.Sequence(4, 4, 16, -1), shapes.Mat(4, 4)))
	require.NoError(t, reference.Compare(got, reference.Expected4x4, 1e-4))
}
