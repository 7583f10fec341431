// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package jit multiplies row-major float32 matrices using kernels compiled just-in-time for each shape.
//
// The first multiplication of a shape compiles a kernel (see package kernelcache), which can take
// from milliseconds to seconds, and the following ones reuse it.
//
// Example:
//
//	m := must.M1(jit.NewDefault())
//	c, err := m.Multiply(a, shapes.Mat(2, 3), b, shapes.Mat(3, 4))
//
// Kernels generated from a naive template grow with m·n·k, and compiling them for large shapes may
// exhaust the memory of the machine. So the Multiplier routes shapes with a volume above a ceiling
// (WithMaxVolume) to a fallback (WithFallback): a BLAS implementation by default.
package jit

import (
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/jit/fixed"
	"github.com/gomlx/llmatmul/jit/kernelcache"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/layout"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"k8s.io/klog/v2"
)

// ErrTooLarge is returned when a shape exceeds the configured ceiling and the fallback is FallbackError.
var ErrTooLarge = errors.New("shape too large for JIT compilation")

// DefaultMaxVolume is the default ceiling of m·n·k for JIT compilation.
const DefaultMaxVolume = templates.LargeVolume

// Fallback selects what to do with shapes above the ceiling.
type Fallback int

const (
	// FallbackBLAS multiplies large shapes with gonum's BLAS implementation.
	FallbackBLAS Fallback = iota

	// FallbackError fails large shapes with ErrTooLarge.
	FallbackError
)

// Path taken by a multiplication.
type Path int

const (
	// PathJIT uses a kernel compiled for the shape, from the Multiplier's cache.
	PathJIT Path = iota

	// PathFixed uses one of the pre-built kernels given with WithFixedKernels.
	PathFixed

	// PathBLAS uses gonum's BLAS, for shapes above the ceiling with FallbackBLAS.
	PathBLAS

	// PathRejected fails with ErrTooLarge, for shapes above the ceiling with FallbackError.
	PathRejected
)

var pathNames = []string{"jit", "fixed", "blas", "rejected"}

// String implements fmt.Stringer.
func (p Path) String() string {
	if p < 0 || int(p) >= len(pathNames) {
		return "invalid"
	}
	return pathNames[p]
}

// Multiplier multiplies matrices with JIT compiled kernels. It is safe for concurrent use.
type Multiplier struct {
	cache     *kernelcache.Cache
	template  *templates.Template
	maxVolume int
	fallback  Fallback
	fixed     map[shapes.MatMul]*fixed.Kernel
}

// Option for New.
type Option func(m *Multiplier)

// WithMaxVolume sets the ceiling of m·n·k of the shapes compiled. Larger shapes go to the fallback.
// If maxVolume is 0 there is no ceiling: use it only with templates that bound the size of the generated code.
// The default is DefaultMaxVolume.
func WithMaxVolume(maxVolume int) Option {
	return func(m *Multiplier) {
		m.maxVolume = maxVolume
	}
}

// WithFallback sets what to do with shapes above the ceiling. The default is FallbackBLAS.
func WithFallback(fallback Fallback) Option {
	return func(m *Multiplier) {
		m.fallback = fallback
	}
}

// WithFixedKernels makes the Multiplier use the given pre-built kernels for their shapes, instead of compiling one.
// If no kernels are given, fixed.Unrolled4x4 is used.
func WithFixedKernels(kernels ...*fixed.Kernel) Option {
	return func(m *Multiplier) {
		if len(kernels) == 0 {
			kernels = []*fixed.Kernel{fixed.Unrolled4x4}
		}
		for _, k := range kernels {
			m.fixed[k.Shape()] = k
		}
	}
}

// WithTemplate sets the template used to compile new kernels. It overrides the cache's template.
func WithTemplate(tmpl *templates.Template) Option {
	return func(m *Multiplier) {
		m.template = tmpl
	}
}

// New creates a Multiplier that uses the kernels of cache.
//
// Multipliers can share a cache, but notice the cache is keyed only by shape: kernels compiled from
// different templates are not distinguished.
func New(cache *kernelcache.Cache, options ...Option) *Multiplier {
	m := &Multiplier{
		cache:     cache,
		maxVolume: DefaultMaxVolume,
		fallback:  FallbackBLAS,
		fixed:     make(map[shapes.MatMul]*fixed.Kernel),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// NewDefault creates a Multiplier with a new cache, using the default compiler (see backends.New).
func NewDefault(options ...Option) (*Multiplier, error) {
	compiler, err := backends.New()
	if err != nil {
		return nil, err
	}
	return New(kernelcache.New(compiler), options...), nil
}

// Cache used by the Multiplier.
func (m *Multiplier) Cache() *kernelcache.Cache { return m.cache }

// PathFor returns the path a multiplication of the given shape would take.
func (m *Multiplier) PathFor(shape shapes.MatMul) Path {
	if _, found := m.fixed[shape]; found {
		return PathFixed
	}
	if m.maxVolume > 0 && shape.Volume() > m.maxVolume {
		if m.fallback == FallbackError {
			return PathRejected
		}
		return PathBLAS
	}
	return PathJIT
}

// Multiply the row-major matrices a and b, and returns the row-major result.
//
// The number of columns of a must match the number of rows of b, and neither can be empty, otherwise it
// fails with an error wrapping shapes.ErrInvalidInput, before anything is compiled.
// Compilation errors wrap backends.ErrCompilation or templates.ErrTemplate.
func (m *Multiplier) Multiply(a []float32, aShape shapes.Matrix, b []float32, bShape shapes.Matrix) ([]float32, error) {
	shape, err := shapes.ForOperands(aShape, bShape)
	if err != nil {
		return nil, err
	}
	if err = aShape.Check(a); err != nil {
		return nil, errors.WithMessage(err, "operand A")
	}
	if err = bShape.Check(b); err != nil {
		return nil, errors.WithMessage(err, "operand B")
	}

	path := m.PathFor(shape)
	switch path {
	case PathFixed:
		return callColMajor(shape, a, b, m.fixed[shape].Call)
	case PathRejected:
		return nil, errors.Wrapf(ErrTooLarge, "%s has volume %d, above the ceiling %d", shape, shape.Volume(), m.maxVolume)
	case PathBLAS:
		klog.V(2).Infof("jit: %s above the ceiling %d, using BLAS", shape, m.maxVolume)
		return multiplyBLAS(shape, a, b), nil
	}

	kernel, err := m.cache.GetOrCompile(shape, m.template)
	if err != nil {
		return nil, err
	}
	return callColMajor(shape, a, b, kernel.Call)
}

// callColMajor converts the row-major operands to column-major, calls kernel, and converts the result back.
func callColMajor(shape shapes.MatMul, a, b []float32, kernel func(a, b, c []float32) error) ([]float32, error) {
	aCol, err := layout.RowToColMajor(a, shape.M, shape.K)
	if err != nil {
		return nil, err
	}
	bCol, err := layout.RowToColMajor(b, shape.K, shape.N)
	if err != nil {
		return nil, err
	}
	cCol := make([]float32, shape.M*shape.N)
	if err = kernel(aCol, bCol, cCol); err != nil {
		return nil, err
	}
	return layout.ColToRowMajor(cCol, shape.M, shape.N)
}

// multiplyBLAS uses gonum's SGEMM, which works directly on row-major matrices.
func multiplyBLAS(shape shapes.MatMul, a, b []float32) []float32 {
	c := blas32.General{Rows: shape.M, Cols: shape.N, Stride: shape.N, Data: make([]float32, shape.M*shape.N)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: shape.M, Cols: shape.K, Stride: shape.K, Data: a},
		blas32.General{Rows: shape.K, Cols: shape.N, Stride: shape.N, Data: b},
		0, c)
	return c.Data
}
