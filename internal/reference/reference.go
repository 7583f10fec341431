// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements a naive matrix multiplication and helpers to generate and compare
// matrices, used to check the kernels in tests, benchmarks and in the cmd/llmatmul tool.
package reference

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
)

// Expected4x4 is the row-major product of Sequence(4, 4, 1, 1) and Sequence(4, 4, 16, -1).
var Expected4x4 = []float32{
	80, 70, 60, 50,
	240, 214, 188, 162,
	400, 358, 316, 274,
	560, 502, 444, 386,
}

// MatMul is the naive triple-loop multiplication of the row-major matrices a (m×k) and b (k×n).
// It returns the row-major result (m×n).
func MatMul(a []float32, aShape shapes.Matrix, b []float32, bShape shapes.Matrix) ([]float32, error) {
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
	m, n, k := shape.M, shape.N, shape.K
	c := make([]float32, m*n)
	for i := range m {
		for j := range n {
			var sum float32
			for p := range k {
				sum += a[i*k+p] * b[p*n+j]
			}
			c[i*n+j] = sum
		}
	}
	return c, nil
}

// RandomMatrix returns a row-major matrix with values uniformly distributed in [1, 255),
// deterministic for a given seed.
func RandomMatrix(rows, cols int, seed uint64) []float32 {
	return RandomMatrixInRange(rows, cols, seed, 1, 255)
}

// RandomMatrixInRange returns a matrix with values uniformly distributed in [low, high),
// deterministic for a given seed.
func RandomMatrixInRange(rows, cols int, seed uint64, low, high float32) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	values := make([]float32, rows*cols)
	for ii := range values {
		values[ii] = low + (high-low)*rng.Float32()
	}
	return values
}

// Identity returns the size×size identity matrix.
func Identity(size int) []float32 {
	values := make([]float32, size*size)
	for ii := range size {
		values[ii*size+ii] = 1
	}
	return values
}

// Sequence returns a matrix with values start, start+step, start+2*step, ...
func Sequence(rows, cols int, start, step float32) []float32 {
	values := make([]float32, rows*cols)
	for ii := range values {
		values[ii] = start + float32(ii)*step
	}
	return values
}

// MaxAbsDiff returns the largest absolute difference between got and want, and where it happens.
// It returns +Inf if the lengths differ.
func MaxAbsDiff(got, want []float32) (diff float64, index int) {
	if len(got) != len(want) {
		return math.Inf(1), -1
	}
	index = -1
	for ii := range got {
		d := math.Abs(float64(got[ii]) - float64(want[ii]))
		if d > diff || math.IsNaN(d) {
			diff, index = d, ii
		}
	}
	return
}

// Compare returns an error listing the mismatches if any element of got differs from want by more
// than epsilon (absolute difference). At most 10 mismatches are listed.
func Compare(got, want []float32, epsilon float64) error {
	if len(got) != len(want) {
		return errors.Errorf("result has %d elements, wanted %d", len(got), len(want))
	}
	var sb strings.Builder
	var count int
	for ii := range got {
		d := math.Abs(float64(got[ii]) - float64(want[ii]))
		if d <= epsilon {
			continue
		}
		if count < 10 {
			_, _ = fmt.Fprintf(&sb, "\n\t#%d: got %g, wanted %g (diff %g)", ii, got[ii], want[ii], d)
		}
		count++
	}
	if count > 0 {
		return errors.Errorf("%d of %d elements differ by more than %g:%s", count, len(got), epsilon, sb.String())
	}
	return nil
}

// RelativeEpsilon returns a tolerance for comparing the results of a multiplication with the given
// contracting size k, whose operands have magnitude up to maxValue.
func RelativeEpsilon(k int, maxValue float32) float64 {
	magnitude := float64(k) * float64(maxValue) * float64(maxValue)
	return math.Max(1e-4, magnitude*1e-6)
}
