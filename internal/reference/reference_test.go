// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"math"
	"testing"

	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMul(t *testing.T) {
	a := Sequence(4, 4, 1, 1)
	b := Sequence(4, 4, 16, -1)
	assert.Equal(t, float32(16), a[15])
	assert.Equal(t, float32(1), b[15])
	c, err := MatMul(a, shapes.Mat(4, 4), b, shapes.Mat(4, 4))
	require.NoError(t, err)
	require.NoError(t, Compare(c, Expected4x4, 1e-4))

	// Identity.
	c, err = MatMul(a, shapes.Mat(4, 4), Identity(4), shapes.Mat(4, 4))
	require.NoError(t, err)
	assert.Equal(t, a, c)

	_, err = MatMul(a, shapes.Mat(4, 4), b, shapes.Mat(2, 8))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)
	_, err = MatMul(a[:3], shapes.Mat(4, 4), b, shapes.Mat(4, 4))
	require.ErrorIs(t, err, shapes.ErrInvalidInput)
}

func TestRandomMatrix(t *testing.T) {
	x := RandomMatrix(7, 5, 42)
	require.Len(t, x, 35)
	for _, v := range x {
		require.GreaterOrEqual(t, v, float32(1))
		require.Less(t, v, float32(255))
	}
	assert.Equal(t, x, RandomMatrix(7, 5, 42), "same seed must give the same matrix")
	assert.NotEqual(t, x, RandomMatrix(7, 5, 43))
}

func TestCompare(t *testing.T) {
	require.NoError(t, Compare([]float32{1, 2}, []float32{1, 2.00001}, 1e-4))
	err := Compare([]float32{1, 2}, []float32{1, 3}, 1e-4)
	require.ErrorContains(t, err, "1 of 2 elements")
	require.Error(t, Compare([]float32{1}, []float32{1, 2}, 1e-4))

	diff, idx := MaxAbsDiff([]float32{1, 5, 3}, []float32{1, 2, 3})
	assert.Equal(t, 3.0, diff)
	assert.Equal(t, 1, idx)
	diff, _ = MaxAbsDiff([]float32{1}, nil)
	assert.True(t, math.IsInf(diff, 1))
}
