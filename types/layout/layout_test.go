// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layout

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowToColMajor(t *testing.T) {
	// 2x3: [[1 2 3] [4 5 6]]
	rowMajor := []float32{1, 2, 3, 4, 5, 6}
	colMajor, err := RowToColMajor(rowMajor, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, colMajor)

	back, err := ColToRowMajor(colMajor, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, rowMajor, back)

	// Input is never modified.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, rowMajor)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for range 20 {
		rows, cols := 1+rng.IntN(17), 1+rng.IntN(17)
		x := make([]float64, rows*cols)
		for ii := range x {
			x[ii] = rng.Float64()
		}
		colMajor, err := RowToColMajor(x, rows, cols)
		require.NoError(t, err)
		got, err := ColToRowMajor(colMajor, rows, cols)
		require.NoError(t, err)
		require.Equal(t, x, got, "row->col->row for %dx%d", rows, cols)

		rowMajor, err := ColToRowMajor(x, rows, cols)
		require.NoError(t, err)
		got, err = RowToColMajor(rowMajor, rows, cols)
		require.NoError(t, err)
		require.Equal(t, x, got, "col->row->col for %dx%d", rows, cols)
	}
}

func TestInvalid(t *testing.T) {
	_, err := RowToColMajor([]float32{}, 0, 0)
	require.ErrorIs(t, err, shapes.ErrInvalidInput)
	_, err = ColToRowMajor([]float32{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, shapes.ErrInvalidInput)
	_, err = Convert([]float32{1, 2, 3, 4}, 2, 2, RowMajor, Order(7))
	require.Error(t, err)
}

func TestConvert(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6}
	same, err := Convert(src, 3, 2, ColMajor, ColMajor)
	require.NoError(t, err)
	assert.Equal(t, src, same)
	same[0] = 100
	assert.Equal(t, float32(1), src[0], "Convert with the same order must copy")

	toCol, err := Convert(src, 3, 2, RowMajor, ColMajor)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3, 5, 2, 4, 6}, toCol)
}
