// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layout converts flat matrices between row-major and column-major order.
//
// Go code (and the callers of this library) use row-major matrices, while the JIT kernels work
// on column-major buffers. Conversions always allocate a new buffer, so they are safe to use
// concurrently on shared inputs.
package layout

import (
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Order of the elements of a flat matrix.
type Order int

const (
	// RowMajor stores rows contiguously: element (i, j) is at i*cols+j.
	RowMajor Order = iota

	// ColMajor stores columns contiguously: element (i, j) is at j*rows+i.
	ColMajor
)

// String implements fmt.Stringer.
func (o Order) String() string {
	switch o {
	case RowMajor:
		return "RowMajor"
	case ColMajor:
		return "ColMajor"
	default:
		return "InvalidOrder"
	}
}

func checkBuffer[T constraints.Float](src []T, rows, cols int) error {
	if len(src) == 0 {
		return errors.Wrapf(shapes.ErrInvalidInput, "layout: empty buffer for a %dx%d matrix", rows, cols)
	}
	if rows <= 0 || cols <= 0 || len(src) != rows*cols {
		return errors.Wrapf(shapes.ErrInvalidInput, "layout: buffer with %d elements can't hold a %dx%d matrix",
			len(src), rows, cols)
	}
	return nil
}

// RowToColMajor converts the rows×cols row-major matrix src to column-major order.
//
// It returns an error wrapping shapes.ErrInvalidInput if src is empty or len(src) != rows*cols.
func RowToColMajor[T constraints.Float](src []T, rows, cols int) ([]T, error) {
	if err := checkBuffer(src, rows, cols); err != nil {
		return nil, err
	}
	dst := make([]T, len(src))
	for row := range rows {
		rowValues := src[row*cols : (row+1)*cols]
		for col, v := range rowValues {
			dst[col*rows+row] = v
		}
	}
	return dst, nil
}

// ColToRowMajor converts the rows×cols column-major matrix src to row-major order.
//
// It returns an error wrapping shapes.ErrInvalidInput if src is empty or len(src) != rows*cols.
func ColToRowMajor[T constraints.Float](src []T, rows, cols int) ([]T, error) {
	if err := checkBuffer(src, rows, cols); err != nil {
		return nil, err
	}
	dst := make([]T, len(src))
	for col := range cols {
		colValues := src[col*rows : (col+1)*rows]
		for row, v := range colValues {
			dst[row*cols+col] = v
		}
	}
	return dst, nil
}

// Convert src, a rows×cols matrix stored in the from order, to the to order.
// If from == to, it still returns a copy.
func Convert[T constraints.Float](src []T, rows, cols int, from, to Order) ([]T, error) {
	switch {
	case from == to:
		if err := checkBuffer(src, rows, cols); err != nil {
			return nil, err
		}
		dst := make([]T, len(src))
		copy(dst, src)
		return dst, nil
	case from == RowMajor && to == ColMajor:
		return RowToColMajor(src, rows, cols)
	case from == ColMajor && to == RowMajor:
		return ColToRowMajor(src, rows, cols)
	}
	return nil, errors.Errorf("layout: unknown conversion from %s to %s", from, to)
}
