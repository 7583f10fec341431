// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines the shapes of the operands of a matrix multiplication and the MatMul key
// used to identify a compiled kernel.
//
// A matrix multiplication C(m×n) = A(m×k) × B(k×n) is identified by its MatMul key (m, n, k).
// All the operands share the same DType, float32: mixing numeric types is not supported.
//
// ## Glossary
//
//   - Matrix: the 2D shape (rows × cols) of a flat buffer, stored either in row-major or column-major order.
//   - MatMul: the (m, n, k) triple of a matrix multiplication, also used as a cache key.
//   - Volume: m·n·k, the number of multiply-adds of a naive multiplication. Used to bound the size of
//     generated code.
package shapes

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DType of every element handled by the kernels.
const DType = dtypes.Float32

// ErrInvalidInput is returned (wrapped) whenever operands are empty, have inconsistent dimensions or
// buffers whose length doesn't match their shape. It is never retried.
var ErrInvalidInput = errors.New("invalid input")

// Matrix is the shape of a 2D matrix stored in a flat buffer.
type Matrix struct {
	Rows, Cols int
}

// Mat returns a Matrix shape. It doesn't validate the dimensions, see Matrix.Check.
func Mat(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols}
}

// Size returns the number of elements needed to store the matrix.
func (s Matrix) Size() int { return s.Rows * s.Cols }

// Memory returns the number of bytes needed to store the matrix.
func (s Matrix) Memory() uintptr {
	return DType.Memory() * uintptr(s.Size())
}

// IsEmpty returns whether any of the dimensions is <= 0.
func (s Matrix) IsEmpty() bool { return s.Rows <= 0 || s.Cols <= 0 }

// String implements fmt.Stringer.
func (s Matrix) String() string {
	return fmt.Sprintf("(%s)[%d %d]", DType, s.Rows, s.Cols)
}

// Check returns an error wrapping ErrInvalidInput if the shape is empty or if the flat buffer doesn't
// have exactly Rows*Cols elements.
func (s Matrix) Check(flat []float32) error {
	if s.IsEmpty() {
		return errors.Wrapf(ErrInvalidInput, "empty matrix %s is not supported", s)
	}
	if len(flat) != s.Size() {
		return errors.Wrapf(ErrInvalidInput, "buffer has %d elements, but matrix %s requires %d",
			len(flat), s, s.Size())
	}
	return nil
}

// MatMul identifies the shape of a matrix multiplication C(m×n) = A(m×k) × B(k×n).
//
// It is comparable, and it is used as the key of the kernel caches.
type MatMul struct {
	M, N, K int
}

// Make returns the MatMul for the given dimensions. It panics if any of them is <= 0.
func Make(m, n, k int) MatMul {
	s := MatMul{M: m, N: n, K: k}
	if err := s.Validate(); err != nil {
		exceptions.Panicf("shapes.Make(%d, %d, %d): %v", m, n, k, err)
	}
	return s
}

// ForOperands returns the MatMul for multiplying operands with shapes a and b.
//
// It fails with ErrInvalidInput if any of the operands is empty, or if the number of columns of a
// doesn't match the number of rows of b.
func ForOperands(a, b Matrix) (MatMul, error) {
	if a.IsEmpty() || b.IsEmpty() {
		return MatMul{}, errors.Wrapf(ErrInvalidInput, "empty operands are not supported: A=%s, B=%s", a, b)
	}
	if a.Cols != b.Rows {
		return MatMul{}, errors.Wrapf(ErrInvalidInput,
			"shapes don't match: A=%s has %d columns, but B=%s has %d rows", a, a.Cols, b, b.Rows)
	}
	return MatMul{M: a.Rows, N: b.Cols, K: a.Cols}, nil
}

// Validate returns an error wrapping ErrInvalidInput if any dimension is <= 0.
func (s MatMul) Validate() error {
	if s.M <= 0 || s.N <= 0 || s.K <= 0 {
		return errors.Wrapf(ErrInvalidInput, "all dimensions of %s must be > 0", s)
	}
	return nil
}

// A returns the shape of the left operand (m×k).
func (s MatMul) A() Matrix { return Matrix{Rows: s.M, Cols: s.K} }

// B returns the shape of the right operand (k×n).
func (s MatMul) B() Matrix { return Matrix{Rows: s.K, Cols: s.N} }

// C returns the shape of the result (m×n).
func (s MatMul) C() Matrix { return Matrix{Rows: s.M, Cols: s.N} }

// Volume is m·n·k, the number of multiply-adds performed by a naive multiplication.
func (s MatMul) Volume() int { return s.M * s.N * s.K }

// String implements fmt.Stringer.
func (s MatMul) String() string {
	return fmt.Sprintf("MatMul(m=%d, n=%d, k=%d)", s.M, s.N, s.K)
}

// Less orders MatMul keys by m, then n, then k. Useful to list keys deterministically.
func (s MatMul) Less(other MatMul) bool {
	if s.M != other.M {
		return s.M < other.M
	}
	if s.N != other.N {
		return s.N < other.N
	}
	return s.K < other.K
}
