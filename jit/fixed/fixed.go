// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fixed provides pre-built kernels for 4×4 matrices, with the same column-major ABI as the
// JIT compiled kernels. They are useful to skip compilation for the most common small shape, and as a
// baseline to compare the compiled kernels with.
//
// Empty or mis-sized buffers are rejected with shapes.ErrInvalidInput, like in every other path.
package fixed

import (
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
)

// Size of the matrices handled by the fixed kernels.
const Size = 4

// Shape of the multiplication implemented by the fixed kernels.
var Shape = shapes.MatMul{M: Size, N: Size, K: Size}

// Kernel is a fixed-shape kernel.
type Kernel struct {
	name string
	fn   backends.KernelFunc
}

var (
	// Unrolled4x4 computes each of the 16 outputs with a fully unrolled dot product.
	Unrolled4x4 = &Kernel{name: "ll_matmul_4x4_unrolled", fn: unrolled4x4}

	// Transposed4x4 first transposes A, so both operands of each dot product are contiguous.
	Transposed4x4 = &Kernel{name: "ll_matmul_4x4", fn: transposed4x4}
)

// Kernels returns all the fixed kernels.
func Kernels() []*Kernel {
	return []*Kernel{Unrolled4x4, Transposed4x4}
}

// Name of the kernel's symbol.
func (k *Kernel) Name() string { return k.name }

// String implements fmt.Stringer.
func (k *Kernel) String() string { return "fixed kernel " + k.name }

// Shape returns the only shape supported by the kernel.
func (k *Kernel) Shape() shapes.MatMul { return Shape }

// Kernel returns the unchecked backends.Kernel.
func (k *Kernel) Kernel() backends.Kernel { return k.fn }

// Call multiplies the column-major 4×4 matrices a and b, storing the column-major result in c.
func (k *Kernel) Call(a, b, c []float32) error {
	matrix := Shape.C()
	for _, operand := range []struct {
		name string
		flat []float32
	}{{"A", a}, {"B", b}, {"result", c}} {
		if err := matrix.Check(operand.flat); err != nil {
			return errors.WithMessagef(err, "%s of %s", operand.name, k)
		}
	}
	k.fn(a, b, c)
	return nil
}

// unrolled4x4: c[i + 4j] = sum_p a[i + 4p] * b[p + 4j].
func unrolled4x4(a, b, c []float32) {
	_, _, _ = a[15], b[15], c[15]
	for j := range Size {
		b0, b1, b2, b3 := b[4*j], b[4*j+1], b[4*j+2], b[4*j+3]
		c[4*j] = a[0]*b0 + a[4]*b1 + a[8]*b2 + a[12]*b3
		c[4*j+1] = a[1]*b0 + a[5]*b1 + a[9]*b2 + a[13]*b3
		c[4*j+2] = a[2]*b0 + a[6]*b1 + a[10]*b2 + a[14]*b3
		c[4*j+3] = a[3]*b0 + a[7]*b1 + a[11]*b2 + a[15]*b3
	}
}

func transposed4x4(a, b, c []float32) {
	// aT is A in row-major order, that is, the column-major A transposed.
	var aT [Size * Size]float32
	for i := range Size {
		for p := range Size {
			aT[i*Size+p] = a[i+p*Size]
		}
	}
	for j := range Size {
		bCol := b[j*Size : (j+1)*Size]
		for i := range Size {
			aRow := aT[i*Size : (i+1)*Size]
			c[i+j*Size] = aRow[0]*bCol[0] + aRow[1]*bCol[1] + aRow[2]*bCol[2] + aRow[3]*bCol[3]
		}
	}
}
