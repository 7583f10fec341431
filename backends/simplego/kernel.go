// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/types/shapes"
)

// kernelFor returns a kernel for the given shape, working on column-major operands.
func kernelFor(shape shapes.MatMul) backends.Kernel {
	m, n, contractingSize := shape.M, shape.N, shape.K
	return backends.KernelFunc(func(a, b, c []float32) {
		// Column-major: A[i, p] is at i + p*m, B[p, j] at p + j*k and C[i, j] at i + j*m.
		for j := range n {
			rhsCol := b[j*contractingSize : (j+1)*contractingSize]
			outputCol := c[j*m : (j+1)*m]
			for i := range m {
				var sum float32

				// Scalar loop with strided LHS access and 4-way unrolling.
				p := 0
				for ; p+3 < contractingSize; p += 4 {
					sum += a[i+p*m]*rhsCol[p] +
						a[i+(p+1)*m]*rhsCol[p+1] +
						a[i+(p+2)*m]*rhsCol[p+2] +
						a[i+(p+3)*m]*rhsCol[p+3]
				}
				for ; p < contractingSize; p++ {
					sum += a[i+p*m] * rhsCol[p]
				}
				outputCol[i] = sum
			}
		}
	})
}
