// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cgo && (linux || darwin)

package llvm

/*
typedef void (*ll_matmul_fn)(const float*, const float*, float*);

static void ll_matmul_call(void* fn, const float* a, const float* b, float* c) {
	((ll_matmul_fn) fn)(a, b, c);
}
*/
import "C"

import (
	"unsafe"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
)

// nativeKernel calls a kernel compiled to native code, with the signature
// void (const float* a, const float* b, float* c).
type nativeKernel struct {
	fn unsafe.Pointer
}

// Call implements backends.Kernel.
func (k *nativeKernel) Call(a, b, c []float32) {
	C.ll_matmul_call(k.fn,
		(*C.float)(unsafe.Pointer(&a[0])),
		(*C.float)(unsafe.Pointer(&b[0])),
		(*C.float)(unsafe.Pointer(&c[0])))
}

// loadKernel resolves the kernel function entryPoint from lib.
func loadKernel(lib *dynlib.Library, entryPoint string) (backends.Kernel, error) {
	fn, err := lib.Symbol(entryPoint)
	if err != nil {
		return nil, err
	}
	return &nativeKernel{fn: fn}, nil
}
