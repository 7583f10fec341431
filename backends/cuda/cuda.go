// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cuda implements backends.DeviceRuntime over the CUDA driver API.
//
// The driver (libcuda.so.1) is loaded with dlopen at runtime, so binaries don't need the CUDA toolkit to be
// built, and fail only when a Runtime is created in a machine without the driver.
//
// CUDA contexts are bound to OS threads: callers must call runtime.LockOSThread and Runtime.MakeCurrent
// before using the other methods in a goroutine.
package cuda

import (
	"fmt"
	"unsafe"
)

// RuntimeName is the name returned by Runtime.Name.
const RuntimeName = "cuda"

// DriverLibraries are the names of the CUDA driver library tried, in order.
var DriverLibraries = []string{"libcuda.so.1", "libcuda.so"}

// function implements backends.Function.
type function struct {
	name   string
	handle unsafe.Pointer
}

// Name implements backends.Function.
func (f *function) Name() string { return f.name }

// String implements fmt.Stringer.
func (f *function) String() string { return fmt.Sprintf("cuda function %q", f.name) }
