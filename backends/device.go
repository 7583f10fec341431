// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "fmt"

// DevicePtr is an address in the memory of a device.
type DevicePtr uint64

// Dim3 is the size of a launch grid or of a block of threads.
type Dim3 struct {
	X, Y, Z uint32
}

// String implements fmt.Stringer.
func (d Dim3) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// Threads returns the total number of threads (or blocks) described.
func (d Dim3) Threads() uint64 {
	return uint64(d.X) * uint64(d.Y) * uint64(d.Z)
}

// KernelArg is one parameter of a device kernel launch, stored in a 64 bits slot.
//
// The runtime passes the address of the slot to the driver, which reads as many bytes as the
// kernel's parameter type requires: so 32 bits values are stored in the low bits (little-endian hosts).
type KernelArg uint64

// PtrArg converts a device pointer to a kernel argument.
func PtrArg(ptr DevicePtr) KernelArg { return KernelArg(ptr) }

// Int32Arg converts an int32 to a kernel argument.
func Int32Arg(value int32) KernelArg { return KernelArg(uint32(value)) }

// Function is a handle to a kernel function resolved from a loaded Module.
// It is immutable and can be shared by concurrent launches.
type Function interface {
	Name() string
}

// Module is a binary device module (e.g. PTX or fatbin) loaded by a DeviceRuntime.
type Module interface {
	// Function resolves the kernel function with the given name.
	Function(name string) (Function, error)

	// Unload the module. Functions resolved from it become invalid.
	Unload() error
}

// DeviceRuntime is the capability interface to a GPU driver.
//
// All failures reported by the driver are returned as errors wrapping ErrDevice.
type DeviceRuntime interface {
	// Name of the runtime, e.g.: "cuda".
	Name() string

	// MakeCurrent makes the runtime's context current for the calling thread.
	// It must be called, in the same locked OS thread, before the other calls.
	MakeCurrent() error

	// LoadModule loads a binary device module image.
	LoadModule(image []byte) (Module, error)

	// Alloc allocates the given number of bytes in the device.
	Alloc(bytes uintptr) (DevicePtr, error)

	// Free releases memory allocated with Alloc.
	Free(ptr DevicePtr) error

	// CopyToDevice copies src from the host to the device memory at dst.
	CopyToDevice(dst DevicePtr, src []float32) error

	// CopyToHost copies len(dst) elements from the device memory at src to dst.
	CopyToHost(dst []float32, src DevicePtr) error

	// Launch the kernel fn with the given grid and block sizes, and waits for it to finish.
	Launch(fn Function, grid, block Dim3, args ...KernelArg) error
}
