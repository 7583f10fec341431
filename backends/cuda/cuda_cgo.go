// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cgo && linux

package cuda

/*
#include <stdint.h>
#include <stddef.h>
#include <stdlib.h>

typedef int CUresult;
typedef int CUdevice;
typedef void* CUcontext;
typedef void* CUmodule;
typedef void* CUfunction;
typedef unsigned long long CUdeviceptr;

#define LL_MATMUL_MAX_KERNEL_ARGS 16

static CUresult call_cuInit(void* fn, unsigned int flags) {
	return ((CUresult (*)(unsigned int)) fn)(flags);
}

static CUresult call_cuDeviceGet(void* fn, CUdevice* device, int ordinal) {
	return ((CUresult (*)(CUdevice*, int)) fn)(device, ordinal);
}

static CUresult call_cuCtxCreate(void* fn, CUcontext* ctx, unsigned int flags, CUdevice device) {
	return ((CUresult (*)(CUcontext*, unsigned int, CUdevice)) fn)(ctx, flags, device);
}

static CUresult call_cuCtxSetCurrent(void* fn, CUcontext ctx) {
	return ((CUresult (*)(CUcontext)) fn)(ctx);
}

static CUresult call_cuCtxDestroy(void* fn, CUcontext ctx) {
	return ((CUresult (*)(CUcontext)) fn)(ctx);
}

static CUresult call_cuCtxSynchronize(void* fn) {
	return ((CUresult (*)(void)) fn)();
}

static CUresult call_cuModuleLoadData(void* fn, CUmodule* module, const void* image) {
	return ((CUresult (*)(CUmodule*, const void*)) fn)(module, image);
}

static CUresult call_cuModuleUnload(void* fn, CUmodule module) {
	return ((CUresult (*)(CUmodule)) fn)(module);
}

static CUresult call_cuModuleGetFunction(void* fn, CUfunction* function, CUmodule module, const char* name) {
	return ((CUresult (*)(CUfunction*, CUmodule, const char*)) fn)(function, module, name);
}

static CUresult call_cuMemAlloc(void* fn, CUdeviceptr* ptr, size_t bytes) {
	return ((CUresult (*)(CUdeviceptr*, size_t)) fn)(ptr, bytes);
}

static CUresult call_cuMemFree(void* fn, CUdeviceptr ptr) {
	return ((CUresult (*)(CUdeviceptr)) fn)(ptr);
}

static CUresult call_cuMemcpyHtoD(void* fn, CUdeviceptr dst, const void* src, size_t bytes) {
	return ((CUresult (*)(CUdeviceptr, const void*, size_t)) fn)(dst, src, bytes);
}

static CUresult call_cuMemcpyDtoH(void* fn, void* dst, CUdeviceptr src, size_t bytes) {
	return ((CUresult (*)(void*, CUdeviceptr, size_t)) fn)(dst, src, bytes);
}

// call_cuLaunchKernel passes to the kernel the address of each of the argument slots.
static CUresult call_cuLaunchKernel(void* fn, CUfunction function,
		unsigned int gridX, unsigned int gridY, unsigned int gridZ,
		unsigned int blockX, unsigned int blockY, unsigned int blockZ,
		uint64_t* slots, int numArgs) {
	void* params[LL_MATMUL_MAX_KERNEL_ARGS];
	if (numArgs > LL_MATMUL_MAX_KERNEL_ARGS) {
		return 1;  // CUDA_ERROR_INVALID_VALUE
	}
	for (int i = 0; i < numArgs; i++) {
		params[i] = &slots[i];
	}
	return ((CUresult (*)(CUfunction, unsigned int, unsigned int, unsigned int,
			unsigned int, unsigned int, unsigned int, unsigned int, void*, void**, void**)) fn)(
		function, gridX, gridY, gridZ, blockX, blockY, blockZ, 0, NULL, params, NULL);
}

static CUresult call_cuGetErrorString(void* fn, CUresult code, const char** message) {
	return ((CUresult (*)(CUresult, const char**)) fn)(code, message);
}
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxKernelArgs is the maximum number of arguments accepted by Runtime.Launch.
// It must match LL_MATMUL_MAX_KERNEL_ARGS.
const MaxKernelArgs = 16

// driverAPI holds the addresses of the driver functions used.
type driverAPI struct {
	cuInit, cuDeviceGet, cuCtxCreate, cuCtxSetCurrent, cuCtxDestroy, cuCtxSynchronize   unsafe.Pointer
	cuModuleLoadData, cuModuleUnload, cuModuleGetFunction                               unsafe.Pointer
	cuMemAlloc, cuMemFree, cuMemcpyHtoD, cuMemcpyDtoH, cuLaunchKernel, cuGetErrorString unsafe.Pointer
}

// Runtime implements backends.DeviceRuntime for one CUDA device.
type Runtime struct {
	lib     *dynlib.Library
	api     driverAPI
	ordinal int
	device  C.CUdevice
	ctx     C.CUcontext
}

// Compile-time check that cuda.Runtime implements backends.DeviceRuntime.
var _ backends.DeviceRuntime = &Runtime{}

// New loads the CUDA driver and creates a context on the device with the given ordinal.
// The context is left current in the calling OS thread.
func New(ordinal int) (*Runtime, error) {
	var lib *dynlib.Library
	var err error
	for _, name := range DriverLibraries {
		lib, err = dynlib.Open(name)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "CUDA driver not available (tried %q)", DriverLibraries)
	}
	r := &Runtime{lib: lib, ordinal: ordinal}
	symbols := []struct {
		name string
		ptr  *unsafe.Pointer
	}{
		{"cuInit", &r.api.cuInit},
		{"cuDeviceGet", &r.api.cuDeviceGet},
		{"cuCtxCreate_v2", &r.api.cuCtxCreate},
		{"cuCtxSetCurrent", &r.api.cuCtxSetCurrent},
		{"cuCtxDestroy_v2", &r.api.cuCtxDestroy},
		{"cuCtxSynchronize", &r.api.cuCtxSynchronize},
		{"cuModuleLoadData", &r.api.cuModuleLoadData},
		{"cuModuleUnload", &r.api.cuModuleUnload},
		{"cuModuleGetFunction", &r.api.cuModuleGetFunction},
		{"cuMemAlloc_v2", &r.api.cuMemAlloc},
		{"cuMemFree_v2", &r.api.cuMemFree},
		{"cuMemcpyHtoD_v2", &r.api.cuMemcpyHtoD},
		{"cuMemcpyDtoH_v2", &r.api.cuMemcpyDtoH},
		{"cuLaunchKernel", &r.api.cuLaunchKernel},
		{"cuGetErrorString", &r.api.cuGetErrorString},
	}
	for _, symbol := range symbols {
		if *symbol.ptr, err = lib.Symbol(symbol.name); err != nil {
			_ = lib.Close()
			return nil, errors.WithMessage(err, "CUDA driver is missing required functions")
		}
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err = r.check("cuInit", C.call_cuInit(r.api.cuInit, 0)); err != nil {
		_ = lib.Close()
		return nil, err
	}
	var device C.CUdevice
	if err = r.check("cuDeviceGet", C.call_cuDeviceGet(r.api.cuDeviceGet, &device, C.int(ordinal))); err != nil {
		_ = lib.Close()
		return nil, err
	}
	var ctx C.CUcontext
	if err = r.check("cuCtxCreate", C.call_cuCtxCreate(r.api.cuCtxCreate, &ctx, 0, device)); err != nil {
		_ = lib.Close()
		return nil, err
	}
	r.device, r.ctx = device, ctx
	klog.V(1).Infof("cuda: created context on device #%d from %q", ordinal, lib.Path())
	return r, nil
}

// check converts a driver status code to an error wrapping backends.ErrDevice.
func (r *Runtime) check(op string, code C.CUresult) error {
	if code == 0 {
		return nil
	}
	var message string
	var cMessage *C.char
	if r.api.cuGetErrorString != nil && C.call_cuGetErrorString(r.api.cuGetErrorString, code, &cMessage) == 0 && cMessage != nil {
		message = C.GoString(cMessage)
	}
	return backends.NewDeviceError(op, int(code), message)
}

// Name implements backends.DeviceRuntime.
func (r *Runtime) Name() string { return RuntimeName }

// Ordinal of the device used.
func (r *Runtime) Ordinal() int { return r.ordinal }

// MakeCurrent implements backends.DeviceRuntime.
func (r *Runtime) MakeCurrent() error {
	return r.check("cuCtxSetCurrent", C.call_cuCtxSetCurrent(r.api.cuCtxSetCurrent, r.ctx))
}

// module implements backends.Module.
type module struct {
	r      *Runtime
	handle C.CUmodule
}

// LoadModule implements backends.DeviceRuntime. PTX images don't need to be NUL terminated.
func (r *Runtime) LoadModule(image []byte) (backends.Module, error) {
	if len(image) == 0 {
		return nil, errors.New("cuda: empty module image")
	}
	cImage := C.CBytes(append(image[:len(image):len(image)], 0))
	defer C.free(cImage)
	var handle C.CUmodule
	if err := r.check("cuModuleLoadData", C.call_cuModuleLoadData(r.api.cuModuleLoadData, &handle, cImage)); err != nil {
		return nil, err
	}
	return &module{r: r, handle: handle}, nil
}

// Function implements backends.Module.
func (m *module) Function(name string) (backends.Function, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	var handle C.CUfunction
	if err := m.r.check("cuModuleGetFunction", C.call_cuModuleGetFunction(m.r.api.cuModuleGetFunction, &handle, m.handle, cName)); err != nil {
		return nil, errors.WithMessagef(err, "resolving kernel %q", name)
	}
	return &function{name: name, handle: unsafe.Pointer(handle)}, nil
}

// Unload implements backends.Module.
func (m *module) Unload() error {
	return m.r.check("cuModuleUnload", C.call_cuModuleUnload(m.r.api.cuModuleUnload, m.handle))
}

// Alloc implements backends.DeviceRuntime.
func (r *Runtime) Alloc(bytes uintptr) (backends.DevicePtr, error) {
	var ptr C.CUdeviceptr
	if err := r.check("cuMemAlloc", C.call_cuMemAlloc(r.api.cuMemAlloc, &ptr, C.size_t(bytes))); err != nil {
		return 0, err
	}
	return backends.DevicePtr(ptr), nil
}

// Free implements backends.DeviceRuntime.
func (r *Runtime) Free(ptr backends.DevicePtr) error {
	return r.check("cuMemFree", C.call_cuMemFree(r.api.cuMemFree, C.CUdeviceptr(ptr)))
}

// CopyToDevice implements backends.DeviceRuntime.
func (r *Runtime) CopyToDevice(dst backends.DevicePtr, src []float32) error {
	if len(src) == 0 {
		return nil
	}
	bytes := C.size_t(uintptr(len(src)) * shapes.DType.Memory())
	return r.check("cuMemcpyHtoD", C.call_cuMemcpyHtoD(r.api.cuMemcpyHtoD, C.CUdeviceptr(dst), unsafe.Pointer(&src[0]), bytes))
}

// CopyToHost implements backends.DeviceRuntime.
func (r *Runtime) CopyToHost(dst []float32, src backends.DevicePtr) error {
	if len(dst) == 0 {
		return nil
	}
	bytes := C.size_t(uintptr(len(dst)) * shapes.DType.Memory())
	return r.check("cuMemcpyDtoH", C.call_cuMemcpyDtoH(r.api.cuMemcpyDtoH, unsafe.Pointer(&dst[0]), C.CUdeviceptr(src), bytes))
}

// Launch implements backends.DeviceRuntime. It waits for the kernel to finish.
func (r *Runtime) Launch(fn backends.Function, grid, block backends.Dim3, args ...backends.KernelArg) error {
	f, ok := fn.(*function)
	if !ok {
		return errors.Errorf("cuda: can't launch %T, it was not resolved by a cuda module", fn)
	}
	if len(args) > MaxKernelArgs {
		return errors.Errorf("cuda: at most %d kernel arguments are supported, got %d", MaxKernelArgs, len(args))
	}
	slots := make([]C.uint64_t, max(len(args), 1))
	for ii, arg := range args {
		slots[ii] = C.uint64_t(arg)
	}
	code := C.call_cuLaunchKernel(r.api.cuLaunchKernel, C.CUfunction(f.handle),
		C.uint(grid.X), C.uint(grid.Y), C.uint(grid.Z),
		C.uint(block.X), C.uint(block.Y), C.uint(block.Z),
		&slots[0], C.int(len(args)))
	if err := r.check("cuLaunchKernel", code); err != nil {
		return errors.WithMessagef(err, "launching %s with grid %s and block %s", f, grid, block)
	}
	return r.check("cuCtxSynchronize", C.call_cuCtxSynchronize(r.api.cuCtxSynchronize))
}

// Close destroys the context. The driver library stays loaded.
func (r *Runtime) Close() error {
	return r.check("cuCtxDestroy", C.call_cuCtxDestroy(r.api.cuCtxDestroy, r.ctx))
}
