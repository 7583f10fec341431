// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gpu multiplies row-major float32 matrices on a GPU, using a precompiled device module.
//
// Unlike the CPU path, nothing is compiled per shape: the same kernel serves every shape, only the
// launch grid changes. The module is loaded once per kernel name, and the resolved functions are
// cached by (shape, kernel name).
//
// Device memory is allocated for each call and always released before returning, also on errors.
package gpu

import (
	_ "embed"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/fsutil"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultKernelName is the name of the kernel in the embedded module.
const DefaultKernelName = "ll_matmul_gpu"

// EnvModule is the environment variable with the path to a device module (PTX or fatbin) that overrides
// the embedded one. It must define a kernel with the same parameters: (A, B, C, M, N, K).
const EnvModule = "LL_MATMUL_GPU_MODULE"

// BlockSize is the width and height of the blocks of threads: each thread computes one element of C.
const BlockSize = 16

//go:embed kernels/matmul_for_gpu.ptx
var defaultModule []byte

// DefaultModule returns the embedded device module (PTX).
func DefaultModule() []byte { return defaultModule }

type entryKey struct {
	shape shapes.MatMul
	name  string
}

// Runner multiplies matrices using a backends.DeviceRuntime. It is safe for concurrent use.
type Runner struct {
	rt         backends.DeviceRuntime
	image      []byte
	kernelName string

	mu        sync.Mutex
	modules   map[string]backends.Module
	functions map[entryKey]backends.Function

	launches atomic.Uint64
}

// Option for New.
type Option func(r *Runner)

// WithModule sets the device module image, instead of the embedded one (or the one configured by EnvModule).
func WithModule(image []byte) Option {
	return func(r *Runner) {
		r.image = image
	}
}

// WithKernelName sets the name of the kernel in the module. The default is DefaultKernelName.
func WithKernelName(name string) Option {
	return func(r *Runner) {
		r.kernelName = name
	}
}

// New creates a Runner that uses rt.
//
// The device module is, in order of precedence: the one given by WithModule, the file pointed by EnvModule,
// or the embedded one.
func New(rt backends.DeviceRuntime, options ...Option) (*Runner, error) {
	r := &Runner{
		rt:         rt,
		kernelName: DefaultKernelName,
		modules:    make(map[string]backends.Module),
		functions:  make(map[entryKey]backends.Function),
	}
	for _, option := range options {
		option(r)
	}
	if r.image == nil {
		if path := os.Getenv(EnvModule); path != "" {
			image, err := fsutil.ReadConfigured(path, EnvModule)
			if err != nil {
				return nil, err
			}
			r.image = image
		} else {
			r.image = defaultModule
		}
	}
	return r, nil
}

// LaunchGrid returns the grid and block sizes for shape: blocks of BlockSize×BlockSize threads, and enough
// blocks to cover the m×n result. x is the column, y the row.
func LaunchGrid(shape shapes.MatMul) (grid, block backends.Dim3) {
	blocks := func(size int) uint32 {
		return uint32(max((size+BlockSize-1)/BlockSize, 1))
	}
	grid = backends.Dim3{X: blocks(shape.N), Y: blocks(shape.M), Z: 1}
	block = backends.Dim3{X: BlockSize, Y: BlockSize, Z: 1}
	return
}

// function returns the kernel function for shape, loading the module the first time.
func (r *Runner) function(shape shapes.MatMul) (backends.Function, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey{shape: shape, name: r.kernelName}
	if fn, found := r.functions[key]; found {
		return fn, nil
	}
	module, found := r.modules[r.kernelName]
	if !found {
		var err error
		module, err = r.rt.LoadModule(r.image)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading device module for kernel %q", r.kernelName)
		}
		r.modules[r.kernelName] = module
		klog.V(1).Infof("gpu: loaded %s module for kernel %q", r.rt.Name(), r.kernelName)
	}
	fn, err := module.Function(r.kernelName)
	if err != nil {
		return nil, err
	}
	r.functions[key] = fn
	return fn, nil
}

// Run multiplies the row-major matrices a and b on the device, and returns the row-major result.
//
// Invalid operands fail with shapes.ErrInvalidInput before any device work; driver failures wrap
// backends.ErrDevice.
func (r *Runner) Run(a []float32, aShape shapes.Matrix, b []float32, bShape shapes.Matrix) (c []float32, err error) {
	shape, err := shapes.ForOperands(aShape, bShape)
	if err != nil {
		return nil, err
	}
	if err = aShape.Check(a); err != nil {
		return nil, errors.WithMessage(err, "operand A")
	}
	if err = bShape.Check(b); err != nil {
		return nil, errors.WithMessage(err, "operand B")
	}

	// The device context is bound to the OS thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err = r.rt.MakeCurrent(); err != nil {
		return nil, err
	}
	fn, err := r.function(shape)
	if err != nil {
		return nil, err
	}

	var buffers [3]backends.DevicePtr
	defer func() {
		for _, ptr := range buffers {
			if ptr == 0 {
				continue
			}
			if freeErr := r.rt.Free(ptr); freeErr != nil {
				klog.Warningf("gpu: failed to free device buffer: %+v", freeErr)
				if err == nil {
					err = freeErr
					c = nil
				}
			}
		}
	}()
	for ii, matrix := range []shapes.Matrix{shape.A(), shape.B(), shape.C()} {
		if buffers[ii], err = r.rt.Alloc(matrix.Memory()); err != nil {
			return nil, errors.WithMessagef(err, "allocating %s on device", matrix)
		}
	}
	ptrA, ptrB, ptrC := buffers[0], buffers[1], buffers[2]
	if err = r.rt.CopyToDevice(ptrA, a); err != nil {
		return nil, err
	}
	if err = r.rt.CopyToDevice(ptrB, b); err != nil {
		return nil, err
	}

	grid, block := LaunchGrid(shape)
	err = r.rt.Launch(fn, grid, block,
		backends.PtrArg(ptrA), backends.PtrArg(ptrB), backends.PtrArg(ptrC),
		backends.Int32Arg(int32(shape.M)), backends.Int32Arg(int32(shape.N)), backends.Int32Arg(int32(shape.K)))
	if err != nil {
		return nil, errors.WithMessagef(err, "running %s on device", shape)
	}
	r.launches.Add(1)

	c = make([]float32, shape.M*shape.N)
	if err = r.rt.CopyToHost(c, ptrC); err != nil {
		return nil, err
	}
	return c, nil
}

// Launches returns the number of kernels launched successfully.
func (r *Runner) Launches() uint64 { return r.launches.Load() }

// Close unloads the modules loaded. The Runner must not be used afterward.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, module := range r.modules {
		if err := module.Unload(); err != nil && firstErr == nil {
			firstErr = errors.WithMessagef(err, "unloading module of kernel %q", name)
		}
	}
	clear(r.modules)
	clear(r.functions)
	return firstErr
}
