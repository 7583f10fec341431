// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !cgo || !linux

package cuda

import (
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/pkg/errors"
)

// MaxKernelArgs is the maximum number of arguments accepted by Runtime.Launch.
const MaxKernelArgs = 16

// Runtime stub for builds without cgo or for platforms other than linux: it can't be created.
type Runtime struct{}

// Compile-time check that cuda.Runtime implements backends.DeviceRuntime.
var _ backends.DeviceRuntime = &Runtime{}

var errUnavailable = errors.Wrap(dynlib.ErrUnsupported, "CUDA only available on linux with cgo enabled")

// New always fails in this build.
func New(ordinal int) (*Runtime, error) {
	return nil, errors.WithMessagef(errUnavailable, "creating CUDA runtime for device #%d", ordinal)
}

func (r *Runtime) Name() string                                     { return RuntimeName }
func (r *Runtime) Ordinal() int                                     { return -1 }
func (r *Runtime) MakeCurrent() error                               { return errUnavailable }
func (r *Runtime) LoadModule([]byte) (backends.Module, error)       { return nil, errUnavailable }
func (r *Runtime) Alloc(uintptr) (backends.DevicePtr, error)        { return 0, errUnavailable }
func (r *Runtime) Free(backends.DevicePtr) error                    { return errUnavailable }
func (r *Runtime) CopyToDevice(backends.DevicePtr, []float32) error { return errUnavailable }
func (r *Runtime) CopyToHost([]float32, backends.DevicePtr) error   { return errUnavailable }
func (r *Runtime) Close() error                                     { return nil }
func (r *Runtime) Launch(backends.Function, backends.Dim3, backends.Dim3, ...backends.KernelArg) error {
	return errUnavailable
}
