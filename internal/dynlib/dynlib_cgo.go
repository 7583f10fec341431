// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cgo && (linux || darwin)

package dynlib

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import (
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Supported is true if Open is supported in this build.
const Supported = true

// lastError returns the last dlerror() message, or "unknown error".
// It must be called in the same OS thread as the failed call.
func lastError() string {
	msg := C.dlerror()
	if msg == nil {
		return "unknown error"
	}
	return C.GoString(msg)
}

// Open loads the shared library at path, resolving all its symbols immediately.
func Open(path string) (*Library, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	// dlerror() is thread-local.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	handle := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, errors.Errorf("dlopen(%q) failed: %s", path, lastError())
	}
	klog.V(2).Infof("dlopen(%q)", path)
	return &Library{path: path, handle: handle}, nil
}

// Symbol returns the address of the symbol with the given name.
func (l *Library) Symbol(name string) (unsafe.Pointer, error) {
	if l.handle == nil {
		return nil, errors.Errorf("symbol %q requested from closed library %q", name, l.path)
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	_ = C.dlerror() // Clear previous errors.
	addr := C.dlsym(l.handle, cName)
	if addr == nil {
		return nil, errors.Errorf("dlsym(%q) in %q failed: %s", name, l.path, lastError())
	}
	return addr, nil
}

// Close unloads the library. Any symbol resolved from it becomes invalid.
func (l *Library) Close() error {
	if l.handle == nil {
		return nil
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if C.dlclose(l.handle) != 0 {
		return errors.Errorf("dlclose(%q) failed: %s", l.path, lastError())
	}
	l.handle = nil
	return nil
}
