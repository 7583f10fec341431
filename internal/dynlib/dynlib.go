// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dynlib loads shared libraries at runtime (dlopen) and resolves their symbols (dlsym).
//
// It is the unsafe boundary used by the llvm compiler (to load the generated kernels) and by the
// cuda runtime (to load the driver without linking to it).
package dynlib

import (
	"unsafe"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned when the binary was built without cgo or for a platform without dlopen.
var ErrUnsupported = errors.New("dynamic libraries not supported in this build (it requires cgo on linux or darwin)")

// Library is a loaded shared library.
//
// Libraries holding kernels are never closed while a kernel may still be called: closing it unmaps the code.
type Library struct {
	path   string
	handle unsafe.Pointer
}

// Path of the library, as given to Open.
func (l *Library) Path() string { return l.path }
