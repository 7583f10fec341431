// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !cgo || !(linux || darwin)

package dynlib

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Supported is true if Open is supported in this build.
const Supported = false

// Open always fails with ErrUnsupported in this build.
func Open(path string) (*Library, error) {
	return nil, errors.Wrapf(ErrUnsupported, "dlopen(%q)", path)
}

// Symbol always fails with ErrUnsupported in this build.
func (l *Library) Symbol(name string) (unsafe.Pointer, error) {
	return nil, errors.Wrapf(ErrUnsupported, "dlsym(%q)", name)
}

// Close is a no-op in this build.
func (l *Library) Close() error { return nil }
