// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !cgo || !(linux || darwin)

package llvm

import (
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/pkg/errors"
)

// loadKernel always fails in this build: native kernels can only be called through cgo.
func loadKernel(_ *dynlib.Library, entryPoint string) (backends.Kernel, error) {
	return nil, errors.Wrapf(dynlib.ErrUnsupported, "loading kernel @%s", entryPoint)
}
