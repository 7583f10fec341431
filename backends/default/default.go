// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package _default includes the default kernel compilers, namely LLVM and the pure Go one.
//
// To use it simply include:
//
//	import _ "github.com/gomlx/llmatmul/backends/default"
//
// LLVM is registered first, so it is the default. If you add the tag `nollvm` it will not include llvm,
// useful if cgo is disabled or the LLVM tools are not installed.
// One can also select the Go compiler with LLMATMUL_BACKEND=go.
package _default

import (
	_ "github.com/gomlx/llmatmul/backends/simplego"
)
