//go:build !nollvm

package _default

import _ "github.com/gomlx/llmatmul/backends/llvm"
