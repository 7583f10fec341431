// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, and not very fast, but very portable kernel compiler.
//
// It doesn't generate code: it recognizes templates based on LLVM's matrix intrinsics (like the
// default one in package jit/templates), extracts the shape of the llvm.matrix.multiply call
// and returns a pure Go kernel for that shape. It's useful on hosts without an LLVM toolchain,
// and as a reference for the other compilers.
package simplego

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in LLMATMUL_BACKEND to specify this compiler.
const BackendName = "go"

// Registers New() as the constructor for the "go" compiler.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Compiler.
// There are no configurations, the string is simply ignored.
func New(_ string) (backends.Compiler, error) {
	return &Compiler{}, nil
}

// Compiler implements the backends.Compiler interface.
type Compiler struct{}

// Compile-time check that simplego.Compiler implements backends.Compiler.
var _ backends.Compiler = &Compiler{}

// Name returns the short name of the compiler.
func (c *Compiler) Name() string { return BackendName }

// Description is a longer description of the Compiler that can be used to pretty-print.
func (c *Compiler) Description() string {
	return "SimpleGo portable matmul kernels (go)"
}

var (
	reDefine   = regexp.MustCompile(`define\s+[^@]*@"?([\w.$]+)"?\s*\(`)
	reMultiply = regexp.MustCompile(
		`call\s+<\d+\s+x\s+float>\s+@llvm\.matrix\.multiply\.[\w.]+\([^)]*?i32\s+(\d+)\s*,\s*i32\s+(\d+)\s*,\s*i32\s+(\d+)\s*\)`)
)

// Compile implements backends.Compiler.
//
// It only checks the IR text superficially: the functions defined, and the dimensions of the
// first llvm.matrix.multiply call.
func (c *Compiler) Compile(ir, entryPoint string) (backends.Kernel, backends.Context, error) {
	var defined []string
	for _, match := range reDefine.FindAllStringSubmatch(ir, -1) {
		defined = append(defined, match[1])
	}
	if len(defined) == 0 {
		return nil, nil, backends.NewCompilationError(BackendName, backends.StageParse,
			"no function definition found in IR", nil)
	}
	match := reMultiply.FindStringSubmatch(ir)
	if match == nil {
		return nil, nil, backends.NewCompilationError(BackendName, backends.StageParse,
			"no call to @llvm.matrix.multiply with constant dimensions found: the go compiler only supports "+
				"templates based on LLVM matrix intrinsics", nil)
	}
	if !slices.Contains(defined, entryPoint) {
		return nil, nil, backends.NewCompilationError(BackendName, backends.StageEntryPoint,
			fmt.Sprintf("functions defined: %q", defined),
			errors.Errorf("entry point @%s not found", entryPoint))
	}

	// llvm.matrix.multiply(A, B, i32 <rows of A>, i32 <inner>, i32 <cols of B>)
	var dims [3]int
	for ii := range dims {
		value, err := strconv.Atoi(match[ii+1])
		if err != nil || value <= 0 {
			return nil, nil, backends.NewCompilationError(BackendName, backends.StageParse,
				match[0], errors.Errorf("invalid matrix dimension %q", match[ii+1]))
		}
		dims[ii] = value
	}
	shape := shapes.MatMul{M: dims[0], N: dims[2], K: dims[1]}
	klog.V(1).Infof("simplego: compiled @%s for %s", entryPoint, shape)
	return kernelFor(shape), &context{shape: shape, entryPoint: entryPoint}, nil
}

// context implements backends.Context: there are no resources held by pure Go kernels.
type context struct {
	shape      shapes.MatMul
	entryPoint string
}

func (c *context) Release() error { return nil }

func (c *context) Description() string {
	return fmt.Sprintf("go kernel @%s for %s", c.entryPoint, c.shape)
}

func (c *context) Footprint() uintptr { return 0 }
