// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package llvm

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// llcTargetNames maps GOARCH to the name of the corresponding llc backend, as listed by `llc --version`.
var llcTargetNames = map[string]string{
	"amd64":   "x86-64",
	"386":     "x86",
	"arm64":   "aarch64",
	"riscv64": "riscv64",
	"ppc64le": "ppc64le",
	"s390x":   "systemz",
	"loong64": "loongarch64",
}

// checkTarget verifies, once, that llc can generate code for the host architecture.
func (c *Compiler) checkTarget() error {
	c.targetOnce.Do(func() {
		name, found := llcTargetNames[runtime.GOARCH]
		if !found {
			return
		}
		output, diagnostic, err := execToolWithDiagnostic(c.toolchain.Llc, "--version")
		if err != nil {
			c.targetErr = backends.NewCompilationError(BackendName, backends.StageTarget, diagnostic, err)
			return
		}
		for _, line := range strings.Split(string(output), "\n") {
			if fields := strings.Fields(line); len(fields) > 0 && fields[0] == name {
				return
			}
		}
		c.targetErr = backends.NewCompilationError(BackendName, backends.StageTarget, string(output),
			errors.Errorf("llc %q has no %q backend registered for the host architecture %s",
				c.toolchain.Llc, name, runtime.GOARCH))
	})
	return c.targetErr
}

// stage runs one external tool of the pipeline, and converts failures to a *backends.CompilationError.
func (c *Compiler) stage(stage backends.Stage, tool string, args ...string) error {
	_, diagnostic, err := execToolWithDiagnostic(tool, args...)
	if err != nil {
		return backends.NewCompilationError(BackendName, stage, diagnostic, err)
	}
	return nil
}

// Compile implements backends.Compiler. See the package documentation for the stages of the compilation.
func (c *Compiler) Compile(ir, entryPoint string) (backends.Kernel, backends.Context, error) {
	start := time.Now()
	workDir, err := os.MkdirTemp("", "llmatmul-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create temporary directory for kernel compilation")
	}
	defer func() {
		if c.config.Keep {
			klog.Infof("llvm: intermediate files of @%s kept in %q", entryPoint, workDir)
			return
		}
		// The shared library can be removed once loaded.
		if err := os.RemoveAll(workDir); err != nil {
			klog.Warningf("Failed to remove temporary directory %q used to compile kernel: %+v", workDir, err)
		}
	}()

	id := uuid.NewString()
	inputPath := filepath.Join(workDir, "input.ll")
	loweredPath := filepath.Join(workDir, "lowered.ll")
	objectPath := filepath.Join(workDir, "kernel.o")
	libraryPath := filepath.Join(workDir, "ll_matmul_"+id+".so")
	klog.V(2).Infof("llvm: compiling @%s in %q, IR:\n%s", entryPoint, workDir, ir)
	if err = os.WriteFile(inputPath, []byte(ir), 0o644); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to write IR to %q", inputPath)
	}

	// Parse.
	tc := c.toolchain
	compatFlags := tc.CompatFlags()
	args := append([]string{"-passes=verify", "-disable-output"}, compatFlags...)
	args = append(args, inputPath)
	if err = c.stage(backends.StageParse, tc.Opt, args...); err != nil {
		return nil, nil, err
	}

	// Target.
	if err = c.checkTarget(); err != nil {
		return nil, nil, err
	}
	targetFlags := c.target.Flags()

	// Passes.
	args = []string{"-S", "-passes=" + c.config.Passes}
	args = append(args, compatFlags...)
	args = append(args, passFlags...)
	args = append(args, targetFlags...)
	args = append(args, inputPath, "-o", loweredPath)
	if err = c.stage(backends.StagePasses, tc.Opt, args...); err != nil {
		return nil, nil, err
	}

	// Codegen.
	args = []string{"-O3", "-filetype=obj", "--relocation-model=pic"}
	args = append(args, compatFlags...)
	args = append(args, targetFlags...)
	args = append(args, loweredPath, "-o", objectPath)
	if err = c.stage(backends.StageCodegen, tc.Llc, args...); err != nil {
		return nil, nil, err
	}

	// Link.
	if err = c.stage(backends.StageLink, tc.Linker, "-shared", "-o", libraryPath, objectPath); err != nil {
		return nil, nil, err
	}
	var librarySize uintptr
	if info, statErr := os.Stat(libraryPath); statErr == nil {
		librarySize = uintptr(info.Size())
	}

	// Load.
	lib, err := dynlib.Open(libraryPath)
	if err != nil {
		return nil, nil, backends.NewCompilationError(BackendName, backends.StageLoad, "", err)
	}

	// EntryPoint.
	kernel, err := loadKernel(lib, entryPoint)
	if err != nil {
		if closeErr := lib.Close(); closeErr != nil {
			klog.Warningf("Failed to close kernel library %q: %+v", libraryPath, closeErr)
		}
		return nil, nil, backends.NewCompilationError(BackendName, backends.StageEntryPoint, "", err)
	}
	ctx := &kernelContext{
		lib:         lib,
		entryPoint:  entryPoint,
		librarySize: librarySize,
	}
	klog.V(1).Infof("llvm: compiled @%s in %s (%s library)", entryPoint, time.Since(start), humanize.Bytes(uint64(librarySize)))
	return kernel, ctx, nil
}

// kernelContext implements backends.Context: it owns the loaded library with the kernel's code.
type kernelContext struct {
	lib         *dynlib.Library
	entryPoint  string
	librarySize uintptr
}

// Release closes the library: the kernel must not be called afterward.
func (ctx *kernelContext) Release() error {
	return ctx.lib.Close()
}

// Description implements backends.Context.
func (ctx *kernelContext) Description() string {
	return fmt.Sprintf("llvm kernel @%s from %s", ctx.entryPoint, filepath.Base(ctx.lib.Path()))
}

// Footprint implements backends.Context. It's the size of the shared library.
func (ctx *kernelContext) Footprint() uintptr {
	return ctx.librarySize
}
