// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package llvm implements a kernel compiler that drives the LLVM command line tools.
//
// The instantiated IR goes through the following stages, each reported separately on failure
// (see backends.Stage):
//
//  1. Parse: `opt -passes=verify` checks the IR.
//  2. Target: the target CPU and features are resolved from the TargetPolicy.
//  3. Passes: `opt` lowers the matrix intrinsics and runs the optimization pipeline (DefaultPasses).
//  4. Codegen: `llc` generates a position independent object file.
//  5. Link: the C compiler driver (`cc`) links it into a shared library.
//  6. Load: the library is loaded with dlopen.
//  7. EntryPoint: the kernel function is resolved with dlsym.
//
// Lowering the matrix intrinsics expands them into code proportional to m·n·k: for large shapes
// with the naive template, `opt` may exhaust the memory of the machine. This package doesn't bound it.
//
// Loading kernels requires cgo. The configuration is a comma-separated list of options, given as
// LLMATMUL_BACKEND="llvm:<options>":
//
//   - "host" (default): tune for the host CPU (-mcpu=native and the features detected at runtime).
//   - "portable": generic CPU for the host architecture, no extra features.
//   - "keep": keep the temporary directory with the intermediate files (IR, object, library), for debugging.
//   - "bin=<dir>": directory with the LLVM tools. It defaults to $LLVM_BIN_DIR, and then to $PATH.
//   - "passes=<pipeline>": overrides DefaultPasses. Since pipelines have commas, it must be the last option.
package llvm

import (
	"strings"
	"sync"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/pkg/errors"
)

// BackendName to be used in LLMATMUL_BACKEND to specify this compiler.
const BackendName = "llvm"

// Registers New() as the constructor for the "llvm" compiler.
func init() {
	backends.Register(BackendName, New)
}

// DefaultPasses is the `opt` pass pipeline used by default.
//
// lower-matrix-intrinsics is required: the code generator can't handle the llvm.matrix.* intrinsics.
const DefaultPasses = "function(lower-matrix-intrinsics,instcombine,early-cse,loop-vectorize,slp-vectorizer," +
	"loop-unroll,gvn,instcombine),mergefunc"

// passFlags are given to `opt` along with the pass pipeline: they bound the work of loop unrolling and LICM.
var passFlags = []string{
	"-forget-scev-loop-unroll",
	"-licm-mssa-optimization-cap=1",
	"-licm-mssa-max-acc-promotion=10",
}

// Config of the llvm compiler.
type Config struct {
	// Target policy: TargetHost or TargetPortable.
	Target TargetPolicy

	// Keep the temporary directories of the compilations.
	Keep bool

	// BinDir is the directory with the LLVM tools. If empty $LLVM_BIN_DIR is used, and then $PATH.
	BinDir string

	// Passes is the `opt` pipeline. If empty DefaultPasses is used.
	Passes string
}

// ParseConfig parses the configuration string described in the package documentation.
func ParseConfig(config string) (Config, error) {
	var cfg Config
	for config != "" {
		var option string
		if strings.HasPrefix(config, "passes=") {
			option, config = config, ""
		} else {
			option, config, _ = strings.Cut(config, ",")
		}
		key, value, hasValue := strings.Cut(option, "=")
		switch {
		case key == "host" && !hasValue:
			cfg.Target = TargetHost
		case key == "portable" && !hasValue:
			cfg.Target = TargetPortable
		case key == "keep" && !hasValue:
			cfg.Keep = true
		case key == "bin" && hasValue:
			cfg.BinDir = value
		case key == "passes" && hasValue:
			cfg.Passes = value
		case key == "":
			// Empty option, e.g. trailing comma.
		default:
			return cfg, errors.Errorf("unknown llvm compiler option %q -- valid options are "+
				"host, portable, keep, bin=<dir> and passes=<pipeline>", option)
		}
	}
	return cfg, nil
}

// Compiler implements backends.Compiler using the LLVM tools.
// It is safe for concurrent use: each compilation works on its own temporary directory.
type Compiler struct {
	config    Config
	toolchain *Toolchain
	target    *Target

	targetOnce sync.Once
	targetErr  error
}

// Compile-time check that llvm.Compiler implements backends.Compiler.
var _ backends.Compiler = &Compiler{}

// New constructs a new llvm Compiler from a configuration string. See package documentation.
//
// It fails if the LLVM tools can't be found, or if dynamic libraries are not supported in this build.
func New(config string) (backends.Compiler, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig constructs a new llvm Compiler.
func NewWithConfig(cfg Config) (*Compiler, error) {
	if !dynlib.Supported {
		return nil, errors.Wrap(dynlib.ErrUnsupported, "llvm kernel compiler can't load kernels")
	}
	if cfg.Passes == "" {
		cfg.Passes = DefaultPasses
	}
	toolchain, err := FindToolchain(cfg.BinDir)
	if err != nil {
		return nil, err
	}
	if err = toolchain.CheckVersion(); err != nil {
		return nil, err
	}
	return &Compiler{
		config:    cfg,
		toolchain: toolchain,
		target:    ResolveTarget(cfg.Target),
	}, nil
}

// Name returns the short name of the compiler.
func (c *Compiler) Name() string { return BackendName }

// Description is a longer description of the Compiler that can be used to pretty-print.
func (c *Compiler) Description() string {
	return "LLVM " + c.toolchain.Version + " (" + c.target.String() + ")"
}

// Config returns the configuration of the compiler, with the defaults filled in.
func (c *Compiler) Config() Config { return c.config }

// Toolchain used by the compiler.
func (c *Compiler) Toolchain() *Toolchain { return c.toolchain }
