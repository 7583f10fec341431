// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the capability interfaces that matrix multiplication kernel compilers and
// device runtimes implement, and a registry of the available compilers.
//
// A Compiler takes an instantiated IR (see package jit/templates) and returns a Kernel: a function
// specialized for one shape, along with the Context that owns its code. The Context must outlive every
// call to the Kernel.
//
// The unsafe boundary code (cgo, dlopen, driver calls) lives only in the implementations (backends/llvm,
// backends/cuda), everything else in this library uses these interfaces.
//
// Usually one doesn't select a compiler explicitly: New() uses the environment variable LLMATMUL_BACKEND
// (see ConfigEnvVar), or the first registered compiler. To register the default compilers, include:
//
//	import _ "github.com/gomlx/llmatmul/backends/default"
package backends

import (
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Kernel is a compiled matrix multiplication for one fixed shape C(m×n) = A(m×k) × B(k×n).
//
// a, b and c are column-major, and they must have exactly m·k, k·n and m·n elements: the kernel
// doesn't check their lengths, since the shape is baked into its code. c is fully overwritten.
//
// Kernels are safe for concurrent use, as long as concurrent calls don't share c.
type Kernel interface {
	Call(a, b, c []float32)
}

// KernelFunc is an adapter to allow the use of ordinary Go functions as a Kernel.
type KernelFunc func(a, b, c []float32)

// Call implements Kernel.
func (f KernelFunc) Call(a, b, c []float32) { f(a, b, c) }

// Context owns the resources (generated code, loaded libraries, etc.) backing a Kernel.
type Context interface {
	// Release the resources of the context. After Release the associated Kernel must not be called.
	Release() error

	// Description of the context, used for logging.
	Description() string

	// Footprint is an estimate of the memory in bytes held by the context.
	Footprint() uintptr
}

// Compiler compiles instantiated IR text into a Kernel.
type Compiler interface {
	// Name returns the short name of the compiler. E.g.: "llvm".
	Name() string

	// Description is a longer description of the Compiler that can be used to pretty-print.
	Description() string

	// Compile the IR text, and return the kernel function named entryPoint.
	//
	// Failures return an error wrapping ErrCompilation, usually a *CompilationError with the diagnostics.
	// Compile doesn't bound the size of the generated code: it's up to the caller to not request
	// shapes too large for the IR given.
	Compile(ir, entryPoint string) (Kernel, Context, error)
}

// Constructor takes a config string (optionally empty) and returns a Compiler.
type Constructor func(config string) (Compiler, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register compiler with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the compiler constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered compilers, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default compiler configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default compiler configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered compiler (e.g.: "llvm") and
// "<backend_configuration>" is compiler specific (e.g.: for llvm, "host" or "portable").
const ConfigEnvVar = "LLMATMUL_BACKEND"

// New returns a new default Compiler.
//
// The default is:
//
// 1. The environment LLMATMUL_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered compiler is used with an empty configuration.
func New() (Compiler, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew is like New, but panics on errors.
func MustNew() Compiler {
	compiler, err := New()
	if err != nil {
		exceptions.Panicf("backends.MustNew(): %+v", err)
	}
	return compiler
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered compiler (e.g.: "llvm") and
// "<backend_configuration>" is compiler specific. If there is no ":" in config, it is taken as the
// name of the compiler if one is registered with that name, or otherwise as the configuration of the
// first registered compiler.
func NewWithConfig(config string) (Compiler, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no registered kernel compilers -- maybe import the default ones with import _ "github.com/gomlx/llmatmul/backends/default"?`)
	}
	name, compilerConfig := firstRegistered, config
	if idx := strings.Index(config, ":"); idx != -1 {
		name, compilerConfig = config[:idx], config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		name, compilerConfig = config, ""
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("can't find kernel compiler %q for configuration %q given, registered compilers: %q",
			name, config, List())
	}
	compiler, err := constructor(compilerConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating kernel compiler %q with configuration %q", name, compilerConfig)
	}
	return compiler, nil
}
