// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrCompilation is wrapped by every compilation failure. Compilation failures are not retried
	// automatically, and nothing is cached for them.
	ErrCompilation = errors.New("kernel compilation failed")

	// ErrDevice is wrapped by every failure reported by a device runtime (driver).
	ErrDevice = errors.New("device error")
)

// Stage of a compilation where a failure happened.
type Stage int

const (
	// StageParse is the parsing and verification of the IR text.
	StageParse Stage = iota

	// StageTarget is the resolution of the compilation target for the host.
	StageTarget

	// StagePasses is the pass pipeline, that lowers the matrix intrinsics and optimizes the code.
	StagePasses

	// StageCodegen is the generation of machine code.
	StageCodegen

	// StageLink is the linking of the machine code into a loadable library.
	StageLink

	// StageLoad is the loading of the library into the process.
	StageLoad

	// StageEntryPoint is the resolution of the kernel function by name.
	StageEntryPoint
)

var stageNames = []string{"Parse", "Target", "Passes", "Codegen", "Link", "Load", "EntryPoint"}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// CompilationError describes a failed compilation, with the diagnostics reported by the compiler.
//
// It matches ErrCompilation with errors.Is.
type CompilationError struct {
	// Backend is the name of the compiler that failed.
	Backend string

	// Stage where the compilation failed.
	Stage Stage

	// Diagnostic is the message reported by the compiler (e.g. the stderr of the tool), if any.
	Diagnostic string

	// Err is the underlying error, if any.
	Err error
}

// NewCompilationError creates a CompilationError with a stack trace.
func NewCompilationError(backend string, stage Stage, diagnostic string, err error) error {
	return errors.WithStack(&CompilationError{
		Backend:    backend,
		Stage:      stage,
		Diagnostic: strings.TrimSpace(diagnostic),
		Err:        err,
	})
}

// Error implements error.
func (e *CompilationError) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s: %s stage of %q compiler", ErrCompilation, e.Stage, e.Backend)
	if e.Err != nil {
		_, _ = fmt.Fprintf(&sb, ": %v", e.Err)
	}
	if e.Diagnostic != "" {
		_, _ = fmt.Fprintf(&sb, "\ndiagnostic:\n%s", e.Diagnostic)
	}
	return sb.String()
}

// Is makes CompilationError match ErrCompilation.
func (e *CompilationError) Is(target error) bool {
	return target == ErrCompilation
}

// Unwrap returns the underlying error.
func (e *CompilationError) Unwrap() error {
	return e.Err
}

// DeviceError is a failure reported by a device runtime.
//
// It matches ErrDevice with errors.Is.
type DeviceError struct {
	// Op is the runtime operation that failed, e.g.: "cuMemAlloc".
	Op string

	// Code is the status code returned by the driver.
	Code int

	// Message is the description of Code given by the driver, if available.
	Message string
}

// NewDeviceError creates a DeviceError with a stack trace.
func NewDeviceError(op string, code int, message string) error {
	return errors.WithStack(&DeviceError{Op: op, Code: code, Message: message})
}

// Error implements error.
func (e *DeviceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s failed with code %d", ErrDevice, e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s failed with code %d (%s)", ErrDevice, e.Op, e.Code, e.Message)
}

// Is makes DeviceError match ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
