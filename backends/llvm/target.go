// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package llvm

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// TargetPolicy selects the CPU the kernels are generated for.
type TargetPolicy int

const (
	// TargetHost tunes the kernels for the host CPU, using every feature detected.
	// The generated code may not run in other machines, which is fine since kernels are never persisted.
	TargetHost TargetPolicy = iota

	// TargetPortable generates code for a generic CPU of the host architecture.
	TargetPortable
)

// String implements fmt.Stringer.
func (p TargetPolicy) String() string {
	switch p {
	case TargetHost:
		return "host"
	case TargetPortable:
		return "portable"
	default:
		return "invalid"
	}
}

// Target is the resolved CPU and features passed to `opt` and `llc`.
type Target struct {
	Policy TargetPolicy

	// CPU given as -mcpu, empty for the generic one.
	CPU string

	// Features given as -mattr, e.g.: "+avx2", "+fma".
	Features []string
}

// ResolveTarget returns the Target for the policy, detecting the host CPU features if needed.
func ResolveTarget(policy TargetPolicy) *Target {
	t := &Target{Policy: policy}
	if policy == TargetHost {
		t.CPU = "native"
		t.Features = HostFeatures()
	}
	return t
}

// HostFeatures returns the LLVM target features relevant to matrix multiplication that the host supports.
func HostFeatures() []string {
	var features []string
	add := func(has bool, feature string) {
		if has {
			features = append(features, "+"+feature)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "neon")
		add(cpu.ARM64.HasSVE, "sve")
	}
	return features
}

// Flags returns the command line flags for `opt` and `llc`.
func (t *Target) Flags() []string {
	var flags []string
	if t.CPU != "" {
		flags = append(flags, "-mcpu="+t.CPU)
	}
	if len(t.Features) > 0 {
		flags = append(flags, "-mattr="+strings.Join(t.Features, ","))
	}
	return flags
}

// String implements fmt.Stringer.
func (t *Target) String() string {
	if t.Policy == TargetPortable {
		return "portable " + runtime.GOARCH
	}
	if len(t.Features) == 0 {
		return "host " + runtime.GOARCH
	}
	return "host " + runtime.GOARCH + " " + strings.Join(t.Features, ",")
}
