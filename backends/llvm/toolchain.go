// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package llvm

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/llmatmul/internal/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BinDirEnv is the environment variable with the directory of the LLVM tools, searched before $PATH.
const BinDirEnv = "LLVM_BIN_DIR"

// Toolchain holds the paths to the external tools used to compile kernels.
type Toolchain struct {
	// Opt is the LLVM optimizer, used to verify, lower and optimize the IR.
	Opt string

	// Llc is the LLVM static compiler, used to generate object files.
	Llc string

	// Linker is a C compiler driver ($CC, "cc" or "clang") used to link shared libraries.
	Linker string

	// Version of LLVM, as reported by `opt --version`.
	Version string

	// Major version of LLVM, or 0 if unknown.
	Major int
}

// MinMajorVersion is the oldest LLVM supported: the templates use opaque pointers (`ptr`).
const MinMajorVersion = 14

// ParseMajorVersion returns the major number of an LLVM version string like "14.0.6" or "18.1.0git".
func ParseMajorVersion(version string) (int, error) {
	majorStr, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	end := 0
	for end < len(majorStr) && majorStr[end] >= '0' && majorStr[end] <= '9' {
		end++
	}
	major, err := strconv.Atoi(majorStr[:end])
	if err != nil {
		return 0, errors.Errorf("can't parse LLVM version %q", version)
	}
	return major, nil
}

// CheckVersion returns an error if the LLVM version is known to be too old.
// Unknown versions are accepted.
func (tc *Toolchain) CheckVersion() error {
	if tc.Major != 0 && tc.Major < MinMajorVersion {
		return errors.Errorf("LLVM >= %d required, but %q is version %s", MinMajorVersion, tc.Opt, tc.Version)
	}
	return nil
}

// CompatFlags returns the flags needed by both opt and llc to accept the templates.
// LLVM 14 only parses opaque pointers when asked to, they are the default since LLVM 15.
func (tc *Toolchain) CompatFlags() []string {
	if tc.Major == 14 {
		return []string{"-opaque-pointers"}
	}
	return nil
}

var reVersion = regexp.MustCompile(`LLVM version (\S+)`)

// FindToolchain looks for the LLVM tools in binDir, then in $LLVM_BIN_DIR and finally in $PATH.
func FindToolchain(binDir string) (*Toolchain, error) {
	if binDir == "" {
		binDir = os.Getenv(BinDirEnv)
	}
	if binDir != "" {
		var err error
		binDir, err = fsutil.ReplaceTildeInDir(binDir)
		if err != nil {
			return nil, err
		}
	}
	tc := &Toolchain{}
	var err error
	if tc.Opt, err = findBinPath(binDir, "opt"); err != nil {
		return nil, err
	}
	if tc.Llc, err = findBinPath(binDir, "llc"); err != nil {
		return nil, err
	}
	linkers := []string{"cc", "clang"}
	if cc := os.Getenv("CC"); cc != "" {
		linkers = append([]string{cc}, linkers...)
	}
	for _, linker := range linkers {
		if tc.Linker, err = findBinPath(binDir, linker); err == nil {
			break
		}
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "no C compiler driver (tried %q) found to link kernels", linkers)
	}

	tc.Version = "(unknown version)"
	output, err := execTool(tc.Opt, "--version")
	if err == nil {
		if match := reVersion.FindSubmatch(output); match != nil {
			tc.Version = string(match[1])
			if major, err := ParseMajorVersion(tc.Version); err == nil {
				tc.Major = major
			}
		}
	}
	klog.V(1).Infof("llvm toolchain: opt=%q, llc=%q, linker=%q, version %s", tc.Opt, tc.Llc, tc.Linker, tc.Version)
	return tc, nil
}

// findBinPath returns the path to the binary name, looking first in binDir (if not empty).
func findBinPath(binDir, name string) (string, error) {
	if binDir != "" && !filepath.IsAbs(name) {
		candidate := filepath.Join(binDir, name)
		exists, err := fsutil.FileExists(candidate)
		if err != nil {
			return "", err
		}
		if exists {
			klog.V(2).Infof("using %s from %q", name, candidate)
			return candidate, nil
		}
	}
	binPath, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Wrapf(err, "cannot find `%s` binary (searched %s=%q and $PATH), needed to compile "+
			"matmul kernels -- please install LLVM (usually package llvm), set %s, or use the portable "+
			"compiler with LLMATMUL_BACKEND=go", name, BinDirEnv, binDir, BinDirEnv)
	}
	klog.V(2).Infof("using %s from %q", name, binPath)
	return binPath, nil
}

// execTool executes binPath with args, and returns its stdout.
// On failure, the error includes the captured stderr.
func execTool(binPath string, args ...string) (output []byte, err error) {
	var diagnostic string
	output, diagnostic, err = execToolWithDiagnostic(binPath, args...)
	if err != nil {
		err = errors.WithMessagef(err, "STDERR captured:\n%s\n", diagnostic)
	}
	return
}

// execToolWithDiagnostic executes binPath with args, and returns its stdout and stderr separately.
func execToolWithDiagnostic(binPath string, args ...string) (output []byte, diagnostic string, err error) {
	cmd := exec.Command(binPath, args...)
	if cmd.Err != nil {
		err = errors.Wrapf(cmd.Err, "cannot execute %q", cmd)
		return
	}
	klog.V(2).Infof("executing %s", cmd)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	err = cmd.Run()
	diagnostic = stderrBuf.String()
	if err != nil {
		err = errors.Wrapf(err, "failed executing %q", cmd)
		return
	}
	output = stdoutBuf.Bytes()
	return
}
