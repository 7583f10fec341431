// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package llvm

import (
	"testing"

	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/internal/dynlib"
	"github.com/gomlx/llmatmul/internal/reference"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/layout"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
	assert.Equal(t, TargetHost, cfg.Target)

	cfg, err = ParseConfig("portable,keep,bin=/usr/lib/llvm-18/bin")
	require.NoError(t, err)
	assert.Equal(t, Config{Target: TargetPortable, Keep: true, BinDir: "/usr/lib/llvm-18/bin"}, cfg)

	cfg, err = ParseConfig("host,passes=function(lower-matrix-intrinsics,instcombine),mergefunc")
	require.NoError(t, err)
	assert.Equal(t, TargetHost, cfg.Target)
	assert.Equal(t, "function(lower-matrix-intrinsics,instcombine),mergefunc", cfg.Passes)

	_, err = ParseConfig("fast")
	require.ErrorContains(t, err, "unknown llvm compiler option")
	_, err = ParseConfig("bin")
	require.Error(t, err)
}

func TestTarget(t *testing.T) {
	portable := ResolveTarget(TargetPortable)
	assert.Empty(t, portable.Flags())
	assert.Contains(t, portable.String(), "portable")

	host := ResolveTarget(TargetHost)
	flags := host.Flags()
	require.NotEmpty(t, flags)
	assert.Equal(t, "-mcpu=native", flags[0])
	for _, feature := range host.Features {
		assert.Equal(t, byte('+'), feature[0])
	}
	assert.Equal(t, "portable", TargetPortable.String())
}

func TestToolchainVersion(t *testing.T) {
	for version, want := range map[string]int{"14.0.6": 14, "18.1.8": 18, "17.0.0git": 17, "15": 15} {
		major, err := ParseMajorVersion(version)
		require.NoError(t, err, "version %q", version)
		assert.Equal(t, want, major, "version %q", version)
	}
	_, err := ParseMajorVersion("(unknown version)")
	require.Error(t, err)

	tc := &Toolchain{Opt: "opt", Version: "14.0.6", Major: 14}
	require.NoError(t, tc.CheckVersion())
	assert.Equal(t, []string{"-opaque-pointers"}, tc.CompatFlags())

	tc = &Toolchain{Opt: "opt", Version: "18.1.8", Major: 18}
	require.NoError(t, tc.CheckVersion())
	assert.Empty(t, tc.CompatFlags())

	tc = &Toolchain{Opt: "opt", Version: "13.0.1", Major: 13}
	require.ErrorContains(t, tc.CheckVersion(), "LLVM >= 14 required")

	// Unknown versions are given a chance.
	tc = &Toolchain{Opt: "opt", Version: "(unknown version)"}
	require.NoError(t, tc.CheckVersion())
	assert.Empty(t, tc.CompatFlags())
}

// newTestCompiler returns a compiler, or skips the test if the LLVM toolchain is not available.
func newTestCompiler(t *testing.T, config string) *Compiler {
	if !dynlib.Supported {
		t.Skip("llvm compiler requires cgo")
	}
	compiler, err := New(config)
	if err != nil {
		t.Skipf("LLVM toolchain not available: %v", err)
	}
	return compiler.(*Compiler)
}

func TestCompile(t *testing.T) {
	for _, config := range []string{"host", "portable"} {
		compiler := newTestCompiler(t, config)
		tmpl := templates.Default()
		for _, shape := range []shapes.MatMul{shapes.Make(2, 4, 3), shapes.Make(4, 4, 4), shapes.Make(1, 7, 5)} {
			ir := must.M1(tmpl.Instantiate(shape))
			kernel, ctx, err := compiler.Compile(ir, tmpl.EntryPoint)
			require.NoError(t, err, "compiling %s with %q", shape, config)
			assert.Greater(t, ctx.Footprint(), uintptr(0))

			a := reference.RandomMatrix(shape.M, shape.K, 7)
			b := reference.RandomMatrix(shape.K, shape.N, 11)
			want := must.M1(reference.MatMul(a, shape.A(), b, shape.B()))
			c := make([]float32, shape.M*shape.N)
			kernel.Call(must.M1(layout.RowToColMajor(a, shape.M, shape.K)),
				must.M1(layout.RowToColMajor(b, shape.K, shape.N)), c)
			got := must.M1(layout.ColToRowMajor(c, shape.M, shape.N))
			require.NoError(t, reference.Compare(got, want, reference.RelativeEpsilon(shape.K, 255)))
			// Released only in tests: in the cache contexts are never released after a kernel is used.
			require.NoError(t, ctx.Release())
		}
	}
}

func requireStage(t *testing.T, err error, stage backends.Stage) {
	require.ErrorIs(t, err, backends.ErrCompilation)
	var compErr *backends.CompilationError
	require.True(t, errors.As(err, &compErr), "error is not a *CompilationError: %+v", err)
	require.Equal(t, stage, compErr.Stage, "got error %+v", err)
}

func TestCompileErrors(t *testing.T) {
	compiler := newTestCompiler(t, "")
	ir := must.M1(templates.Default().Instantiate(shapes.Make(2, 2, 2)))

	_, _, err := compiler.Compile("define void @broken( {", templates.DefaultEntryPoint)
	requireStage(t, err, backends.StageParse)

	_, _, err = compiler.Compile(ir, "not_the_entry_point")
	requireStage(t, err, backends.StageEntryPoint)

	badPasses := newTestCompiler(t, "passes=no-such-pass-for-sure")
	_, _, err = badPasses.Compile(ir, templates.DefaultEntryPoint)
	requireStage(t, err, backends.StagePasses)
	var compErr *backends.CompilationError
	require.True(t, errors.As(err, &compErr))
	assert.NotEmpty(t, compErr.Diagnostic)
}
