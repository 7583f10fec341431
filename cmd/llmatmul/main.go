// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// llmatmul multiplies a few matrices with the JIT compiled kernels, and compares the results
// with a naive reference implementation.
//
// The kernel compiler is selected with LLMATMUL_BACKEND (e.g.: "llvm:host", "llvm:portable" or "go").
//
// Examples:
//
//	$ llmatmul                  # Runs the 2x3·3x4 and 4x4 demos.
//	$ llmatmul -warmup=16       # Precompiles the square shapes up to 16x16x16 first.
//	$ llmatmul -size=64         # Compiles one large shape with the current template: slow with the default one.
//	$ llmatmul -gpu             # Also runs the demos on the GPU (requires a CUDA driver).
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/backends/cuda"
	_ "github.com/gomlx/llmatmul/backends/default"
	"github.com/gomlx/llmatmul/gpu"
	"github.com/gomlx/llmatmul/internal/reference"
	"github.com/gomlx/llmatmul/jit"
	"github.com/gomlx/llmatmul/jit/fixed"
	"github.com/gomlx/llmatmul/jit/kernelcache"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

var (
	flagWarmup = flag.Int("warmup", 0, "If > 0, precompiles all square shapes from 1x1x1 up to the given size before running.")
	flagSize   = flag.Int("size", 0, "If > 0, compiles and runs a size×size×size multiplication with the current template, "+
		"bypassing the JIT ceiling. Large sizes with the default template take very long to compile.")
	flagFixed     = flag.Bool("fixed", true, "Use the fixed 4x4 kernel for 4x4 multiplications.")
	flagMaxVolume = flag.Int("max_volume", jit.DefaultMaxVolume, "Largest m·n·k compiled by the JIT, above it BLAS is used. 0 disables the limit.")
	flagGPU       = flag.Bool("gpu", false, "Also run the demos on the GPU.")
	flagDevice    = flag.Int("device", 0, "GPU device ordinal, used with -gpu.")
)

// demo is one multiplication to run.
type demo struct {
	name           string
	a, b           []float32
	aShape, bShape shapes.Matrix
}

func demos() []demo {
	return []demo{
		{name: "2x3·3x4",
			a: reference.Sequence(2, 3, 1, 1), aShape: shapes.Mat(2, 3),
			b: reference.Sequence(3, 4, 1, 1), bShape: shapes.Mat(3, 4)},
		{name: "4x4·4x4",
			a: reference.Sequence(4, 4, 1, 1), aShape: shapes.Mat(4, 4),
			b: reference.Sequence(4, 4, 16, -1), bShape: shapes.Mat(4, 4)},
		{name: "random 7x5·5x9",
			a: reference.RandomMatrix(7, 5, 1), aShape: shapes.Mat(7, 5),
			b: reference.RandomMatrix(5, 9, 2), bShape: shapes.Mat(5, 9)},
		{name: "random 48x48·48x48",
			a: reference.RandomMatrix(48, 48, 3), aShape: shapes.Mat(48, 48),
			b: reference.RandomMatrix(48, 48, 4), bShape: shapes.Mat(48, 48)},
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](run)
	if err != nil {
		klog.Errorf("Failed: %+v", err)
		os.Exit(1)
	}
}

func run() {
	compiler := backends.MustNew()
	fmt.Printf("Kernel compiler: %s\n", compiler.Description())

	var options []jit.Option
	options = append(options, jit.WithMaxVolume(*flagMaxVolume))
	if *flagFixed {
		options = append(options, jit.WithFixedKernels(fixed.Unrolled4x4))
	}
	cache := kernelcache.New(compiler)
	multiplier := jit.New(cache, options...)

	if *flagWarmup > 0 {
		must.M(warmup(cache, *flagWarmup))
	}
	if *flagSize > 0 {
		must.M(debugLarge(cache, *flagSize))
	}

	fmt.Println(titleStyle.Render("CPU"))
	table := newTable("Demo", "Shape", "Path", "Time", "Max diff", "Result")
	var failed int
	for _, d := range demos() {
		shape := must.M1(shapes.ForOperands(d.aShape, d.bShape))
		want := must.M1(reference.MatMul(d.a, d.aShape, d.b, d.bShape))
		start := time.Now()
		got, err := multiplier.Multiply(d.a, d.aShape, d.b, d.bShape)
		elapsed := time.Since(start)
		if !addResult(table, d.name, shape, multiplier.PathFor(shape).String(), elapsed, got, want, err) {
			failed++
		}
	}
	fmt.Println(table.Render())
	fmt.Printf("Cache: %s, %d kernels, %s held by compiled contexts\n",
		cache.Stats(), cache.Len(), humanize.Bytes(uint64(cache.Arena().Footprint())))

	if *flagGPU {
		failed += runGPU()
	}
	if failed > 0 {
		exceptions.Panicf("%d multiplications failed", failed)
	}
}

// addResult adds a row with the result of a multiplication, and returns whether it matched the reference.
func addResult(table *tableWithReds, name string, shape shapes.MatMul, path string, elapsed time.Duration,
	got, want []float32, err error) bool {
	shapeStr := fmt.Sprintf("m=%d n=%d k=%d", shape.M, shape.N, shape.K)
	if err != nil {
		klog.Errorf("%s: %+v", name, err)
		table.Row(true, name, shapeStr, path, "-", "-", "error")
		return false
	}
	diff, _ := reference.MaxAbsDiff(got, want)
	ok := reference.Compare(got, want, reference.RelativeEpsilon(shape.K, 255)) == nil
	result := "ok"
	if !ok {
		result = "mismatch"
	}
	table.Row(!ok, name, shapeStr, path, elapsed.String(), fmt.Sprintf("%.3g", diff), result)
	return ok
}

// warmup precompiles all square shapes up to maxSize, with a progress bar.
func warmup(cache *kernelcache.Cache, maxSize int) error {
	bar := progressbar.NewOptions(maxSize,
		progressbar.OptionSetDescription("Compiling kernels"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("kernels"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for size := 1; size <= maxSize; size++ {
		g.Go(func() error {
			_, err := cache.GetOrCompile(shapes.Make(size, size, size), nil)
			_ = bar.Add(1)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessage(err, "warming up kernel cache")
	}
	fmt.Printf("Compiled %s kernels in %s\n", humanize.Comma(int64(maxSize)), time.Since(start))
	return nil
}

// debugLarge compiles and runs a size×size×size multiplication, regardless of the JIT ceiling.
func debugLarge(cache *kernelcache.Cache, size int) error {
	tmpl := must.M1(templates.Resolve())
	shape := shapes.Make(size, size, size)
	if tmpl.IsDefault() && templates.IsLarge(shape) {
		fmt.Printf("Compiling %dx%dx%d with the default template, this may take a while...\n", size, size, size)
	}
	start := time.Now()
	kernel, err := cache.GetOrCompile(shape, tmpl)
	if err != nil {
		return err
	}
	fmt.Printf("Compiled %s in %s\n", kernel, time.Since(start))

	a := reference.RandomMatrix(size, size, 10)
	b := reference.RandomMatrix(size, size, 11)
	want := must.M1(reference.MatMul(a, shape.A(), b, shape.B()))
	multiplier := jit.New(cache, jit.WithMaxVolume(0), jit.WithTemplate(tmpl))
	got, err := multiplier.Multiply(a, shape.A(), b, shape.B())
	if err != nil {
		return err
	}
	return reference.Compare(got, want, reference.RelativeEpsilon(size, 255))
}

// runGPU runs the demos on the GPU and returns the number of failures.
func runGPU() int {
	rt, err := cuda.New(*flagDevice)
	if err != nil {
		klog.Errorf("GPU not available: %+v", err)
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			klog.Warningf("closing %s runtime: %+v", rt.Name(), err)
		}
	}()
	runner := must.M1(gpu.New(rt))
	defer func() {
		if err := runner.Close(); err != nil {
			klog.Warningf("closing GPU runner: %+v", err)
		}
	}()

	fmt.Println(titleStyle.Render("GPU"))
	table := newTable("Demo", "Shape", "Grid", "Time", "Max diff", "Result")
	var failed int
	for _, d := range demos() {
		shape := must.M1(shapes.ForOperands(d.aShape, d.bShape))
		want := must.M1(reference.MatMul(d.a, d.aShape, d.b, d.bShape))
		grid, _ := gpu.LaunchGrid(shape)
		start := time.Now()
		got, err := runner.Run(d.a, d.aShape, d.b, d.bShape)
		if !addResult(table, d.name, shape, grid.String(), time.Since(start), got, want, err) {
			failed++
		}
	}
	fmt.Println(table.Render())
	return failed
}
