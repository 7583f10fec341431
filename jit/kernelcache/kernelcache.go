// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernelcache keeps the matrix multiplication kernels compiled for each shape, so they are compiled
// only once and shared by all callers.
//
// Lookups take a read lock. On a miss the kernel is compiled without holding any lock, so concurrent
// misses for the same shape may compile it more than once: the first one inserted wins, and is returned
// to every caller, while the others are discarded (their contexts released). So at most one kernel per
// shape survives, but it is not necessarily compiled at most once.
//
// Failed compilations are not cached: the next request for the same shape compiles it again.
package kernelcache

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/llmatmul/backends"
	"github.com/gomlx/llmatmul/jit/templates"
	"github.com/gomlx/llmatmul/types/shapes"
	"github.com/gomlx/llmatmul/types/xsync"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Kernel is a compiled kernel in the cache. It is immutable and safe for concurrent use.
type Kernel struct {
	shape       shapes.MatMul
	kernel      backends.Kernel
	slot        int
	description string
	compileTime time.Duration
}

// Shape the kernel was compiled for.
func (k *Kernel) Shape() shapes.MatMul { return k.shape }

// Slot of the kernel's context in the cache Arena.
func (k *Kernel) Slot() int { return k.slot }

// CompileTime is how long it took to compile the kernel.
func (k *Kernel) CompileTime() time.Duration { return k.compileTime }

// String implements fmt.Stringer.
func (k *Kernel) String() string { return k.description }

// Call the kernel with the column-major operands a (m×k) and b (k×n), storing the column-major
// result in c (m×n).
//
// It returns an error wrapping shapes.ErrInvalidInput if the buffers don't match the kernel's shape:
// the compiled code doesn't check them.
func (k *Kernel) Call(a, b, c []float32) error {
	if err := k.shape.A().Check(a); err != nil {
		return errors.WithMessagef(err, "operand A of %s", k)
	}
	if err := k.shape.B().Check(b); err != nil {
		return errors.WithMessagef(err, "operand B of %s", k)
	}
	if err := k.shape.C().Check(c); err != nil {
		return errors.WithMessagef(err, "result of %s", k)
	}
	k.kernel.Call(a, b, c)
	return nil
}

// Stats of a Cache.
type Stats struct {
	// Hits are lookups that found a kernel.
	Hits uint64

	// Misses are lookups that didn't find a kernel, and triggered a compilation.
	Misses uint64

	// Compilations that succeeded.
	Compilations uint64

	// Discarded compilations, because a concurrent compilation for the same shape was inserted first.
	Discarded uint64

	// Failures are compilations that failed.
	Failures uint64
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return fmt.Sprintf("hits=%d, misses=%d, compilations=%d, discarded=%d, failures=%d",
		s.Hits, s.Misses, s.Compilations, s.Discarded, s.Failures)
}

// Cache maps shapes to compiled kernels. Create it with New.
type Cache struct {
	compiler backends.Compiler
	compiles *xsync.Semaphore

	template        *templates.Template
	templateFromEnv bool

	mu      sync.RWMutex
	kernels map[shapes.MatMul]*Kernel
	arena   Arena

	hits, misses, compilations, discarded, failures atomic.Uint64
}

// Option for New.
type Option func(c *Cache)

// WithTemplate sets the template used when GetOrCompile is not given one.
// The default (or if tmpl is nil) is templates.Resolve(), which is configured by the environment,
// and is called on every compilation.
func WithTemplate(tmpl *templates.Template) Option {
	return func(c *Cache) {
		if tmpl == nil {
			c.template, c.templateFromEnv = nil, true
			return
		}
		c.template = tmpl
		c.templateFromEnv = false
	}
}

// WithMaxParallelCompilations bounds the number of simultaneous compilations: they can take a lot of memory.
// If n <= 0 there is no limit, the default.
func WithMaxParallelCompilations(n int) Option {
	return func(c *Cache) {
		if n <= 0 {
			c.compiles = nil
			return
		}
		c.compiles = xsync.NewSemaphore(n)
	}
}

// New creates an empty Cache that compiles kernels with compiler.
func New(compiler backends.Compiler, options ...Option) *Cache {
	c := &Cache{
		compiler:        compiler,
		kernels:         make(map[shapes.MatMul]*Kernel),
		templateFromEnv: true,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Compiler used by the cache.
func (c *Cache) Compiler() backends.Compiler { return c.compiler }

// Arena with the contexts of the kernels in the cache.
func (c *Cache) Arena() *Arena { return &c.arena }

// defaultTemplate returns the template configured for the cache.
// Templates configured by the environment are resolved again for each compilation, so a failure to read
// the template file only fails that compilation.
func (c *Cache) defaultTemplate() (*templates.Template, error) {
	if !c.templateFromEnv {
		return c.template, nil
	}
	return templates.Resolve()
}

// Get returns the kernel for shape, if it was already compiled. It doesn't change the Stats.
func (c *Cache) Get(shape shapes.MatMul) (*Kernel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, found := c.kernels[shape]
	return k, found
}

// GetOrCompile returns the kernel for shape, compiling it if needed.
//
// The template tmpl is only used if the kernel needs to be compiled: the cache is keyed by shape alone.
// If tmpl is nil, the cache's template is used (see WithTemplate).
//
// Errors (invalid shape, template errors or compilation errors) are returned as is, and nothing is
// cached for them.
func (c *Cache) GetOrCompile(shape shapes.MatMul, tmpl *templates.Template) (*Kernel, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if k, found := c.Get(shape); found {
		c.hits.Add(1)
		return k, nil
	}
	c.misses.Add(1)

	if tmpl == nil {
		var err error
		tmpl, err = c.defaultTemplate()
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
	}
	start := time.Now()
	kernel, ctx, err := c.compile(shape, tmpl)
	if err != nil {
		c.failures.Add(1)
		return nil, errors.WithMessagef(err, "compiling kernel for %s with %q", shape, c.compiler.Name())
	}
	elapsed := time.Since(start)
	c.compilations.Add(1)

	c.mu.Lock()
	if existing, found := c.kernels[shape]; found {
		c.mu.Unlock()
		c.discard(shape, ctx)
		return existing, nil
	}
	k := &Kernel{
		shape:       shape,
		kernel:      kernel,
		slot:        c.arena.Adopt(ctx),
		description: fmt.Sprintf("%s kernel for %s", c.compiler.Name(), shape),
		compileTime: elapsed,
	}
	c.kernels[shape] = k
	c.mu.Unlock()
	klog.V(1).Infof("kernelcache: compiled %s in %s with %s (arena: %d contexts, %s)",
		shape, elapsed, tmpl, c.arena.Len(), humanize.Bytes(uint64(c.arena.Footprint())))
	return k, nil
}

// compile instantiates the template and compiles it, observing the limit of parallel compilations.
func (c *Cache) compile(shape shapes.MatMul, tmpl *templates.Template) (backends.Kernel, backends.Context, error) {
	ir, err := tmpl.Instantiate(shape)
	if err != nil {
		return nil, nil, err
	}
	c.compiles.Acquire()
	defer c.compiles.Release()
	return c.compiler.Compile(ir, tmpl.EntryPoint)
}

// discard the context of a compilation that lost the race to insert its kernel.
// Its kernel was never handed to any caller, so it's safe to release it.
func (c *Cache) discard(shape shapes.MatMul, ctx backends.Context) {
	c.discarded.Add(1)
	klog.V(1).Infof("kernelcache: discarding redundant compilation of %s (%s)", shape, ctx.Description())
	if err := ctx.Release(); err != nil {
		klog.Warningf("kernelcache: failed to release discarded %s: %+v", ctx.Description(), err)
	}
}

// Warmup compiles the kernels for the given shapes in parallel, if they are not compiled yet.
// It returns the first error, after all compilations finish.
func (c *Cache) Warmup(matmuls ...shapes.MatMul) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, shape := range matmuls {
		g.Go(func() error {
			_, err := c.GetOrCompile(shape, nil)
			return err
		})
	}
	return g.Wait()
}

// Len returns the number of kernels in the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kernels)
}

// Shapes returns the shapes of the kernels in the cache, sorted.
func (c *Cache) Shapes() []shapes.MatMul {
	c.mu.RLock()
	keys := make([]shapes.MatMul, 0, len(c.kernels))
	for shape := range c.kernels {
		keys = append(keys, shape)
	}
	c.mu.RUnlock()
	slices.SortFunc(keys, func(a, b shapes.MatMul) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return keys
}

// Stats returns a snapshot of the statistics of the cache.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Compilations: c.compilations.Load(),
		Discarded:    c.discarded.Load(),
		Failures:     c.failures.Load(),
	}
}
