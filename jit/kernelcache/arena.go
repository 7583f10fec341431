// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernelcache

import (
	"sync"

	"github.com/gomlx/llmatmul/backends"
)

// Arena owns the contexts of the kernels in a Cache.
//
// Slots are append-only: a context adopted by the arena is never released, since a kernel handed to a
// caller may be called at any time for the life of the process. So the arena grows with every distinct
// shape compiled, and Len and Footprint expose how much.
type Arena struct {
	mu        sync.Mutex
	contexts  []backends.Context
	footprint uintptr
}

// Adopt takes ownership of ctx, and returns its slot index.
func (a *Arena) Adopt(ctx backends.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contexts = append(a.contexts, ctx)
	a.footprint += ctx.Footprint()
	return len(a.contexts) - 1
}

// Len returns the number of contexts owned.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.contexts)
}

// Footprint returns the sum of the footprints of the contexts owned, in bytes.
func (a *Arena) Footprint() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.footprint
}

// Context returns the context in the given slot.
func (a *Arena) Context(slot int) backends.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contexts[slot]
}
