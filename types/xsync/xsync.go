// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// Semaphore that allows dynamic resizing.
//
// It uses a sync.Cond, to allow dynamic resizing, so it will be slower than a pure channel version
// of a semaphore, with a fixed capacity. This shouldn't matter for coarse resource control, like
// limiting the number of simultaneous kernel compilations.
//
// A nil *Semaphore is valid and has no limit.
type Semaphore struct {
	cond              sync.Cond
	capacity, current int
}

// NewSemaphore returns a Semaphore that allows at most capacity simultaneous acquisitions.
// If capacity <= 0, there is no limit on acquisitions.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{
		cond:     sync.Cond{L: &sync.Mutex{}},
		capacity: capacity,
	}
}

// Acquire resource observing current semaphore capacity.
// It must be matched by exactly one call to Semaphore.Release after the reservation is no longer needed.
func (s *Semaphore) Acquire() {
	if s == nil {
		return
	}
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for s.capacity > 0 && s.current >= s.capacity {
		s.cond.Wait()
	}
	s.current++
}

// Release resource previously allocated with Semaphore.Acquire.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.current--
	s.cond.Signal()
}

// InUse returns the number of current acquisitions.
func (s *Semaphore) InUse() int {
	if s == nil {
		return 0
	}
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	return s.current
}

// Resize number of available resources in the Semaphore.
//
// If newCapacity is larger than previous one, this may immediately allow pending Semaphore.Acquire to proceed.
// If newCapacity is smaller than previous one, it doesn't have any effect on current acquisitions.
func (s *Semaphore) Resize(newCapacity int) {
	if s == nil {
		return
	}
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.capacity = newCapacity
	s.cond.Broadcast()
}
