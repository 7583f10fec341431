// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore(t *testing.T) {
	const capacity = 3
	s := NewSemaphore(capacity)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Acquire()
			defer s.Release()
			current := running.Add(1)
			for {
				prev := maxRunning.Load()
				if current <= prev || maxRunning.CompareAndSwap(prev, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, int(maxRunning.Load()), capacity)
	assert.Equal(t, 0, s.InUse())

	// nil Semaphore has no limits.
	var unlimited *Semaphore
	unlimited.Acquire()
	unlimited.Release()
	unlimited.Resize(2)
	assert.Equal(t, 0, unlimited.InUse())
}

func TestSemaphoreResize(t *testing.T) {
	s := NewSemaphore(1)
	s.Acquire()
	acquired := make(chan struct{})
	go func() {
		s.Acquire()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("second Acquire should block with capacity 1")
	case <-time.After(20 * time.Millisecond):
	}
	s.Resize(2)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Resize(2) should have unblocked the pending Acquire")
	}
	assert.Equal(t, 2, s.InUse())
}
