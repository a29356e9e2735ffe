// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"context"
	"sync"
)

// throttle runs batch functions on at most Max goroutines and keeps
// the first error any of them returned.
type throttle struct {
	Max int

	wg        sync.WaitGroup
	slots     chan struct{}
	setupOnce sync.Once
	mtx       sync.Mutex
	err       error
}

// Go waits for a free slot, then calls f in a new goroutine. It
// returns false without calling f if ctx is done first or a previous
// call has failed; the reason is available from Err.
func (t *throttle) Go(ctx context.Context, f func() error) bool {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.slots = make(chan struct{}, t.Max)
	})
	if t.Err() != nil {
		return false
	}
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		t.Report(ctx.Err())
		return false
	}
	t.wg.Add(1)
	go func() {
		defer func() {
			<-t.slots
			t.wg.Done()
		}()
		t.Report(f())
	}()
	return true
}

// Report records err if it is the first non-nil error.
func (t *throttle) Report(err error) {
	if err == nil {
		return
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *throttle) Err() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

// Wait waits for all started functions to return, and returns the
// first error.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
