// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestMax(c *check.C) {
	thr := throttle{Max: 3}
	var running, peak int32
	for i := 0; i < 20; i++ {
		ok := thr.Go(context.Background(), func() error {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
		c.Check(ok, check.Equals, true)
	}
	c.Check(thr.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true, check.Commentf("peak %d", peak))
	c.Check(peak >= 1, check.Equals, true)
}

func (s *throttleSuite) TestFirstError(c *check.C) {
	thr := throttle{}
	errA := errors.New("a")
	c.Check(thr.Go(context.Background(), func() error { return errA }), check.Equals, true)
	c.Check(thr.Wait(), check.Equals, errA)
	c.Check(thr.Go(context.Background(), func() error {
		c.Error("called after failure")
		return nil
	}), check.Equals, false)
	thr.Report(errors.New("b"))
	c.Check(thr.Err(), check.Equals, errA)
}

func (s *throttleSuite) TestCanceled(c *check.C) {
	thr := throttle{Max: 1}
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	c.Check(thr.Go(ctx, func() error { <-release; return nil }), check.Equals, true)
	cancel()
	c.Check(thr.Go(ctx, func() error {
		c.Error("called after cancel")
		return nil
	}), check.Equals, false)
	close(release)
	c.Check(thr.Wait(), check.Equals, context.Canceled)
}
