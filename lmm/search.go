// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultMinH2  = 1e-5
	defaultMaxH2  = 1 - 1e-5
	defaultNGrid  = 10
	brentTol      = 1.48e-8
	brentMaxIter  = 500
	goldenSection = 0.3819660112501051
	brentZeps     = 1e-10
)

// SearchConfig controls FindH2. Zero values select the defaults:
// h2 in [1e-5, 1-1e-5] on a 10 interval grid.
type SearchConfig struct {
	MinH2 float64
	MaxH2 float64
	NGrid int
	REML  bool
}

func (cfg SearchConfig) withDefaults() SearchConfig {
	if cfg.MinH2 <= 0 {
		cfg.MinH2 = defaultMinH2
	}
	if cfg.MaxH2 <= 0 || cfg.MaxH2 >= 1 {
		cfg.MaxH2 = defaultMaxH2
	}
	if cfg.NGrid <= 0 {
		cfg.NGrid = defaultNGrid
	}
	return cfg
}

// SearchResult is the best h2 found and the fit there.
type SearchResult struct {
	H2          float64
	Fit         Fit
	Evaluations int
}

// FindH2 maximizes the null model likelihood over h2: it evaluates
// an evenly spaced grid, refines each local optimum (including one at
// either end of the grid) with Brent's method inside its neighboring
// grid points, and returns the best point evaluated overall.
//
// x is the unrotated design (covariates plus bias), xr and yr its and
// the phenotype's rotations. The search is deterministic.
func FindH2(s *Spectral, x mat.Matrix, xr, yr *Rotated, cfg SearchConfig, logger logrus.FieldLogger) (SearchResult, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return findH2(func(h2 float64) (Fit, error) {
		return nullFit(s, x, xr, yr, NewVarianceModelH2(s, h2), cfg.REML)
	}, cfg, logger)
}

// findH2 runs the search with an arbitrary null model evaluator. cfg
// must already have defaults applied.
func findH2(eval func(h2 float64) (Fit, error), cfg SearchConfig, logger logrus.FieldLogger) (SearchResult, error) {
	var (
		best    SearchResult
		found   bool
		failure error
	)
	best.Fit.LogLikelihood = math.Inf(-1)
	nLL := func(h2 float64) float64 {
		if failure != nil {
			return math.Inf(1)
		}
		best.Evaluations++
		fit, err := eval(h2)
		if errors.Is(err, ErrDegenerate) {
			failure = &DegenerateError{Stage: "h2 search", Index: -1, H2: h2}
			return math.Inf(1)
		} else if err != nil {
			failure = fmt.Errorf("h2 search at h2=%g: %w", h2, err)
			return math.Inf(1)
		}
		logger.WithFields(logrus.Fields{"h2": h2, "loglik": fit.LogLikelihood}).Debug("evaluated")
		if !found || fit.LogLikelihood > best.Fit.LogLikelihood {
			found = true
			best.H2 = h2
			best.Fit = fit
		}
		return -fit.LogLikelihood
	}
	minimize1D(nLL, cfg.MinH2, cfg.MaxH2, cfg.NGrid)
	if failure != nil {
		return SearchResult{}, failure
	}
	logger.WithFields(logrus.Fields{
		"h2":          best.H2,
		"loglik":      best.Fit.LogLikelihood,
		"evaluations": best.Evaluations,
	}).Info("found h2")
	return best, nil
}

// nullFit evaluates the covariates-only model at one variance model.
func nullFit(s *Spectral, x mat.Matrix, xr, yr *Rotated, k *VarianceModel, reml bool) (Fit, error) {
	yKy := NewBilinear(yr, k, yr, nil)
	xKx := NewBilinear(xr, k, xr, nil)
	xKy := NewBilinear(xr, k, yr, xKx.AK)
	if reml {
		return RestrictedLikelihood(x, yKy, xKx, xKy)
	}
	return MaximumLikelihood(yKy, xKx, xKy)
}

// minimize1D evaluates f at nGrid+1 evenly spaced points on
// [lo, hi], then runs a bracketed Brent search around every interior
// grid point that is lower than both neighbors. If an end point is
// lower than its only neighbor, the interval between them is searched
// too.
func minimize1D(f func(float64) float64, lo, hi float64, nGrid int) {
	xs := make([]float64, nGrid+1)
	fs := make([]float64, nGrid+1)
	step := (hi - lo) / float64(nGrid)
	for i := range xs {
		xs[i] = lo + float64(i)*step
		if i == nGrid {
			xs[i] = hi
		}
		fs[i] = f(xs[i])
	}
	if fs[0] < fs[1] {
		boundedBrent(f, xs[0], xs[1])
	}
	for i := 1; i < nGrid; i++ {
		if fs[i] < fs[i-1] && fs[i] < fs[i+1] {
			brent(f, xs[i-1], xs[i], xs[i+1], fs[i])
		}
	}
	if fs[nGrid] < fs[nGrid-1] {
		boundedBrent(f, xs[nGrid-1], xs[nGrid])
	}
}

// boundedBrent minimizes f inside (a, c) without a known interior
// low point, starting from the golden section point.
func boundedBrent(f func(float64) float64, a, c float64) (float64, float64) {
	b := a + goldenSection*(c-a)
	return brent(f, a, b, c, f(b))
}

// brent minimizes f inside (a, c) starting from b, where f(b) = fb
// is below f(a) and f(c).
func brent(f func(float64) float64, a, b, c, fb float64) (float64, float64) {
	if a > c {
		a, c = c, a
	}
	x, w, v := b, b, b
	fx, fw, fv := fb, fb, fb
	var d, e float64
	for iter := 0; iter < brentMaxIter; iter++ {
		xm := 0.5 * (a + c)
		tol1 := brentTol*math.Abs(x) + brentZeps
		tol2 := 2 * tol1
		if math.Abs(x-xm) <= tol2-0.5*(c-a) {
			break
		}
		golden := true
		if math.Abs(e) > tol1 {
			// parabolic step through x, w, v
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			etemp := e
			e = d
			if math.Abs(p) < math.Abs(0.5*q*etemp) && p > q*(a-x) && p < q*(c-x) {
				golden = false
				d = p / q
				if u := x + d; u-a < tol2 || c-u < tol2 {
					d = math.Copysign(tol1, xm-x)
				}
			}
		}
		if golden {
			if x >= xm {
				e = a - x
			} else {
				e = c - x
			}
			d = goldenSection * e
		}
		u := x + d
		if math.Abs(d) < tol1 {
			u = x + math.Copysign(tol1, d)
		}
		fu := f(u)
		if fu <= fx {
			if u >= x {
				a = x
			} else {
				c = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
		} else {
			if u < x {
				a = u
			} else {
				c = u
			}
			if fu <= fw || w == x {
				v, w = w, u
				fv, fw = fw, fu
			} else if fu <= fv || v == x || v == w {
				v, fv = u, fu
			}
		}
	}
	return x, fx
}
