// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"errors"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type likelihoodSuite struct{}

var _ = check.Suite(&likelihoodSuite{})

type likelihoodFixture struct {
	kernel   *mat.SymDense
	spectral *Spectral
	x        *mat.Dense
	y        *mat.Dense
}

func newLikelihoodFixture(seed uint64, n, nsnp, ncovar int) likelihoodFixture {
	rng := rand.New(rand.NewSource(seed))
	g := randomGenotypes(rng, n, nsnp, "snp")
	kernel := genotypeKernel(g)
	sp, err := Decompose(KernelMatrix{Samples: g.Samples, Val: kernel}, nil, quietLogger)
	if err != nil {
		panic(err)
	}
	covar := randomMatrix(rng, n, ncovar)
	y := randomMatrix(rng, n, 1)
	for i := 0; i < n; i++ {
		y.Set(i, 0, y.At(i, 0)+0.5*covar.At(i, 0)+2)
	}
	return likelihoodFixture{
		kernel:   kernel,
		spectral: sp,
		x:        withBias(&Covariates{Samples: g.Samples, Names: make([]string, ncovar), Val: covar}, n),
		y:        y,
	}
}

func (f likelihoodFixture) forms(k *VarianceModel) (yKy, xKx, xKy *Bilinear) {
	xr, yr := f.spectral.Rotate(f.x), f.spectral.Rotate(f.y)
	yKy = NewBilinear(yr, k, yr, nil)
	xKx = NewBilinear(xr, k, xr, nil)
	xKy = NewBilinear(xr, k, yr, xKx.AK)
	return
}

func (s *likelihoodSuite) TestMLMatchesDirect(c *check.C) {
	f := newLikelihoodFixture(1, 60, 80, 2)
	for _, h2 := range []float64{0.1, 0.5, 0.8} {
		k := NewVarianceModelH2(f.spectral, h2)
		fit, err := MaximumLikelihood(f.forms(k))
		c.Assert(err, check.IsNil)
		wantLL, wantBeta := referenceML(c, denseCovariance(f.kernel, k.Delta), f.x, f.y)
		c.Check(closeTo(fit.LogLikelihood, wantLL, 1e-9), check.Equals, true, check.Commentf("h2=%g: %g != %g", h2, fit.LogLikelihood, wantLL))
		c.Check(fit.Rank, check.Equals, 3)
		c.Check(fit.BetaVariance, check.HasLen, 3)
		for i := range wantBeta {
			c.Check(closeTo(fit.Beta[i], wantBeta[i], 1e-8), check.Equals, true, check.Commentf("beta[%d] %g != %g", i, fit.Beta[i], wantBeta[i]))
			c.Check(fit.BetaVariance[i] > 0, check.Equals, true)
		}
	}
}

func (s *likelihoodSuite) TestREMLMatchesDirect(c *check.C) {
	f := newLikelihoodFixture(2, 50, 70, 1)
	k := NewVarianceModelH2(f.spectral, 0.3)
	yKy, xKx, xKy := f.forms(k)
	fit, err := RestrictedLikelihood(f.x, yKy, xKx, xKy)
	c.Assert(err, check.IsNil)
	c.Check(fit.BetaVariance, check.IsNil)

	v := denseCovariance(f.kernel, k.Delta)
	var chol mat.Cholesky
	c.Assert(chol.Factorize(v), check.Equals, true)
	var vinvX mat.Dense
	c.Assert(chol.SolveTo(&vinvX, f.x), check.IsNil)
	xvx := mat.NewSymDense(2, nil)
	var xvxDense mat.Dense
	xvxDense.Mul(f.x.T(), &vinvX)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			xvx.SetSym(i, j, xvxDense.At(i, j))
		}
	}
	xx := mat.NewSymDense(2, nil)
	xx.SymOuterK(1, f.x.T())
	var cholXVX, cholXX mat.Cholesky
	c.Assert(cholXVX.Factorize(xvx), check.Equals, true)
	c.Assert(cholXX.Factorize(xx), check.Equals, true)

	_, beta := referenceML(c, v, f.x, f.y)
	resid := mat.NewDense(50, 1, nil)
	resid.Mul(f.x, mat.NewDense(2, 1, beta))
	resid.Sub(f.y, resid)
	var vinvR mat.Dense
	c.Assert(chol.SolveTo(&vinvR, resid), check.IsNil)
	r2 := mat.Dot(resid.ColView(0), vinvR.ColView(0))
	dof := 48.0
	sigma2 := r2 / dof
	want := -0.5 * (chol.LogDet() + cholXVX.LogDet() - cholXX.LogDet() + dof*(math.Log(2*math.Pi*sigma2)+1))
	c.Check(closeTo(fit.LogLikelihood, want, 1e-9), check.Equals, true, check.Commentf("%g != %g", fit.LogLikelihood, want))
}

// A duplicated covariate makes XᵀK⁻¹X singular. The ML fit must
// still be finite and equal to the fit without the duplicate.
func (s *likelihoodSuite) TestRankDeficientCovariates(c *check.C) {
	f := newLikelihoodFixture(3, 40, 50, 1)
	dup := mat.NewDense(40, 3, nil)
	for i := 0; i < 40; i++ {
		dup.Set(i, 0, f.x.At(i, 0))
		dup.Set(i, 1, f.x.At(i, 0))
		dup.Set(i, 2, 1)
	}
	g := likelihoodFixture{kernel: f.kernel, spectral: f.spectral, x: dup, y: f.y}
	k := NewVarianceModelH2(f.spectral, 0.4)

	want, err := MaximumLikelihood(f.forms(k))
	c.Assert(err, check.IsNil)
	got, err := MaximumLikelihood(g.forms(k))
	c.Assert(err, check.IsNil)
	c.Check(got.Rank, check.Equals, 2)
	c.Check(closeTo(got.LogLikelihood, want.LogLikelihood, 1e-9), check.Equals, true)
	c.Check(closeTo(got.Beta[0]+got.Beta[1], want.Beta[0], 1e-8), check.Equals, true)

	yKy, xKx, xKy := g.forms(k)
	reml, err := RestrictedLikelihood(dup, yKy, xKx, xKy)
	c.Assert(err, check.IsNil)
	c.Check(math.IsInf(reml.LogLikelihood, 0) || math.IsNaN(reml.LogLikelihood), check.Equals, false)
}

func (s *likelihoodSuite) TestDegenerate(c *check.C) {
	sp, err := NewSpectral([]float64{1}, mat.NewDense(1, 1, []float64{1}), sampleIDs(1))
	c.Assert(err, check.IsNil)
	k := NewVarianceModelLogDelta(sp, 0)
	one := &Bilinear{K: k, AKB: mat.NewDense(1, 1, []float64{1})}
	_, err = MaximumLikelihood(one, one, one)
	c.Check(errors.Is(err, ErrDegenerate), check.Equals, true)

	derr := &DegenerateError{Stage: "variant", Batch: 2, Index: 2001, Variant: "rs1", H2: 0.5}
	c.Check(errors.Is(derr, ErrDegenerate), check.Equals, true)
	c.Check(derr, check.ErrorMatches, `variant 2001 "rs1" in batch 2 .*`)
}

// With K = I the GLS coefficients reduce to ordinary least squares,
// which a Gaussian GLM fits independently.
func (s *likelihoodSuite) TestBetaMatchesGLM(c *check.C) {
	n := 80
	rng := rand.New(rand.NewSource(4))
	values := make([]float64, n)
	eye := mat.NewDense(n, n, nil)
	for i := range values {
		values[i] = 1
		eye.Set(i, i, 1)
	}
	sp, err := NewSpectral(values, eye, sampleIDs(n))
	c.Assert(err, check.IsNil)

	x1 := make([]statmodel.Dtype, n)
	ones := make([]statmodel.Dtype, n)
	y := make([]statmodel.Dtype, n)
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x1[i] = rng.NormFloat64()
		ones[i] = 1
		y[i] = 1.5*x1[i] - 0.25 + rng.NormFloat64()
		x.Set(i, 0, x1[i])
		x.Set(i, 1, 1)
	}
	f := likelihoodFixture{spectral: sp, x: x, y: mat.NewDense(n, 1, append([]float64(nil), y...))}
	fit, err := MaximumLikelihood(f.forms(NewVarianceModelH2(sp, 0.5)))
	c.Assert(err, check.IsNil)

	names := []string{"y", "x1", "icept"}
	dataset := statmodel.NewDataset([][]statmodel.Dtype{y, x1, ones}, names)
	model, err := glm.NewGLM(dataset, "y", names[1:], &glm.Config{
		Family:    glm.NewFamily(glm.GaussianFamily),
		FitMethod: "IRLS",
		Log:       log.New(io.Discard, "", 0),
	})
	c.Assert(err, check.IsNil)
	params := model.Fit().Params()
	c.Assert(params, check.HasLen, 2)
	for i := range params {
		c.Check(closeTo(fit.Beta[i], params[i], 1e-6), check.Equals, true, check.Commentf("beta[%d] %g != %g", i, fit.Beta[i], params[i]))
	}
}
