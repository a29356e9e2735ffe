// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// eigenvalues of XᵀK⁻¹X (and XᵀX) at or below this are treated as
// zero, which makes rank deficient designs well defined.
const eigenvalueFloor = 1e-10

// Fit is the result of evaluating the likelihood at one h2.
type Fit struct {
	LogLikelihood float64
	Beta          []float64
	// BetaVariance is nil for REML fits.
	BetaVariance []float64
	Sigma2       float64
	// Rank is the number of retained eigenvalues of XᵀK⁻¹X.
	Rank int
}

// MaximumLikelihood evaluates the ML log likelihood of the model
// y ~ N(Xβ, σ²·(h2·K + (1-h2)·I)) given the bilinear forms yᵀK⁻¹y,
// XᵀK⁻¹X and XᵀK⁻¹y. It returns ErrDegenerate if the likelihood is not
// finite.
func MaximumLikelihood(yKy, xKx, xKy *Bilinear) (Fit, error) {
	k := yKy.K
	n := float64(k.SampleCount)
	gls, err := solveGLS(yKy, xKx, xKy)
	if err != nil {
		return Fit{}, err
	}
	sigma2 := gls.r2 / n
	nLL := 0.5 * (k.LogDet + n*(math.Log(2*math.Pi*sigma2)+1))
	if math.IsNaN(nLL) || math.IsInf(nLL, 0) {
		return Fit{}, ErrDegenerate
	}
	variance := make([]float64, len(gls.beta))
	for i := range variance {
		s := 0.0
		for j, ev := range gls.values {
			u := gls.vectors.At(i, j)
			s += u * u / ev
		}
		variance[i] = k.H2 * sigma2 * s
	}
	return Fit{
		LogLikelihood: -nLL,
		Beta:          gls.beta,
		BetaVariance:  variance,
		Sigma2:        sigma2,
		Rank:          len(gls.values),
	}, nil
}

// RestrictedLikelihood evaluates the REML log likelihood. x is the
// unrotated samples x covariates design matrix the forms were built
// from.
func RestrictedLikelihood(x mat.Matrix, yKy, xKx, xKy *Bilinear) (Fit, error) {
	k := yKy.K
	gls, err := solveGLS(yKy, xKx, xKy)
	if err != nil {
		return Fit{}, err
	}
	var xx mat.SymDense
	xx.SymOuterK(1, x.T())
	xxValues, _, err := eigenRetained(&xx)
	if err != nil {
		return Fit{}, err
	}
	logdetXX := sumLog(xxValues)
	logdetXKX := sumLog(gls.values)

	dof := float64(k.SampleCount - len(gls.values))
	sigma2 := gls.r2 / dof
	nLL := 0.5 * (k.LogDet + logdetXKX - logdetXX + dof*(math.Log(2*math.Pi*sigma2)+1))
	if math.IsNaN(nLL) || math.IsInf(nLL, 0) {
		return Fit{}, ErrDegenerate
	}
	return Fit{
		LogLikelihood: -nLL,
		Beta:          gls.beta,
		Sigma2:        sigma2,
		Rank:          len(gls.values),
	}, nil
}

type glsSolution struct {
	beta    []float64
	r2      float64
	values  []float64
	vectors *mat.Dense
}

// solveGLS finds β minimizing the K-weighted residual using the
// pseudo-inverse of XᵀK⁻¹X restricted to its retained eigenvalues.
func solveGLS(yKy, xKx, xKy *Bilinear) (glsSolution, error) {
	p, _ := xKx.AKB.Dims()
	sym := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			sym.SetSym(i, j, 0.5*(xKx.AKB.At(i, j)+xKx.AKB.At(j, i)))
		}
	}
	values, vectors, err := eigenRetained(sym)
	if err != nil {
		return glsSolution{}, err
	}
	// β = U·(Uᵀ·XᵀK⁻¹y / S)
	var uty mat.Dense
	uty.Mul(vectors.T(), xKy.AKB)
	for j, ev := range values {
		uty.Set(j, 0, uty.At(j, 0)/ev)
	}
	var beta mat.Dense
	beta.Mul(vectors, &uty)
	out := glsSolution{
		beta:    make([]float64, p),
		r2:      yKy.Scalar(),
		values:  values,
		vectors: vectors,
	}
	for i := range out.beta {
		out.beta[i] = beta.At(i, 0)
		out.r2 -= xKy.AKB.At(i, 0) * out.beta[i]
	}
	return out, nil
}

// eigenRetained returns the eigenvalues above eigenvalueFloor and
// their eigenvectors.
func eigenRetained(sym *mat.SymDense) ([]float64, *mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, nil, errors.New("eigendecomposition failed")
	}
	all := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	p := len(all)
	var keep []int
	for i, v := range all {
		if v > eigenvalueFloor {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil, ErrDegenerate
	}
	values := make([]float64, len(keep))
	kept := mat.NewDense(p, len(keep), nil)
	for j, i := range keep {
		values[j] = all[i]
		for r := 0; r < p; r++ {
			kept.Set(r, j, vectors.At(r, i))
		}
	}
	return values, kept, nil
}

func sumLog(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += math.Log(v)
	}
	return s
}
