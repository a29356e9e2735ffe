// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// negativeEigenvalueTolerance is the most negative eigenvalue that is
// accepted silently as numerical noise.
const negativeEigenvalueTolerance = -0.1

// Spectral is the eigendecomposition of a samples x samples
// relatedness matrix. Vectors has one orthonormal column per value.
// A decomposition with fewer values than samples is low rank.
type Spectral struct {
	Values  []float64
	Vectors *mat.Dense
	Samples []SampleID
	LowRank bool
}

// NewSpectral checks dimensions and sample uniqueness and returns a
// decomposition. Vectors must be samples x len(values).
func NewSpectral(values []float64, vectors *mat.Dense, samples []SampleID) (*Spectral, error) {
	r, c := vectors.Dims()
	if r != len(samples) {
		return nil, fmt.Errorf("eigenvectors have %d rows, but there are %d samples", r, len(samples))
	}
	if c != len(values) {
		return nil, fmt.Errorf("eigenvectors have %d columns, but there are %d eigenvalues", c, len(values))
	}
	if c > r {
		return nil, fmt.Errorf("rank %d exceeds sample count %d", c, r)
	}
	seen := make(map[SampleID]bool, len(samples))
	for _, id := range samples {
		if seen[id] {
			return nil, fmt.Errorf("duplicate sample %q in spectral decomposition", id)
		}
		seen[id] = true
	}
	return &Spectral{
		Values:  values,
		Vectors: vectors,
		Samples: samples,
		LowRank: c < r,
	}, nil
}

// Rank returns the number of eigenvalues.
func (s *Spectral) Rank() int { return len(s.Values) }

// SampleCount returns the number of samples indexing the vectors.
func (s *Spectral) SampleCount() int { return len(s.Samples) }

// Take returns a decomposition whose vector rows follow the given
// sample order. Every sample of s must appear in order, and no
// others.
func (s *Spectral) Take(order []SampleID) (*Spectral, error) {
	if len(order) != len(s.Samples) {
		return nil, ErrSampleMismatch
	}
	row := make(map[SampleID]int, len(s.Samples))
	for i, id := range s.Samples {
		row[id] = i
	}
	rows := make([]int, len(order))
	for i, id := range order {
		r, ok := row[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrSampleMismatch, id)
		}
		rows[i] = r
	}
	return &Spectral{
		Values:  s.Values,
		Vectors: takeRows(s.Vectors, rows),
		Samples: append([]SampleID(nil), order...),
		LowRank: s.LowRank,
	}, nil
}

// Rotated is a design matrix projected onto the eigenbasis of one
// Spectral. Double holds the part of the matrix outside the spanned
// subspace and is only present for low rank decompositions. It is
// stored in sample space (samples x features), which has the same
// inner products as its coordinates in the orthogonal complement.
type Rotated struct {
	Rotated *mat.Dense
	Double  *mat.Dense
}

// Rotate projects the samples x features matrix x into the
// eigenbasis.
func (s *Spectral) Rotate(x mat.Matrix) *Rotated {
	n, f := x.Dims()
	if n != s.SampleCount() {
		panic(fmt.Sprintf("bug: rotating %d rows with a %d sample decomposition", n, s.SampleCount()))
	}
	rot := mat.NewDense(s.Rank(), f, nil)
	rot.Mul(s.Vectors.T(), x)
	out := &Rotated{Rotated: rot}
	if s.LowRank {
		var back mat.Dense
		back.Mul(s.Vectors, rot)
		dbl := mat.NewDense(n, f, nil)
		dbl.Sub(x, &back)
		out.Double = dbl
	}
	return out
}

// Features returns the number of rotated columns.
func (r *Rotated) Features() int {
	_, f := r.Rotated.Dims()
	return f
}

// KernelSource is something a Spectral can be computed from: either
// an explicit KernelMatrix or a GenotypeKernel.
type KernelSource interface {
	decompose(ks KernelStandardizer, logger logrus.FieldLogger) (*Spectral, error)
}

// KernelMatrix is an explicit samples x samples relatedness matrix.
type KernelMatrix struct {
	Samples []SampleID
	Val     *mat.SymDense
}

// GenotypeKernel is a relatedness matrix defined implicitly as
// G·Gᵀ for the standardized genotype matrix G. Decomposing it takes a
// thin SVD of G and never forms the samples x samples matrix.
type GenotypeKernel struct {
	Genotypes    *Genotypes
	Standardizer Standardizer
}

// Decompose computes the spectral decomposition of a kernel source.
// Eigenvalues below -0.1 are reported through logger but kept as
// they are.
func Decompose(src KernelSource, ks KernelStandardizer, logger logrus.FieldLogger) (*Spectral, error) {
	if ks == nil {
		ks = IdentityKernel{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return src.decompose(ks, logger)
}

func (km KernelMatrix) decompose(ks KernelStandardizer, logger logrus.FieldLogger) (*Spectral, error) {
	if km.Val == nil {
		return nil, errors.New("kernel matrix is nil")
	}
	n := km.Val.Symmetric()
	if n != len(km.Samples) {
		return nil, fmt.Errorf("kernel is %dx%d but there are %d samples", n, n, len(km.Samples))
	}
	k := mat.NewSymDense(n, nil)
	k.CopySym(km.Val)
	ks.standardizeKernel(k)

	logger.WithField("samples", n).Debug("about to eigh")
	var eig mat.EigenSym
	if !eig.Factorize(k, true) {
		return nil, errors.New("eigendecomposition of kernel failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	logger.Debug("done with eigh")
	warnNegative(values, logger)
	return NewSpectral(values, &vectors, append([]SampleID(nil), km.Samples...))
}

func (gk GenotypeKernel) decompose(ks KernelStandardizer, logger logrus.FieldLogger) (*Spectral, error) {
	if err := gk.Genotypes.check(); err != nil {
		return nil, err
	}
	std := gk.Standardizer
	if std == nil {
		std = Unit{}
	}
	n, f := gk.Genotypes.Val.Dims()
	if f == 0 {
		return nil, errors.New("genotype kernel has no variants")
	}
	g := gk.Genotypes.Columns(0, f)
	std.Standardize(g)
	ks.standardizeGenotypes(g)

	logger.WithFields(logrus.Fields{"samples": n, "variants": f}).Debug("about to svd")
	var svd mat.SVD
	if !svd.Factorize(g, mat.SVDThin) {
		return nil, errors.New("singular value decomposition of genotypes failed")
	}
	sv := svd.Values(nil)
	var u mat.Dense
	svd.UTo(&u)
	logger.Debug("done with svd")
	values := make([]float64, len(sv))
	for i, s := range sv {
		values[i] = s * s
	}
	warnNegative(sv, logger)
	return NewSpectral(values, &u, append([]SampleID(nil), gk.Genotypes.Samples...))
}

func warnNegative(values []float64, logger logrus.FieldLogger) {
	for _, v := range values {
		if v < negativeEigenvalueTolerance {
			logger.WithField("eigenvalue", v).Warn("kernel contains a negative eigenvalue")
			return
		}
	}
}
