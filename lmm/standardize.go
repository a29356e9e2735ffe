// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Standardizer rescales each column of a samples x variants matrix
// in place. Missing values (NaN) become 0 after standardizing.
type Standardizer interface {
	Standardize(m *mat.Dense)
	String() string
}

// Unit standardizes each column to zero mean and unit (population)
// variance. Constant columns become all zero.
type Unit struct{}

func (Unit) String() string { return "unit" }

func (Unit) Standardize(m *mat.Dense) {
	r, c := m.Dims()
	col := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		col = presentValues(col[:0], m, j)
		mean, std := popMeanStdDev(col)
		scaleColumn(m, j, mean, std)
	}
}

// Beta weights each centered column by the beta density of its minor
// allele frequency, emphasizing rare variants. Values are expected
// to be allele counts (0, 1, 2).
type Beta struct {
	A float64
	B float64
}

func (b Beta) String() string { return fmt.Sprintf("beta(%g,%g)", b.A, b.B) }

func (b Beta) Standardize(m *mat.Dense) {
	dist := distuv.Beta{Alpha: b.A, Beta: b.B}
	r, c := m.Dims()
	col := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		col = presentValues(col[:0], m, j)
		mean := 0.0
		if len(col) > 0 {
			mean = stat.Mean(col, nil)
		}
		maf := mean / 2
		if maf > 0.5 {
			maf = 1 - maf
		}
		scaleColumn(m, j, mean, 1/dist.Prob(maf))
	}
}

// ParseStandardizer returns the standardizer named "unit" or "beta".
func ParseStandardizer(name string, a, b float64) (Standardizer, error) {
	switch name {
	case "", "unit":
		return Unit{}, nil
	case "beta":
		return Beta{A: a, B: b}, nil
	default:
		return nil, fmt.Errorf("unknown standardizer %q", name)
	}
}

func presentValues(dst []float64, m *mat.Dense, j int) []float64 {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if v := m.At(i, j); !math.IsNaN(v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func popMeanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	mean, variance := stat.MeanVariance(x, nil)
	n := float64(len(x))
	return mean, math.Sqrt(variance * (n - 1) / n)
}

func scaleColumn(m *mat.Dense, j int, mean, std float64) {
	r, _ := m.Dims()
	constant := !(std > 0) || math.IsInf(std, 0)
	for i := 0; i < r; i++ {
		v := m.At(i, j)
		if math.IsNaN(v) || constant {
			m.Set(i, j, 0)
		} else {
			m.Set(i, j, (v-mean)/std)
		}
	}
}

// KernelStandardizer rescales a kernel (or the genotype matrix a
// kernel is derived from) before decomposition.
type KernelStandardizer interface {
	standardizeKernel(k *mat.SymDense)
	standardizeGenotypes(g *mat.Dense)
	String() string
}

// IdentityKernel leaves the kernel unchanged.
type IdentityKernel struct{}

func (IdentityKernel) String() string                  { return "identity" }
func (IdentityKernel) standardizeKernel(*mat.SymDense) {}
func (IdentityKernel) standardizeGenotypes(*mat.Dense) {}

// DiagKtoN scales the kernel so that its diagonal sums to the number
// of samples.
type DiagKtoN struct{}

func (DiagKtoN) String() string { return "diag-k-to-n" }

func (DiagKtoN) standardizeKernel(k *mat.SymDense) {
	n := k.Symmetric()
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += k.At(i, i)
	}
	if trace == 0 {
		return
	}
	k.ScaleSym(float64(n)/trace, k)
}

func (DiagKtoN) standardizeGenotypes(g *mat.Dense) {
	r, _ := g.Dims()
	ss := mat.Norm(g, 2)
	ss *= ss
	if ss == 0 {
		return
	}
	g.Scale(math.Sqrt(float64(r)/ss), g)
}

// ParseKernelStandardizer returns the kernel standardizer named
// "identity" or "diag-k-to-n".
func ParseKernelStandardizer(name string) (KernelStandardizer, error) {
	switch name {
	case "", "identity":
		return IdentityKernel{}, nil
	case "diag-k-to-n", "diagktn":
		return DiagKtoN{}, nil
	default:
		return nil, fmt.Errorf("unknown kernel standardizer %q", name)
	}
}
