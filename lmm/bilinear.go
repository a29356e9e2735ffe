// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Bilinear holds aᵀ·K⁻¹·b for rotated operands a and b, where K⁻¹
// acts as 1/(eigenvalue+delta) in the eigenbasis and as 1/delta on
// the residual of a low rank decomposition.
//
// AK is a.Rotated/Sd, kept so later forms with the same left operand
// skip the division. Blocks cut out of an assembled Bilinear have no
// AK.
type Bilinear struct {
	K   *VarianceModel
	AK  *mat.Dense
	AKB *mat.Dense
}

// NewBilinear computes aᵀ·K⁻¹·b. If aK is not nil it must be the AK of
// an earlier form with the same a and K.
func NewBilinear(a *Rotated, k *VarianceModel, b *Rotated, aK *mat.Dense) *Bilinear {
	if aK == nil {
		aK = divideBySd(a.Rotated, k)
	}
	akb := mat.NewDense(a.Features(), b.Features(), nil)
	akb.Mul(aK.T(), b.Rotated)
	if k.LowRank {
		var resid mat.Dense
		resid.Mul(a.Double.T(), b.Double)
		resid.Scale(1/k.Delta, &resid)
		akb.Add(akb, &resid)
	}
	return &Bilinear{K: k, AK: aK, AKB: akb}
}

func divideBySd(rot *mat.Dense, k *VarianceModel) *mat.Dense {
	r, c := rot.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		sd := k.Sd[i]
		for j := 0; j < c; j++ {
			out.Set(i, j, rot.At(i, j)/sd)
		}
	}
	return out
}

// EmptyBilinear returns an r x c form filled with NaN, to be
// assembled block by block with SetBlock.
func EmptyBilinear(r, c int, k *VarianceModel) *Bilinear {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Bilinear{K: k, AKB: mat.NewDense(r, c, data)}
}

// SetBlock copies src into the block whose top left corner is (i,j).
// Symmetry is not maintained: the caller mirrors off-diagonal blocks
// explicitly with T.
func (b *Bilinear) SetBlock(i, j int, src *Bilinear) {
	r, c := src.AKB.Dims()
	b.AKB.Slice(i, i+r, j, j+c).(*mat.Dense).Copy(src.AKB)
}

// Block returns a view of the r x c block at (i,j).
func (b *Bilinear) Block(i, j, r, c int) *Bilinear {
	return &Bilinear{K: b.K, AKB: b.AKB.Slice(i, i+r, j, j+c).(*mat.Dense)}
}

// T returns the transposed form.
func (b *Bilinear) T() *Bilinear {
	r, c := b.AKB.Dims()
	t := mat.NewDense(c, r, nil)
	t.Copy(b.AKB.T())
	return &Bilinear{K: b.K, AKB: t}
}

// Scalar returns the value of a 1x1 form.
func (b *Bilinear) Scalar() float64 {
	return b.AKB.At(0, 0)
}

// column returns column j of a rotated matrix as a view.
func (r *Rotated) column(j int) *Rotated {
	rows, _ := r.Rotated.Dims()
	out := &Rotated{Rotated: r.Rotated.Slice(0, rows, j, j+1).(*mat.Dense)}
	if r.Double != nil {
		n, _ := r.Double.Dims()
		out.Double = r.Double.Slice(0, n, j, j+1).(*mat.Dense)
	}
	return out
}

// columnAK returns column j of an AK matrix as a view.
func columnAK(aK *mat.Dense, j int) *mat.Dense {
	rows, _ := aK.Dims()
	return aK.Slice(0, rows, j, j+1).(*mat.Dense)
}
