// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"math"
)

// VarianceModel is the covariance K + delta·I expressed in the
// eigenbasis of K, for one value of the variance ratio h2.
//
// Sd[i] = Values[i] + delta, and LogDet is the log determinant of the
// full samples x samples covariance, including (n-rank)·log(delta)
// for the part of the sample space a low rank decomposition does not
// span.
type VarianceModel struct {
	H2       float64
	Delta    float64
	LogDelta float64

	Sd          []float64
	LogDet      float64
	SampleCount int
	LowRank     bool
}

// NewVarianceModelH2 builds a model from the variance ratio h2,
// which must be in (0,1).
func NewVarianceModelH2(s *Spectral, h2 float64) *VarianceModel {
	delta := 1/h2 - 1
	return newVarianceModel(s, h2, delta, math.Log(delta))
}

// NewVarianceModelLogDelta builds a model from log(delta).
func NewVarianceModelLogDelta(s *Spectral, logDelta float64) *VarianceModel {
	delta := math.Exp(logDelta)
	return newVarianceModel(s, 1/(delta+1), delta, logDelta)
}

func newVarianceModel(s *Spectral, h2, delta, logDelta float64) *VarianceModel {
	k := &VarianceModel{
		H2:          h2,
		Delta:       delta,
		LogDelta:    logDelta,
		Sd:          make([]float64, len(s.Values)),
		SampleCount: s.SampleCount(),
		LowRank:     s.LowRank,
	}
	for i, v := range s.Values {
		sd := v + delta
		k.Sd[i] = sd
		k.LogDet += math.Log(sd)
	}
	if s.LowRank {
		k.LogDet += float64(s.SampleCount()-s.Rank()) * logDelta
	}
	return k
}
