// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eigenlmm

import (
	"fmt"

	"github.com/arvados/eigenlmm/lmm"
	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcaCovariates returns the top components principal components of
// the unit-standardized genotypes, one covariate column per
// component.
func pcaCovariates(g *lmm.Genotypes, components int) (*lmm.Covariates, error) {
	rows, cols := g.Val.Dims()
	if components < 1 || components > rows || components > cols {
		return nil, fmt.Errorf("cannot compute %d principal components from %d samples x %d variants", components, rows, cols)
	}
	std := g.Columns(0, cols)
	lmm.Unit{}.Standardize(std)

	log.Printf("fitting pca: %d rows, %d cols, %d components", rows, cols, components)
	transformer := nlp.NewPCA(components)
	mtx := std.T()
	transformer.Fit(mtx)
	out, err := transformer.Transform(mtx)
	if err != nil {
		return nil, err
	}
	out = out.T()

	names := make([]string, components)
	for i := range names {
		names[i] = fmt.Sprintf("PC%d", i+1)
	}
	val := mat.NewDense(rows, components, nil)
	val.Copy(out)
	return &lmm.Covariates{Samples: g.Samples, Names: names, Val: val}, nil
}

// joinCovariates returns the columns of a and b side by side for the
// samples present in both, in a's order.
func joinCovariates(a, b *lmm.Covariates) (*lmm.Covariates, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	brow := make(map[lmm.SampleID]int, len(b.Samples))
	for i, id := range b.Samples {
		brow[id] = i
	}
	_, acols := a.Val.Dims()
	_, bcols := b.Val.Dims()
	var samples []lmm.SampleID
	var data []float64
	for i, id := range a.Samples {
		j, ok := brow[id]
		if !ok {
			continue
		}
		samples = append(samples, id)
		data = append(data, a.Val.RawRowView(i)...)
		data = append(data, b.Val.RawRowView(j)...)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("covariate sets have no samples in common")
	}
	return &lmm.Covariates{
		Samples: samples,
		Names:   append(append([]string(nil), a.Names...), b.Names...),
		Val:     mat.NewDense(len(samples), acols+bcols, data),
	}, nil
}
