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

// aligned holds the scan inputs restricted to their common samples,
// in genotype sample order.
type aligned struct {
	geno     *Genotypes
	pheno    *Phenotype
	covar    *Covariates
	spectral *Spectral
}

// alignInputs drops samples whose phenotype is missing, intersects
// the sample sets of all inputs (keeping the genotype order) and
// checks that no spectral decomposition sample was lost.
func alignInputs(geno *Genotypes, pheno *Phenotype, covar *Covariates, s *Spectral, logger logrus.FieldLogger) (*aligned, error) {
	if err := geno.check(); err != nil {
		return nil, err
	}
	if pheno == nil || pheno.Val == nil {
		return nil, errors.New("phenotype must be given as input")
	}
	if err := pheno.check("phenotype"); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("spectral decomposition must be given as input")
	}
	if covar != nil {
		if err := covar.check("covariate"); err != nil {
			return nil, err
		}
		if hasNaN(covar.Val) {
			return nil, ErrMissingCovariate
		}
	}

	_, npheno := pheno.Val.Dims()
	keep := make([]int, 0, len(pheno.Samples))
	for i := range pheno.Samples {
		good := 0
		for j := 0; j < npheno; j++ {
			if !math.IsNaN(pheno.Val.At(i, j)) {
				good++
			}
		}
		if good > 0 && good < npheno {
			return nil, fmt.Errorf("%w (sample %q)", ErrPartialMissing, pheno.Samples[i])
		}
		if good > 0 {
			keep = append(keep, i)
		}
	}
	if npheno != 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrMultiplePhenotypes, npheno)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: every phenotype value is missing", ErrNoSamples)
	}

	phenoRow, err := rowIndex(pheno.Samples, keep, "phenotype")
	if err != nil {
		return nil, err
	}
	var covarRow map[SampleID]int
	if covar != nil {
		covarRow, err = rowIndex(covar.Samples, allRows(len(covar.Samples)), "covariate")
		if err != nil {
			return nil, err
		}
	}
	inSpectral := make(map[SampleID]bool, len(s.Samples))
	for _, id := range s.Samples {
		inSpectral[id] = true
	}
	genoSeen := make(map[SampleID]bool, len(geno.Samples))
	var genoRows, phenoRows, covarRows []int
	var order []SampleID
	for i, id := range geno.Samples {
		if genoSeen[id] {
			return nil, fmt.Errorf("duplicate sample %q in genotypes", id)
		}
		genoSeen[id] = true
		pr, ok := phenoRow[id]
		if !ok || !inSpectral[id] {
			continue
		}
		cr, ok := covarRow[id]
		if covar != nil && !ok {
			continue
		}
		genoRows = append(genoRows, i)
		phenoRows = append(phenoRows, pr)
		covarRows = append(covarRows, cr)
		order = append(order, id)
	}
	if len(order) == 0 {
		return nil, ErrNoSamples
	}
	if len(order) != s.SampleCount() {
		return nil, fmt.Errorf("%w: %d of %d remain", ErrSampleMismatch, len(order), s.SampleCount())
	}
	logger.WithFields(logrus.Fields{
		"samples":   len(order),
		"genotyped": len(geno.Samples),
		"phenotype": len(keep),
	}).Debug("aligned samples")

	out := &aligned{
		geno:  geno.Take(genoRows),
		pheno: pheno.Take(phenoRows),
	}
	if covar != nil {
		out.covar = covar.Take(covarRows)
	}
	out.spectral, err = s.Take(order)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rowIndex maps the sample in each of the given rows to its row.
func rowIndex(samples []SampleID, rows []int, what string) (map[SampleID]int, error) {
	idx := make(map[SampleID]int, len(rows))
	for _, r := range rows {
		id := samples[r]
		if _, dup := idx[id]; dup {
			return nil, fmt.Errorf("duplicate sample %q in %s", id, what)
		}
		idx[id] = r
	}
	return idx, nil
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// column returns column j of m as a samples x 1 matrix.
func column(m *mat.Dense, j int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, 1, nil)
	out.Copy(m.Slice(0, r, j, j+1))
	return out
}
