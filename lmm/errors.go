// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTestSNPs    = errors.New("test SNPs must be given as input")
	ErrMultiplePhenotypes = errors.New("only one phenotype is supported")
	ErrPartialMissing     = errors.New("with multiple phenotypes, an individual's values must either be all missing or have no missing")
	ErrSampleMismatch     = errors.New("expect all of the spectral decomposition's individuals to be in test SNPs, pheno, and covar")
	ErrMissingCovariate   = errors.New("covariates contain missing values")
	ErrNoSamples          = errors.New("no samples left after alignment")
	ErrDegenerate         = errors.New("log likelihood is not finite, possibly due to constant covariates")
)

// DegenerateError reports where a non-finite log likelihood was
// encountered.
type DegenerateError struct {
	Stage   string // "h2 search", "null model", or "variant"
	Batch   int
	Index   int // variant index within the full scan, -1 if n/a
	Variant string
	H2      float64
}

func (e *DegenerateError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s (h2=%g): %s", e.Stage, e.H2, ErrDegenerate)
	}
	return fmt.Sprintf("%s %d %q in batch %d (h2=%g): %s", e.Stage, e.Index, e.Variant, e.Batch, e.H2, ErrDegenerate)
}

func (e *DegenerateError) Unwrap() error { return ErrDegenerate }
