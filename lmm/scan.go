// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lmm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const defaultBatchSize = 1000

// ScanConfig controls a scan. Use DefaultScanConfig for the usual
// settings: the zero value fits h2 by ML rather than REML.
type ScanConfig struct {
	// LogDelta fixes log(delta) instead of searching for h2.
	LogDelta *float64
	// FitLogDeltaViaREML selects REML for the h2 search.
	FitLogDeltaViaREML bool
	// TestViaREML selects REML for the null and per-variant fits.
	// Standard errors are not available in that case.
	TestViaREML bool

	BatchSize int
	Threads   int
	MinH2     float64
	MaxH2     float64
	NGridH2   int

	// Standardizer is applied to each batch of test variants. Nil
	// means Unit.
	Standardizer Standardizer
	Logger       logrus.FieldLogger
}

// DefaultScanConfig returns a config that searches h2 by REML and
// tests by ML in batches of 1000 variants.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		FitLogDeltaViaREML: true,
		BatchSize:          defaultBatchSize,
		Threads:            1,
		MinH2:              defaultMinH2,
		MaxH2:              defaultMaxH2,
		NGridH2:            defaultNGrid,
		Standardizer:       Unit{},
	}
}

// Scanner holds the null model shared by every per-variant test.
type Scanner struct {
	cfg      ScanConfig
	logger   logrus.FieldLogger
	geno     *Genotypes
	spectral *Spectral

	x  *mat.Dense // covariates with trailing bias column
	xr *Rotated
	yr *Rotated

	k           *VarianceModel
	yKy         *Bilinear
	covarKcovar *Bilinear
	covarKy     *Bilinear
	null        Fit
}

// NewScanner aligns the inputs, finds (or fixes) h2 and fits the
// null model.
func NewScanner(geno *Genotypes, pheno *Phenotype, covar *Covariates, s *Spectral, cfg ScanConfig) (*Scanner, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Standardizer == nil {
		cfg.Standardizer = Unit{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	in, err := alignInputs(geno, pheno, covar, s, logger)
	if err != nil {
		return nil, err
	}
	n := in.spectral.SampleCount()
	sc := &Scanner{
		cfg:      cfg,
		logger:   logger,
		geno:     in.geno,
		spectral: in.spectral,
		x:        withBias(in.covar, n),
	}
	sc.xr = sc.spectral.Rotate(sc.x)
	sc.yr = sc.spectral.Rotate(column(in.pheno.Val, 0))

	if cfg.LogDelta == nil {
		found, err := FindH2(sc.spectral, sc.x, sc.xr, sc.yr, SearchConfig{
			MinH2: cfg.MinH2,
			MaxH2: cfg.MaxH2,
			NGrid: cfg.NGridH2,
			REML:  cfg.FitLogDeltaViaREML,
		}, logger)
		if err != nil {
			return nil, err
		}
		sc.k = NewVarianceModelH2(sc.spectral, found.H2)
	} else {
		sc.k = NewVarianceModelLogDelta(sc.spectral, *cfg.LogDelta)
	}

	sc.yKy = NewBilinear(sc.yr, sc.k, sc.yr, nil)
	sc.covarKcovar = NewBilinear(sc.xr, sc.k, sc.xr, nil)
	sc.covarKy = NewBilinear(sc.xr, sc.k, sc.yr, sc.covarKcovar.AK)
	if cfg.TestViaREML {
		sc.null, err = RestrictedLikelihood(sc.x, sc.yKy, sc.covarKcovar, sc.covarKy)
	} else {
		sc.null, err = MaximumLikelihood(sc.yKy, sc.covarKcovar, sc.covarKy)
	}
	if errors.Is(err, ErrDegenerate) {
		return nil, &DegenerateError{Stage: "null model", Index: -1, H2: sc.k.H2}
	} else if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"samples":    n,
		"rank":       sc.spectral.Rank(),
		"covariates": sc.x.RawMatrix().Cols - 1,
		"h2":         sc.k.H2,
		"loglik":     sc.null.LogLikelihood,
	}).Info("fit null model")
	return sc, nil
}

// H2 returns the variance ratio used for all tests.
func (sc *Scanner) H2() float64 { return sc.k.H2 }

// Null returns the null model fit.
func (sc *Scanner) Null() Fit { return sc.null }

// Scan tests every variant and returns the results sorted by
// p-value. Batches run on up to cfg.Threads goroutines; the output
// does not depend on the thread count. ctx is checked before each
// batch starts.
func (sc *Scanner) Scan(ctx context.Context) (Table, error) {
	nvariants := len(sc.geno.Variants)
	table := make(Table, nvariants)
	t0 := time.Now()
	thr := throttle{Max: sc.cfg.Threads}
	for batch, start := 0, 0; start < nvariants; batch, start = batch+1, start+sc.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			thr.Report(err)
			break
		}
		batch, start := batch, start
		end := start + sc.cfg.BatchSize
		if end > nvariants {
			end = nvariants
		}
		ok := thr.Go(ctx, func() error {
			err := sc.testBatch(batch, start, end, table[start:end])
			if err != nil {
				return err
			}
			sc.logger.WithFields(logrus.Fields{
				"batch":    batch,
				"variants": fmt.Sprintf("%d-%d", start, end-1),
			}).Debug("batch done")
			return nil
		})
		if !ok {
			break
		}
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	table.Sort()
	sc.logger.WithFields(logrus.Fields{
		"variants": nvariants,
		"elapsed":  time.Since(t0).Round(time.Millisecond).String(),
	}).Info("scan done")
	return table, nil
}

// workspace is the per-batch storage for the augmented forms
// [covariates, variant]ᵀK⁻¹[covariates, variant] and
// [covariates, variant]ᵀK⁻¹y, and for the REML design matrix.
type workspace struct {
	xKx *Bilinear
	xKy *Bilinear
	x   *mat.Dense
}

func (sc *Scanner) newWorkspace() *workspace {
	n, cc := sc.x.Dims()
	ws := &workspace{
		xKx: EmptyBilinear(cc+1, cc+1, sc.k),
		xKy: EmptyBilinear(cc+1, 1, sc.k),
	}
	ws.xKx.SetBlock(0, 0, sc.covarKcovar)
	ws.xKy.SetBlock(0, 0, sc.covarKy)
	if sc.cfg.TestViaREML {
		ws.x = mat.NewDense(n, cc+1, nil)
		ws.x.Slice(0, n, 0, cc).(*mat.Dense).Copy(sc.x)
	}
	return ws
}

// testBatch fills out with results for variants [start,end).
func (sc *Scanner) testBatch(batch, start, end int, out []Result) error {
	n, cc := sc.x.Dims()
	ws := sc.newWorkspace()

	g := sc.geno.Columns(start, end)
	sc.cfg.Standardizer.Standardize(g)
	altR := sc.spectral.Rotate(g)
	covarKalt := NewBilinear(sc.xr, sc.k, altR, sc.covarKcovar.AK)
	altKy := NewBilinear(altR, sc.k, sc.yr, nil)

	for i := 0; i < end-start; i++ {
		upper := covarKalt.Block(0, i, cc, 1)
		ws.xKx.SetBlock(0, cc, upper)
		ws.xKx.SetBlock(cc, 0, upper.T())
		alt := altR.column(i)
		ws.xKx.SetBlock(cc, cc, NewBilinear(alt, sc.k, alt, columnAK(altKy.AK, i)))
		ws.xKy.SetBlock(cc, 0, altKy.Block(i, 0, 1, 1))

		var fit Fit
		var err error
		if sc.cfg.TestViaREML {
			ws.x.Slice(0, n, cc, cc+1).(*mat.Dense).Copy(g.Slice(0, n, i, i+1))
			fit, err = RestrictedLikelihood(ws.x, sc.yKy, ws.xKx, ws.xKy)
		} else {
			fit, err = MaximumLikelihood(sc.yKy, ws.xKx, ws.xKy)
		}
		v := sc.geno.Variants[start+i]
		if errors.Is(err, ErrDegenerate) {
			return &DegenerateError{Stage: "variant", Batch: batch, Index: start + i, Variant: v.ID, H2: sc.k.H2}
		} else if err != nil {
			return err
		}
		se := math.NaN()
		if fit.BetaVariance != nil {
			se = math.Sqrt(fit.BetaVariance[cc])
		}
		out[i] = Result{
			SIDIndex:    start + i,
			SNP:         v.ID,
			Chr:         v.Chr,
			GenDist:     v.GenDist,
			ChrPos:      v.Pos,
			PValue:      lrtPValue(sc.null.LogLikelihood, fit.LogLikelihood),
			SnpWeight:   fit.Beta[cc],
			SnpWeightSE: se,
			Nullh2:      sc.k.H2,
		}
	}
	return nil
}

// SingleSNPEigen tests each variant in geno for association with
// the phenotype, using the relatedness structure described by s.
func SingleSNPEigen(ctx context.Context, geno *Genotypes, pheno *Phenotype, covar *Covariates, s *Spectral, cfg ScanConfig) (Table, error) {
	sc, err := NewScanner(geno, pheno, covar, s, cfg)
	if err != nil {
		return nil, err
	}
	return sc.Scan(ctx)
}
