// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eigenlmm

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/arvados/eigenlmm/lmm"
	log "github.com/sirupsen/logrus"
)

type singleSNPEigen struct{}

func (cmd *singleSNPEigen) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *singleSNPEigen) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	genoFilename := flags.String("geno", "", "genotype matrix `file.npy` (samples x variants)")
	famFilename := flags.String("fam", "", "sample `file.fam` (default: -geno with .fam suffix)")
	bimFilename := flags.String("bim", "", "variant `file.bim` (default: -geno with .bim suffix)")
	phenoFilename := flags.String("pheno", "", "phenotype `file` (FID IID value)")
	covarFilename := flags.String("covar", "", "covariate `file` (FID IID value...)")
	eigenPrefix := flags.String("eigen", "", "spectral decomposition `prefix` written by the eigen command")
	regionsFilename := flags.String("regions", "", "only test variants inside regions in BED `file`")
	expandRegions := flags.Int("expand-regions", 0, "expand specified regions by `N` base pairs on each side")
	pcaComponents := flags.Int("pca-covariates", 0, "add the top `N` genotype principal components as covariates")
	logDelta := flags.String("log-delta", "", "fix log(delta) instead of searching for h2")
	fitREML := flags.Bool("fit-log-delta-via-reml", true, "search for h2 using REML instead of ML")
	testREML := flags.Bool("test-via-reml", false, "use REML for null and alternative models (no standard errors)")
	batchSize := flags.Int("batch-size", 1000, "variants per batch")
	threads := flags.Int("threads", 1, "number of batches to test concurrently")
	minH2 := flags.Float64("min-h2", 1e-5, "lower bound of the h2 search")
	maxH2 := flags.Float64("max-h2", 1-1e-5, "upper bound of the h2 search")
	nGridH2 := flags.Int("n-grid-h2", 10, "number of grid intervals in the h2 search")
	standardizer := flags.String("standardizer", "unit", "test variant standardizer: unit or beta")
	betaA := flags.Float64("beta-a", 1, "beta standardizer a")
	betaB := flags.Float64("beta-b", 25, "beta standardizer b")
	configFilename := flags.String("config", "", "YAML `file` with defaults for the flags above")
	outputFilename := flags.String("o", "-", "output `file` (tab separated)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if *configFilename != "" {
		cfgfile, err := loadScanConfigFile(*configFilename)
		if err != nil {
			return err
		}
		err = cfgfile.apply(flags)
		if err != nil {
			return err
		}
	}
	if *genoFilename == "" || *phenoFilename == "" || *eigenPrefix == "" {
		return errors.New("-geno, -pheno, and -eigen are required")
	}
	genoPrefix := strings.TrimSuffix(strings.TrimSuffix(*genoFilename, ".gz"), ".npy")
	if *famFilename == "" {
		*famFilename = genoPrefix + ".fam"
	}
	if *bimFilename == "" {
		*bimFilename = genoPrefix + ".bim"
	}

	cfg := lmm.DefaultScanConfig()
	cfg.FitLogDeltaViaREML = *fitREML
	cfg.TestViaREML = *testREML
	cfg.BatchSize = *batchSize
	cfg.Threads = *threads
	cfg.MinH2 = *minH2
	cfg.MaxH2 = *maxH2
	cfg.NGridH2 = *nGridH2
	cfg.Logger = log.StandardLogger()
	if *logDelta != "" {
		x, err := strconv.ParseFloat(*logDelta, 64)
		if err != nil {
			return fmt.Errorf("-log-delta: %w", err)
		}
		cfg.LogDelta = &x
	}
	cfg.Standardizer, err = lmm.ParseStandardizer(*standardizer, *betaA, *betaB)
	if err != nil {
		return err
	}

	geno, err := loadGenotypes(*genoFilename, *famFilename, *bimFilename)
	if err != nil {
		return err
	}
	pheno, err := readPhenoFile(*phenoFilename)
	if err != nil {
		return err
	}
	var covar *lmm.Covariates
	if *covarFilename != "" {
		covar, err = readPhenoFile(*covarFilename)
		if err != nil {
			return err
		}
	}
	if *pcaComponents > 0 {
		pcs, err := pcaCovariates(geno, *pcaComponents)
		if err != nil {
			return err
		}
		covar, err = joinCovariates(covar, pcs)
		if err != nil {
			return err
		}
	}
	if *regionsFilename != "" {
		regions, err := readRegions(*regionsFilename, *expandRegions)
		if err != nil {
			return err
		}
		log.Printf("selecting variants inside %d regions", regions.Len())
		before := len(geno.Variants)
		geno = selectVariants(geno, regions.Contains)
		log.Printf("%d of %d variants selected", len(geno.Variants), before)
		if len(geno.Variants) == 0 {
			return errors.New("no variants inside specified regions")
		}
	}
	spectral, err := loadSpectral(*eigenPrefix)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	table, err := lmm.SingleSNPEigen(ctx, geno, pheno, covar, spectral, cfg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"variants": len(table),
		"digest":   table.Digest(),
	}).Info("scan complete")

	if *outputFilename == "-" {
		return table.WriteTSV(stdout)
	}
	return table.WriteFile(*outputFilename)
}
