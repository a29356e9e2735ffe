// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eigenlmm

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/arvados/eigenlmm/lmm"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// simulateCmd writes a synthetic data set: allele counts under
// Hardy-Weinberg equilibrium, a polygenic background spread over all
// variants, a few causal variants with fixed effects, and Gaussian
// covariates.
type simulateCmd struct{}

func (cmd *simulateCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

type simulation struct {
	seed       uint64
	samples    int
	variants   int
	causal     int
	effect     float64
	h2         float64
	covariates int
	missing    float64
}

func (cmd *simulateCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var sim simulation
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Uint64Var(&sim.seed, "seed", 1, "random `seed`")
	flags.IntVar(&sim.samples, "samples", 500, "number of samples")
	flags.IntVar(&sim.variants, "variants", 1000, "number of variants")
	flags.IntVar(&sim.causal, "causal", 5, "number of causal variants with a fixed effect")
	flags.Float64Var(&sim.effect, "effect", 0.3, "effect size of each causal variant (phenotype SD per genotype SD)")
	flags.Float64Var(&sim.h2, "h2", 0.5, "heritability of the polygenic background")
	flags.IntVar(&sim.covariates, "covariates", 2, "number of covariates")
	flags.Float64Var(&sim.missing, "missing", 0, "fraction of samples with a missing phenotype")
	outputPrefix := flags.String("o", "sim", "output `prefix` (writes prefix.npy, prefix.fam, prefix.bim, prefix.pheno.txt, prefix.covar.txt)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if sim.samples < 2 || sim.variants < 1 {
		return errors.New("need at least 2 samples and 1 variant")
	}
	if sim.causal < 0 || sim.causal > sim.variants {
		return fmt.Errorf("-causal %d out of range [0,%d]", sim.causal, sim.variants)
	}
	if sim.h2 < 0 || sim.h2 >= 1 {
		return fmt.Errorf("-h2 %g out of range [0,1)", sim.h2)
	}
	if sim.missing < 0 || sim.missing >= 1 {
		return fmt.Errorf("-missing %g out of range [0,1)", sim.missing)
	}

	geno, pheno, covar := sim.generate()
	err = writeNumpyFloat64(*outputPrefix+".npy", geno.Val.RawMatrix().Data, sim.samples, sim.variants)
	if err != nil {
		return err
	}
	err = writeFam(*outputPrefix+".fam", geno.Samples)
	if err != nil {
		return err
	}
	err = writeBim(*outputPrefix+".bim", geno.Variants)
	if err != nil {
		return err
	}
	err = writePhenoFile(*outputPrefix+".pheno.txt", pheno)
	if err != nil {
		return err
	}
	if covar != nil {
		err = writePhenoFile(*outputPrefix+".covar.txt", covar)
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(stdout, *outputPrefix)
	return nil
}

func (sim *simulation) generate() (*lmm.Genotypes, *lmm.Phenotype, *lmm.Covariates) {
	rng := rand.New(rand.NewSource(sim.seed))
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	maf := distuv.Uniform{Min: 0.05, Max: 0.5, Src: rng}

	samples := make([]lmm.SampleID, sim.samples)
	for i := range samples {
		samples[i] = lmm.SampleID{Family: fmt.Sprintf("fam%d", i), Individual: fmt.Sprintf("ind%d", i)}
	}
	variants := make([]lmm.Variant, sim.variants)
	for j := range variants {
		variants[j] = lmm.Variant{
			ID:      fmt.Sprintf("snp%d", j),
			Chr:     float64(1 + j*22/sim.variants),
			GenDist: 0,
			Pos:     float64(1000 * (j + 1)),
		}
	}

	val := mat.NewDense(sim.samples, sim.variants, nil)
	for j := 0; j < sim.variants; j++ {
		p := maf.Rand()
		for {
			// resample monomorphic columns
			n := 0
			for i := 0; i < sim.samples; i++ {
				x := 0.0
				if rng.Float64() < p {
					x++
				}
				if rng.Float64() < p {
					x++
				}
				val.Set(i, j, x)
				n += int(x)
			}
			if n > 0 && n < 2*sim.samples {
				break
			}
		}
	}
	std := mat.DenseCopyOf(val)
	lmm.Unit{}.Standardize(std)

	background := make([]float64, sim.samples)
	sd := math.Sqrt(sim.h2 / float64(sim.variants))
	for j := 0; j < sim.variants; j++ {
		u := normal.Rand() * sd
		for i := range background {
			background[i] += std.At(i, j) * u
		}
	}
	noiseSD := math.Sqrt(1 - sim.h2)

	covar := mat.NewDense(sim.samples, imax(sim.covariates, 1), nil)
	covarEffect := make([]float64, sim.covariates)
	for k := range covarEffect {
		covarEffect[k] = normal.Rand()
	}

	y := mat.NewDense(sim.samples, 1, nil)
	for i := 0; i < sim.samples; i++ {
		v := background[i] + noiseSD*normal.Rand()
		for j := 0; j < sim.causal; j++ {
			v += sim.effect * std.At(i, j*sim.variants/imax(sim.causal, 1))
		}
		for k, beta := range covarEffect {
			c := normal.Rand()
			covar.Set(i, k, c)
			v += beta * c
		}
		if rng.Float64() < sim.missing {
			v = math.NaN()
		}
		y.Set(i, 0, v)
	}
	log.WithFields(log.Fields{
		"samples":    sim.samples,
		"variants":   sim.variants,
		"causal":     sim.causal,
		"h2":         sim.h2,
		"covariates": sim.covariates,
	}).Info("simulated")

	geno := &lmm.Genotypes{Samples: samples, Variants: variants, Val: val}
	pheno := &lmm.Phenotype{Samples: samples, Names: []string{"y"}, Val: y}
	if sim.covariates == 0 {
		return geno, pheno, nil
	}
	names := make([]string, sim.covariates)
	for k := range names {
		names[k] = fmt.Sprintf("c%d", k+1)
	}
	return geno, pheno, &lmm.Covariates{Samples: samples, Names: names, Val: covar}
}

func imax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// writeFam writes a PLINK .fam file with unknown parents, sex and
// phenotype.
func writeFam(fnm string, samples []lmm.SampleID) error {
	return writeLines(fnm, len(samples), func(w *bufio.Writer, i int) {
		fmt.Fprintf(w, "%s\t%s\t0\t0\t0\t-9\n", samples[i].Family, samples[i].Individual)
	})
}

// writeBim writes a PLINK .bim file with placeholder alleles.
func writeBim(fnm string, variants []lmm.Variant) error {
	return writeLines(fnm, len(variants), func(w *bufio.Writer, i int) {
		v := variants[i]
		fmt.Fprintf(w, "%s\t%s\t%g\t%.0f\tA\tG\n", formatChr(v.Chr), v.ID, v.GenDist, v.Pos)
	})
}

func writeLines(fnm string, n int, line func(*bufio.Writer, int)) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		line(bufw, i)
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
