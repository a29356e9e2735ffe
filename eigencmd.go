// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eigenlmm

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/arvados/eigenlmm/lmm"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type eigenCmd struct{}

func (cmd *eigenCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.run(prog, args, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func (cmd *eigenCmd) run(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	kernelFilename := flags.String("kernel", "", "samples x samples kernel matrix `file.npy`")
	samplesFilename := flags.String("samples", "", "sample IDs for -kernel rows (.fam or FID IID `file`)")
	genoFilename := flags.String("geno", "", "compute the kernel from genotype matrix `file.npy` (samples x variants)")
	famFilename := flags.String("fam", "", "sample `file.fam` for -geno (default: -geno with .fam suffix)")
	kernelStandardizer := flags.String("kernel-standardizer", "identity", "kernel standardizer: identity or diag-k-to-n")
	standardizer := flags.String("standardizer", "unit", "genotype standardizer for -geno: unit or beta")
	betaA := flags.Float64("beta-a", 1, "beta standardizer a")
	betaB := flags.Float64("beta-b", 25, "beta standardizer b")
	outputPrefix := flags.String("o", "eigen", "output `prefix` (writes prefix.values.npy, prefix.vectors.npy, prefix.samples.txt)")
	err := flags.Parse(args)
	if err == flag.ErrHelp {
		return nil
	} else if err != nil {
		return err
	} else if flags.NArg() > 0 {
		return fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
	}
	if (*kernelFilename == "") == (*genoFilename == "") {
		return errors.New("exactly one of -kernel or -geno must be given")
	}
	ks, err := lmm.ParseKernelStandardizer(*kernelStandardizer)
	if err != nil {
		return err
	}

	var src lmm.KernelSource
	if *kernelFilename != "" {
		if *samplesFilename == "" {
			return errors.New("-kernel requires -samples")
		}
		src, err = loadKernelMatrix(*kernelFilename, *samplesFilename)
		if err != nil {
			return err
		}
	} else {
		if *famFilename == "" {
			*famFilename = strings.TrimSuffix(strings.TrimSuffix(*genoFilename, ".gz"), ".npy") + ".fam"
		}
		samples, err := readSamples(*famFilename)
		if err != nil {
			return err
		}
		val, err := readNumpyMatrix(*genoFilename)
		if err != nil {
			return err
		}
		rows, cols := val.Dims()
		if rows != len(samples) {
			return fmt.Errorf("%s has %d rows, but %s has %d samples", *genoFilename, rows, *famFilename, len(samples))
		}
		std, err := lmm.ParseStandardizer(*standardizer, *betaA, *betaB)
		if err != nil {
			return err
		}
		src = lmm.GenotypeKernel{
			Genotypes: &lmm.Genotypes{
				Samples:  samples,
				Variants: make([]lmm.Variant, cols),
				Val:      val,
			},
			Standardizer: std,
		}
	}

	spectral, err := lmm.Decompose(src, ks, log.StandardLogger())
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"samples": spectral.SampleCount(),
		"rank":    spectral.Rank(),
		"lowrank": spectral.LowRank,
	}).Info("decomposed kernel")
	err = writeSpectral(*outputPrefix, spectral)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, *outputPrefix)
	return nil
}

// loadKernelMatrix reads a square .npy kernel and its sample IDs.
// The matrix is symmetrized by averaging it with its transpose.
func loadKernelMatrix(kernelFnm, samplesFnm string) (lmm.KernelMatrix, error) {
	samples, err := readSamples(samplesFnm)
	if err != nil {
		return lmm.KernelMatrix{}, err
	}
	k, err := readNumpyMatrix(kernelFnm)
	if err != nil {
		return lmm.KernelMatrix{}, err
	}
	rows, cols := k.Dims()
	if rows != cols {
		return lmm.KernelMatrix{}, fmt.Errorf("%s: kernel is %dx%d, not square", kernelFnm, rows, cols)
	}
	if rows != len(samples) {
		return lmm.KernelMatrix{}, fmt.Errorf("%s is %dx%d, but %s has %d samples", kernelFnm, rows, cols, samplesFnm, len(samples))
	}
	sym := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			sym.SetSym(i, j, (k.At(i, j)+k.At(j, i))/2)
		}
	}
	return lmm.KernelMatrix{Samples: samples, Val: sym}, nil
}
