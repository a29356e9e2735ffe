// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package eigenlmm

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"
)

// scanConfigFile holds defaults for single-snp-eigen flags. Keys
// that are absent leave the built-in default alone; flags given on
// the command line override the file.
type scanConfigFile struct {
	LogDelta           *float64 `yaml:"log_delta"`
	FitLogDeltaViaREML *bool    `yaml:"fit_log_delta_via_reml"`
	TestViaREML        *bool    `yaml:"test_via_reml"`
	BatchSize          *int     `yaml:"batch_size"`
	Threads            *int     `yaml:"threads"`
	MinH2              *float64 `yaml:"min_h2"`
	MaxH2              *float64 `yaml:"max_h2"`
	NGridH2            *int     `yaml:"n_grid_h2"`
	Standardizer       *string  `yaml:"standardizer"`
	BetaA              *float64 `yaml:"beta_a"`
	BetaB              *float64 `yaml:"beta_b"`
}

func loadScanConfigFile(fnm string) (*scanConfigFile, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cfg scanConfigFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err == io.EOF {
		// empty file
	} else if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return &cfg, nil
}

// apply sets each flag that has a value in the config file and was
// not given explicitly on the command line.
func (cfg *scanConfigFile) apply(flags *flag.FlagSet) error {
	explicit := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	for name, value := range map[string]*string{
		"log-delta":              formatOptional(cfg.LogDelta),
		"fit-log-delta-via-reml": formatOptional(cfg.FitLogDeltaViaREML),
		"test-via-reml":          formatOptional(cfg.TestViaREML),
		"batch-size":             formatOptional(cfg.BatchSize),
		"threads":                formatOptional(cfg.Threads),
		"min-h2":                 formatOptional(cfg.MinH2),
		"max-h2":                 formatOptional(cfg.MaxH2),
		"n-grid-h2":              formatOptional(cfg.NGridH2),
		"standardizer":           cfg.Standardizer,
		"beta-a":                 formatOptional(cfg.BetaA),
		"beta-b":                 formatOptional(cfg.BetaB),
	} {
		if value == nil || explicit[name] {
			continue
		}
		err := flags.Set(name, *value)
		if err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}

func formatOptional(v interface{}) *string {
	var s string
	switch v := v.(type) {
	case *float64:
		if v == nil {
			return nil
		}
		s = strconv.FormatFloat(*v, 'g', -1, 64)
	case *int:
		if v == nil {
			return nil
		}
		s = strconv.Itoa(*v)
	case *bool:
		if v == nil {
			return nil
		}
		s = strconv.FormatBool(*v)
	default:
		panic(fmt.Sprintf("bug: unsupported config type %T", v))
	}
	return &s
}
