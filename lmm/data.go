package lmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SampleID identifies an individual the way PLINK .fam files do.
type SampleID struct {
	Family     string
	Individual string
}

func (id SampleID) String() string {
	return id.Family + " " + id.Individual
}

// Variant holds a test variant's identifier and position fields.
type Variant struct {
	ID      string
	Chr     float64
	GenDist float64
	Pos     float64
}

// Genotypes is a samples x variants dosage matrix. Missing values
// are NaN.
type Genotypes struct {
	Samples  []SampleID
	Variants []Variant
	Val      *mat.Dense
}

func (g *Genotypes) check() error {
	if g == nil || g.Val == nil {
		return ErrMissingTestSNPs
	}
	r, c := g.Val.Dims()
	if r != len(g.Samples) || c != len(g.Variants) {
		return fmt.Errorf("genotype matrix is %dx%d but there are %d samples and %d variants", r, c, len(g.Samples), len(g.Variants))
	}
	return nil
}

// Take returns a copy restricted to the given sample rows, in the
// given order.
func (g *Genotypes) Take(rows []int) *Genotypes {
	return &Genotypes{
		Samples:  takeSamples(g.Samples, rows),
		Variants: g.Variants,
		Val:      takeRows(g.Val, rows),
	}
}

// Columns returns a copy of variant columns [start,end) as a dense
// samples x (end-start) matrix.
func (g *Genotypes) Columns(start, end int) *mat.Dense {
	r, _ := g.Val.Dims()
	out := mat.NewDense(r, end-start, nil)
	out.Copy(g.Val.Slice(0, r, start, end))
	return out
}

// Phenotype is a samples x columns matrix of real values. Missing
// values are NaN. Covariates use the same layout.
type Phenotype struct {
	Samples []SampleID
	Names   []string
	Val     *mat.Dense
}

func (p *Phenotype) check(what string) error {
	r, c := p.Val.Dims()
	if r != len(p.Samples) || c != len(p.Names) {
		return fmt.Errorf("%s matrix is %dx%d but there are %d samples and %d columns", what, r, c, len(p.Samples), len(p.Names))
	}
	return nil
}

// Take returns a copy restricted to the given sample rows, in the
// given order.
func (p *Phenotype) Take(rows []int) *Phenotype {
	return &Phenotype{
		Samples: takeSamples(p.Samples, rows),
		Names:   p.Names,
		Val:     takeRows(p.Val, rows),
	}
}

// Covariates share the Phenotype layout. NaN values are not
// allowed.
type Covariates = Phenotype

// withBias returns the covariate values with a trailing column of
// ones. A nil covariate set yields just the bias column.
func withBias(covar *Covariates, n int) *mat.Dense {
	c := 0
	if covar != nil {
		_, c = covar.Val.Dims()
	}
	out := mat.NewDense(n, c+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, covar.Val.At(i, j))
		}
		out.Set(i, c, 1)
	}
	return out
}

func takeSamples(in []SampleID, rows []int) []SampleID {
	out := make([]SampleID, len(rows))
	for i, r := range rows {
		out[i] = in[r]
	}
	return out
}

func takeRows(in *mat.Dense, rows []int) *mat.Dense {
	_, c := in.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, in.RawRowView(r))
	}
	return out
}

func hasNaN(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) {
				return true
			}
		}
	}
	return false
}
