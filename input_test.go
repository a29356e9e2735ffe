package eigenlmm

import (
	"io/ioutil"
	"math"
	"os"

	"github.com/arvados/eigenlmm/lmm"
	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type inputSuite struct{}

var _ = check.Suite(&inputSuite{})

func (s *inputSuite) TestReadPhenoFile(c *check.C) {
	tmpdir := c.MkDir()
	fnm := tmpdir + "/pheno.txt"
	err := ioutil.WriteFile(fnm, []byte(`FID IID y
f1 i1 1.5
f2 i2 -9
f3	i3	NA

f4 i4 .
f5 i5 nan
`), 0666)
	c.Assert(err, check.IsNil)
	p, err := readPhenoFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(p.Names, check.DeepEquals, []string{"y"})
	c.Check(p.Samples, check.HasLen, 5)
	c.Check(p.Samples[2], check.Equals, lmm.SampleID{Family: "f3", Individual: "i3"})
	c.Check(p.Val.At(0, 0), check.Equals, 1.5)
	for i := 1; i < 5; i++ {
		c.Check(math.IsNaN(p.Val.At(i, 0)), check.Equals, true, check.Commentf("row %d", i))
	}

	err = ioutil.WriteFile(fnm, []byte("f1 i1 1 2\nf2 i2 3 4\n"), 0666)
	c.Assert(err, check.IsNil)
	p, err = readPhenoFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(p.Names, check.DeepEquals, []string{"col0", "col1"})
	c.Check(mat.Equal(p.Val, mat.NewDense(2, 2, []float64{1, 2, 3, 4})), check.Equals, true)

	err = ioutil.WriteFile(fnm, []byte("f1 i1 1 2\nf2 i2 3\n"), 0666)
	c.Assert(err, check.IsNil)
	_, err = readPhenoFile(fnm)
	c.Check(err, check.ErrorMatches, `.*pheno.txt line 2: 1 values, expected 2`)

	err = ioutil.WriteFile(fnm, []byte("FID IID y\n"), 0666)
	c.Assert(err, check.IsNil)
	_, err = readPhenoFile(fnm)
	c.Check(err, check.ErrorMatches, `.*: no samples`)
}

func (s *inputSuite) TestWritePhenoFile(c *check.C) {
	fnm := c.MkDir() + "/out.txt"
	p := &lmm.Phenotype{
		Samples: []lmm.SampleID{{Family: "a", Individual: "b"}, {Family: "c", Individual: "d"}},
		Names:   []string{"x", "y"},
		Val:     mat.NewDense(2, 2, []float64{0.25, math.NaN(), -3, 1e-20}),
	}
	err := writePhenoFile(fnm, p)
	c.Assert(err, check.IsNil)
	buf, err := ioutil.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(string(buf), check.Equals, "FID\tIID\tx\ty\na\tb\t0.25\tNaN\nc\td\t-3\t1e-20\n")

	got, err := readPhenoFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(got.Names, check.DeepEquals, p.Names)
	c.Check(got.Samples, check.DeepEquals, p.Samples)
	c.Check(math.IsNaN(got.Val.At(0, 1)), check.Equals, true)
	c.Check(got.Val.At(1, 1), check.Equals, 1e-20)
}

func (s *inputSuite) TestGzip(c *check.C) {
	fnm := c.MkDir() + "/pheno.txt.gz"
	f, err := os.Create(fnm)
	c.Assert(err, check.IsNil)
	zw := pgzip.NewWriter(f)
	_, err = zw.Write([]byte("f1 i1 7\nf2 i2 8\n"))
	c.Assert(err, check.IsNil)
	c.Assert(zw.Close(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)

	p, err := readPhenoFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(p.Samples, check.HasLen, 2)
	c.Check(p.Val.At(1, 0), check.Equals, 8.0)
}

func (s *inputSuite) TestReadBim(c *check.C) {
	fnm := c.MkDir() + "/x.bim"
	err := ioutil.WriteFile(fnm, []byte("chrX\trs1\t0.5\t12345\tA\tG\n1 rs2 0 10 C T\nMT rs3 0 3 C T\n"), 0666)
	c.Assert(err, check.IsNil)
	variants, err := readBim(fnm)
	c.Assert(err, check.IsNil)
	c.Check(variants, check.DeepEquals, []lmm.Variant{
		{ID: "rs1", Chr: 23, GenDist: 0.5, Pos: 12345},
		{ID: "rs2", Chr: 1, GenDist: 0, Pos: 10},
		{ID: "rs3", Chr: 26, GenDist: 0, Pos: 3},
	})

	err = ioutil.WriteFile(fnm, []byte("chrQ rs1 0 1 A G\n"), 0666)
	c.Assert(err, check.IsNil)
	_, err = readBim(fnm)
	c.Check(err, check.ErrorMatches, `.*line 1: chromosome "Q".*`)
}

func (s *inputSuite) TestParseChr(c *check.C) {
	for in, expect := range map[string]float64{
		"1":     1,
		"chr22": 22,
		"X":     23,
		"chrY":  24,
		"XY":    25,
		"chrM":  26,
		"mt":    26,
	} {
		chr, err := parseChr(in)
		c.Check(err, check.IsNil)
		c.Check(chr, check.Equals, expect, check.Commentf("%s", in))
	}
	c.Check(formatChr(23), check.Equals, "23")
}

func (s *inputSuite) TestNumpyIntegers(c *check.C) {
	fnm := c.MkDir() + "/geno.npy"
	f, err := os.Create(fnm)
	c.Assert(err, check.IsNil)
	npw, err := gonpy.NewWriter(f)
	c.Assert(err, check.IsNil)
	npw.Shape = []int{2, 3}
	err = npw.WriteInt16([]int16{0, 1, 2, -1, 2, 0})
	c.Assert(err, check.IsNil)

	m, err := readNumpyMatrix(fnm)
	c.Assert(err, check.IsNil)
	r, cols := m.Dims()
	c.Check(r, check.Equals, 2)
	c.Check(cols, check.Equals, 3)
	c.Check(m.At(0, 2), check.Equals, 2.0)
	c.Check(math.IsNaN(m.At(1, 0)), check.Equals, true)
	c.Check(m.At(1, 1), check.Equals, 2.0)

	_, err = readNumpyVector(fnm)
	c.Check(err, check.ErrorMatches, `.*shape \[2 3\] is not a vector`)
}

func (s *inputSuite) TestTransposed(c *check.C) {
	// 2x3 row-major to 3x2 row-major
	c.Check(transposed([]float64{1, 2, 3, 4, 5, 6}, 2, 3), check.DeepEquals, []float64{1, 4, 2, 5, 3, 6})
}

func (s *inputSuite) TestSpectralRoundTrip(c *check.C) {
	prefix := c.MkDir() + "/eig"
	samples := []lmm.SampleID{{Family: "a", Individual: "1"}, {Family: "a", Individual: "2"}, {Family: "b", Individual: "1"}}
	vectors := mat.NewDense(3, 2, []float64{
		1 / math.Sqrt2, 0,
		-1 / math.Sqrt2, 0,
		0, 1,
	})
	spectral, err := lmm.NewSpectral([]float64{2, 0.5}, vectors, samples)
	c.Assert(err, check.IsNil)
	c.Check(spectral.LowRank, check.Equals, true)
	err = writeSpectral(prefix, spectral)
	c.Assert(err, check.IsNil)

	got, err := loadSpectral(prefix)
	c.Assert(err, check.IsNil)
	c.Check(got.Values, check.DeepEquals, spectral.Values)
	c.Check(got.Samples, check.DeepEquals, samples)
	c.Check(got.LowRank, check.Equals, true)
	c.Check(mat.Equal(got.Vectors, vectors), check.Equals, true)
}

func (s *inputSuite) TestLoadGenotypes(c *check.C) {
	prefix := c.MkDir() + "/g"
	err := writeNumpyFloat64(prefix+".npy", []float64{0, 1, 2, 1, 1, 0}, 3, 2)
	c.Assert(err, check.IsNil)
	samples := []lmm.SampleID{{Family: "f", Individual: "1"}, {Family: "f", Individual: "2"}, {Family: "f", Individual: "3"}}
	c.Assert(writeFam(prefix+".fam", samples), check.IsNil)
	variants := []lmm.Variant{{ID: "v1", Chr: 1, Pos: 100}, {ID: "v2", Chr: 2, Pos: 200}}
	c.Assert(writeBim(prefix+".bim", variants), check.IsNil)

	g, err := loadGenotypes(prefix+".npy", prefix+".fam", prefix+".bim")
	c.Assert(err, check.IsNil)
	c.Check(g.Samples, check.DeepEquals, samples)
	c.Check(g.Variants, check.DeepEquals, variants)
	c.Check(g.Val.At(2, 1), check.Equals, 0.0)

	sel := selectVariants(g, func(v lmm.Variant) bool { return v.Chr == 2 })
	c.Check(sel.Variants, check.DeepEquals, variants[1:])
	c.Check(mat.Col(nil, 0, sel.Val), check.DeepEquals, []float64{1, 1, 0})
	none := selectVariants(g, func(lmm.Variant) bool { return false })
	c.Check(none.Variants, check.HasLen, 0)
	c.Check(none.Val, check.IsNil)

	c.Assert(writeBim(prefix+".bim", variants[:1]), check.IsNil)
	_, err = loadGenotypes(prefix+".npy", prefix+".fam", prefix+".bim")
	c.Check(err, check.ErrorMatches, `.*g.npy is 3x2, but .* has 3 samples and .* has 1 variants`)
}
