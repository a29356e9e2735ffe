package eigenlmm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/arvados/eigenlmm/lmm"
	"github.com/klauspost/pgzip"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// eachLine calls fn with the whitespace separated fields of each
// non-empty line of fnm.
func eachLine(fnm string, fn func(lineNum int, fields []string) error) error {
	f, err := zopen(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		err = fn(lineNum, fields)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", fnm, lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return f.Close()
}

// readSamples reads a file whose first two columns are family and
// individual IDs: a PLINK .fam file or a samples.txt written by the
// eigen command.
func readSamples(fnm string) ([]lmm.SampleID, error) {
	var samples []lmm.SampleID
	err := eachLine(fnm, func(_ int, fields []string) error {
		if len(fields) < 2 {
			return fmt.Errorf("%d fields < 2", len(fields))
		}
		samples = append(samples, lmm.SampleID{Family: fields[0], Individual: fields[1]})
		return nil
	})
	return samples, err
}

func writeSamples(fnm string, samples []lmm.SampleID) error {
	return writeLines(fnm, len(samples), func(w *bufio.Writer, i int) {
		fmt.Fprintf(w, "%s\t%s\n", samples[i].Family, samples[i].Individual)
	})
}

// readBim reads variant IDs and positions from a PLINK .bim file
// (chr, id, genetic distance, position, allele 1, allele 2).
func readBim(fnm string) ([]lmm.Variant, error) {
	var variants []lmm.Variant
	err := eachLine(fnm, func(_ int, fields []string) error {
		if len(fields) < 4 {
			return fmt.Errorf("%d fields < 4", len(fields))
		}
		chr, err := parseChr(fields[0])
		if err != nil {
			return err
		}
		gendist, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("genetic distance: %w", err)
		}
		pos, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		variants = append(variants, lmm.Variant{ID: fields[1], Chr: chr, GenDist: gendist, Pos: pos})
		return nil
	})
	return variants, err
}

// parseChr converts a chromosome name to PLINK's numeric code.
func parseChr(s string) (float64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "chr"), "Chr")
	switch strings.ToUpper(s) {
	case "X":
		return 23, nil
	case "Y":
		return 24, nil
	case "XY":
		return 25, nil
	case "M", "MT":
		return 26, nil
	}
	chr, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("chromosome %q: %w", s, err)
	}
	return chr, nil
}

func formatChr(chr float64) string {
	return strconv.FormatFloat(chr, 'f', -1, 64)
}

// parseValue parses a phenotype or covariate value, mapping the
// usual missing value sentinels to NaN.
func parseValue(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "-9", "na", "nan", ".":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// readPhenoFile reads a whitespace separated FID IID value... file.
// A first line whose third field is not numeric is taken as a
// header naming the columns.
func readPhenoFile(fnm string) (*lmm.Phenotype, error) {
	var (
		samples []lmm.SampleID
		names   []string
		values  []float64
	)
	err := eachLine(fnm, func(lineNum int, fields []string) error {
		if len(fields) < 3 {
			return fmt.Errorf("%d fields < 3", len(fields))
		}
		if samples == nil && names == nil {
			if _, err := parseValue(fields[2]); err != nil {
				names = append([]string(nil), fields[2:]...)
				return nil
			}
			for i := range fields[2:] {
				names = append(names, fmt.Sprintf("col%d", i))
			}
		}
		if len(fields)-2 != len(names) {
			return fmt.Errorf("%d values, expected %d", len(fields)-2, len(names))
		}
		for _, s := range fields[2:] {
			v, err := parseValue(s)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		samples = append(samples, lmm.SampleID{Family: fields[0], Individual: fields[1]})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: no samples", fnm)
	}
	return &lmm.Phenotype{
		Samples: samples,
		Names:   names,
		Val:     mat.NewDense(len(samples), len(names), values),
	}, nil
}

func writePhenoFile(fnm string, p *lmm.Phenotype) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	fmt.Fprintf(bufw, "FID\tIID\t%s\n", strings.Join(p.Names, "\t"))
	_, cols := p.Val.Dims()
	for i, id := range p.Samples {
		fmt.Fprintf(bufw, "%s\t%s", id.Family, id.Individual)
		for j := 0; j < cols; j++ {
			fmt.Fprintf(bufw, "\t%s", strconv.FormatFloat(p.Val.At(i, j), 'g', -1, 64))
		}
		fmt.Fprint(bufw, "\n")
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}

// loadGenotypes reads a samples x variants .npy matrix with its .fam
// and .bim files.
func loadGenotypes(genoFnm, famFnm, bimFnm string) (*lmm.Genotypes, error) {
	samples, err := readSamples(famFnm)
	if err != nil {
		return nil, err
	}
	variants, err := readBim(bimFnm)
	if err != nil {
		return nil, err
	}
	val, err := readNumpyMatrix(genoFnm)
	if err != nil {
		return nil, err
	}
	rows, cols := val.Dims()
	if rows != len(samples) || cols != len(variants) {
		return nil, fmt.Errorf("%s is %dx%d, but %s has %d samples and %s has %d variants", genoFnm, rows, cols, famFnm, len(samples), bimFnm, len(variants))
	}
	log.WithFields(log.Fields{
		"filename": genoFnm,
		"samples":  rows,
		"variants": cols,
	}).Info("loaded genotypes")
	return &lmm.Genotypes{Samples: samples, Variants: variants, Val: val}, nil
}

// selectVariants returns the genotypes restricted to variants for
// which keep returns true.
func selectVariants(g *lmm.Genotypes, keep func(lmm.Variant) bool) *lmm.Genotypes {
	var cols []int
	for j, v := range g.Variants {
		if keep(v) {
			cols = append(cols, j)
		}
	}
	out := &lmm.Genotypes{Samples: g.Samples}
	if len(cols) == 0 {
		return out
	}
	rows, _ := g.Val.Dims()
	out.Val = mat.NewDense(rows, len(cols), nil)
	for k, j := range cols {
		out.Variants = append(out.Variants, g.Variants[j])
		for i := 0; i < rows; i++ {
			out.Val.Set(i, k, g.Val.At(i, j))
		}
	}
	return out
}

// loadSpectral reads <prefix>.values.npy, <prefix>.vectors.npy and
// <prefix>.samples.txt.
func loadSpectral(prefix string) (*lmm.Spectral, error) {
	values, err := readNumpyVector(prefix + ".values.npy")
	if err != nil {
		return nil, err
	}
	vectors, err := readNumpyMatrix(prefix + ".vectors.npy")
	if err != nil {
		return nil, err
	}
	samples, err := readSamples(prefix + ".samples.txt")
	if err != nil {
		return nil, err
	}
	return lmm.NewSpectral(values, vectors, samples)
}

func writeSpectral(prefix string, s *lmm.Spectral) error {
	err := writeNumpyFloat64(prefix+".values.npy", s.Values, len(s.Values))
	if err != nil {
		return err
	}
	rows, cols := s.Vectors.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, s.Vectors.RawRowView(i)...)
	}
	err = writeNumpyFloat64(prefix+".vectors.npy", data, rows, cols)
	if err != nil {
		return err
	}
	return writeSamples(prefix+".samples.txt", s.Samples)
}
