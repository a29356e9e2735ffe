package lmm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Result is one row of association output.
type Result struct {
	SIDIndex    int
	SNP         string
	Chr         float64
	GenDist     float64
	ChrPos      float64
	PValue      float64
	SnpWeight   float64
	SnpWeightSE float64 // NaN when the test likelihood is REML
	Nullh2      float64
}

// Table is the full output of a scan, one row per test variant.
type Table []Result

var tableHeader = []string{"sid_index", "SNP", "Chr", "GenDist", "ChrPos", "PValue", "SnpWeight", "SnpWeightSE", "Nullh2"}

// Sort orders rows by ascending p-value. Ties keep their input order
// and NaN sorts last.
func (t Table) Sort() {
	sort.SliceStable(t, func(i, j int) bool {
		pi, pj := t[i].PValue, t[j].PValue
		if math.IsNaN(pj) {
			return !math.IsNaN(pi)
		}
		return pi < pj
	})
}

// WriteTSV writes a header line and one tab separated line per row.
// NaN values are written as empty fields.
func (t Table) WriteTSV(w io.Writer) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintln(bufw, strings.Join(tableHeader, "\t"))
	for _, r := range t {
		fmt.Fprintf(bufw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SIDIndex, r.SNP,
			formatFloat(r.Chr), formatFloat(r.GenDist), formatFloat(r.ChrPos),
			formatFloat(r.PValue), formatFloat(r.SnpWeight), formatFloat(r.SnpWeightSE),
			formatFloat(r.Nullh2))
	}
	return bufw.Flush()
}

// WriteFile writes the table to path, creating parent directories as
// needed.
func (t Table) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		err := os.MkdirAll(dir, 0777)
		if err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = t.WriteTSV(f)
	if err != nil {
		return err
	}
	return f.Close()
}

// Digest returns the hex blake2b-256 hash of the table's TSV
// rendering.
func (t Table) Digest() string {
	var buf bytes.Buffer
	t.WriteTSV(&buf)
	return fmt.Sprintf("%x", blake2b.Sum256(buf.Bytes()))
}

// formatFloat renders x the shortest way that round-trips, with a
// trailing ".0" on integral values so positions read as floats.
func formatFloat(x float64) string {
	switch {
	case math.IsNaN(x):
		return ""
	case math.IsInf(x, 1):
		return "inf"
	case math.IsInf(x, -1):
		return "-inf"
	}
	if ax := math.Abs(x); ax != 0 && (ax < 1e-4 || ax >= 1e16) {
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	s := strconv.FormatFloat(x, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
