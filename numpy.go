package eigenlmm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// writeNumpyFloat64 writes out (row-major) as a float64 .npy array
// with the given shape.
func writeNumpyFloat64(fnm string, out []float64, shape ...int) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	bufw := bufio.NewWriterSize(output, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"filename": fnm,
		"shape":    shape,
		"bytes":    len(out) * 8,
	}).Infof("writing numpy: %s", fnm)
	npw.Shape = shape
	err = npw.WriteFloat64(out)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return output.Close()
}

// readNumpy reads a float or integer .npy array and returns its
// values as float64 in row-major order. Negative values in integer
// arrays are missing calls and become NaN.
func readNumpy(fnm string) ([]float64, []int, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	var data []float64
	switch npy.Dtype {
	case "f8":
		data, err = npy.GetFloat64()
	case "f4":
		var v []float32
		v, err = npy.GetFloat32()
		data = make([]float64, len(v))
		for i, x := range v {
			data[i] = float64(x)
		}
	case "i1":
		var v []int8
		v, err = npy.GetInt8()
		data = make([]float64, len(v))
		for i, x := range v {
			data[i] = intValue(int64(x))
		}
	case "i2":
		var v []int16
		v, err = npy.GetInt16()
		data = make([]float64, len(v))
		for i, x := range v {
			data[i] = intValue(int64(x))
		}
	case "i4":
		var v []int32
		v, err = npy.GetInt32()
		data = make([]float64, len(v))
		for i, x := range v {
			data[i] = intValue(int64(x))
		}
	default:
		return nil, nil, fmt.Errorf("%s: unsupported dtype %q", fnm, npy.Dtype)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", fnm, err)
	}
	shape := npy.Shape
	if npy.ColumnMajor && len(shape) == 2 {
		data = transposed(data, shape[1], shape[0])
	}
	return data, shape, nil
}

func intValue(x int64) float64 {
	if x < 0 {
		return math.NaN()
	}
	return float64(x)
}

// transposed converts a rows x cols row-major slice to column-major
// (equivalently, a column-major slice to row-major with the
// dimensions swapped).
func transposed(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}

func readNumpyMatrix(fnm string) (*mat.Dense, error) {
	data, shape, err := readNumpy(fnm)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, fmt.Errorf("%s: shape %v is not a non-empty matrix", fnm, shape)
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

func readNumpyVector(fnm string) ([]float64, error) {
	data, shape, err := readNumpy(fnm)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("%s: shape %v is not a vector", fnm, shape)
	}
	return data, nil
}
