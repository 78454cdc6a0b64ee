package glm

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

// ReadMatrix loads a 2D matrix from a numpy .npy file or from a
// whitespace-separated text file such as a motion-parameter file.
func ReadMatrix(path string) (*mat.Dense, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("matrix %s: %w", path, models.ErrMissingInput)
		}
		return nil, fmt.Errorf("matrix %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".npy") {
		return readNpy(path)
	}
	return readText(path)
}

func readNpy(path string) (*mat.Dense, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var rows, cols int
	switch len(r.Shape) {
	case 1:
		rows, cols = r.Shape[0], 1
	case 2:
		rows, cols = r.Shape[0], r.Shape[1]
	default:
		return nil, fmt.Errorf("%s has %d dimensions, want 1 or 2: %w", path, len(r.Shape), models.ErrInvalidInput)
	}

	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%s is empty: %w", path, models.ErrInvalidInput)
	}

	if r.ColumnMajor {
		m := mat.NewDense(cols, rows, data)
		return mat.DenseCopyOf(m.T()), nil
	}
	return mat.NewDense(rows, cols, data), nil
}

func readText(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var data []float64
	rows, cols := 0, 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.FieldsFunc(scanner.Text(), func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%s line %d has %d columns, want %d: %w",
				path, rows+1, len(fields), cols, models.ErrInvalidInput)
		}
		for _, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %v: %w", path, rows+1, err, models.ErrInvalidInput)
			}
			data = append(data, value)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s is empty: %w", path, models.ErrInvalidInput)
	}

	return mat.NewDense(rows, cols, data), nil
}

// WriteMatrix stores m as a row-major float64 .npy file
func WriteMatrix(path string, m mat.Matrix) error {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data = append(data, m.At(i, j))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating matrix directory: %w", err)
	}

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	w.Shape = []int{rows, cols}
	if err := w.WriteFloat64(data); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
