package roi

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

// Interpolation selects how off-grid positions are sampled
type Interpolation int

const (
	// Nearest rounds each coordinate to the closest voxel
	Nearest Interpolation = iota

	// Trilinear blends the eight surrounding voxels
	Trilinear
)

// ParseInterpolation accepts "nearest" and "trilinear"
func ParseInterpolation(name string) (Interpolation, error) {
	switch strings.ToLower(name) {
	case "", "nearest":
		return Nearest, nil
	case "trilinear", "linear":
		return Trilinear, nil
	default:
		return Nearest, fmt.Errorf("interpolation %q: %w", name, models.ErrInvalidInput)
	}
}

// Sample reads the first frame of v at each column of the 3xN coordinate
// matrix. Positions outside the grid produce NaN.
func Sample(v *models.Volume, coords *mat.Dense, method Interpolation) []float64 {
	return SampleFrame(v, 0, coords, method)
}

// SampleFrame is Sample for an arbitrary frame of a 4D volume
func SampleFrame(v *models.Volume, frame int, coords *mat.Dense, method Interpolation) []float64 {
	if coords == nil {
		return []float64{}
	}
	_, n := coords.Dims()
	values := make([]float64, n)
	for j := 0; j < n; j++ {
		x, y, z := coords.At(0, j), coords.At(1, j), coords.At(2, j)
		switch method {
		case Trilinear:
			values[j] = trilinear(v, frame, x, y, z)
		default:
			values[j] = nearest(v, frame, x, y, z)
		}
	}
	return values
}

func nearest(v *models.Volume, frame int, x, y, z float64) float64 {
	xi, yi, zi := int(math.Round(x)), int(math.Round(y)), int(math.Round(z))
	if !v.Contains(xi, yi, zi) {
		return math.NaN()
	}
	return v.At(xi, yi, zi, frame)
}

func trilinear(v *models.Volume, frame int, x, y, z float64) float64 {
	x0, y0, z0 := int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	var sum, weight float64
	for dz := 0; dz <= 1; dz++ {
		wz := fz
		if dz == 0 {
			wz = 1 - fz
		}
		for dy := 0; dy <= 1; dy++ {
			wy := fy
			if dy == 0 {
				wy = 1 - fy
			}
			for dx := 0; dx <= 1; dx++ {
				wx := fx
				if dx == 0 {
					wx = 1 - fx
				}
				w := wx * wy * wz
				if w == 0 {
					continue
				}
				if !v.Contains(x0+dx, y0+dy, z0+dz) {
					return math.NaN()
				}
				sum += w * v.At(x0+dx, y0+dy, z0+dz, frame)
				weight += w
			}
		}
	}
	if weight == 0 {
		return math.NaN()
	}
	return sum / weight
}
