// Package roi extracts region-of-interest samples from image volumes.
//
// A mask volume is thresholded into a set of voxel coordinates, which are
// carried through the mask's voxel-to-world affine and the inverse of each
// target's affine into target voxel space. The target is then sampled at
// the remapped (generally off-grid) positions.
//
// Voxel indices are 0-based, matching the NIfTI convention used by the
// nifti package.
package roi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"betaseries/internal/models"
)

// singularTolerance bounds the determinant, relative to the product of the
// column norms, below which an affine is treated as non-invertible. The ratio
// is 1 for orthogonal columns whatever the voxel size.
const singularTolerance = 1e-12

// VoxelSet holds mask voxel coordinates and the mask affine
type VoxelSet struct {
	// Coords is a 3xN matrix of integer-valued voxel indices. It is nil
	// when no voxel passed the threshold.
	Coords *mat.Dense

	// Affine is the 4x4 voxel-to-world transform of the mask
	Affine *mat.Dense
}

// Len returns the number of voxels in the set
func (s VoxelSet) Len() int {
	if s.Coords == nil {
		return 0
	}
	_, n := s.Coords.Dims()
	return n
}

// FindIndex returns the coordinates of every voxel of the first frame of
// mask whose value is strictly greater than threshold. NaN counts as zero.
//
// Coordinates are ordered by slice (z ascending), then y, with x varying
// fastest.
func FindIndex(mask *models.Volume, threshold float64) VoxelSet {
	var xs, ys, zs []float64
	for z := 0; z < mask.Depth; z++ {
		for y := 0; y < mask.Height; y++ {
			for x := 0; x < mask.Width; x++ {
				value := mask.At(x, y, z, 0)
				if math.IsNaN(value) {
					value = 0
				}
				if value > threshold {
					xs = append(xs, float64(x))
					ys = append(ys, float64(y))
					zs = append(zs, float64(z))
				}
			}
		}
	}

	set := VoxelSet{Affine: mat.DenseCopyOf(mask.Affine)}
	if n := len(xs); n > 0 {
		data := make([]float64, 0, 3*n)
		data = append(data, xs...)
		data = append(data, ys...)
		data = append(data, zs...)
		set.Coords = mat.NewDense(3, n, data)
	}
	return set
}

// Remap converts the set's coordinates into the voxel space of each target
// affine. One 3xN matrix is returned per target, in order. Every target is
// checked before any output is produced, so a singular affine yields
// ErrSingularTransform and nothing else.
func Remap(set VoxelSet, targets ...*mat.Dense) ([]*mat.Dense, error) {
	inverses := make([]*mat.Dense, len(targets))
	for i, affine := range targets {
		inv, err := invertAffine(affine)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		inverses[i] = inv
	}

	out := make([]*mat.Dense, len(targets))
	n := set.Len()
	if n == 0 {
		return out, nil
	}

	homogeneous := mat.NewDense(4, n, nil)
	homogeneous.Slice(0, 3, 0, n).(*mat.Dense).Copy(set.Coords)
	for j := 0; j < n; j++ {
		homogeneous.Set(3, j, 1)
	}

	var world mat.Dense
	world.Mul(set.Affine, homogeneous)

	for i, inv := range inverses {
		var voxels mat.Dense
		voxels.Mul(inv, &world)
		out[i] = mat.DenseCopyOf(voxels.Slice(0, 3, 0, n))
	}
	return out, nil
}

func invertAffine(affine *mat.Dense) (*mat.Dense, error) {
	if affine == nil {
		return nil, fmt.Errorf("nil affine: %w", models.ErrSingularTransform)
	}
	if r, c := affine.Dims(); r != 4 || c != 4 {
		return nil, fmt.Errorf("affine is %dx%d, want 4x4: %w", r, c, models.ErrSingularTransform)
	}
	det := mat.Det(affine)
	scale := 1.0
	for j := 0; j < 4; j++ {
		scale *= mat.Norm(affine.ColView(j), 2)
	}
	if math.IsNaN(det) || scale == 0 || math.Abs(det)/scale < singularTolerance {
		return nil, fmt.Errorf("determinant %g: %w", det, models.ErrSingularTransform)
	}

	var inv mat.Dense
	if err := inv.Inverse(affine); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrSingularTransform)
	}
	return &inv, nil
}

// Mean returns the arithmetic mean of values with NaN replaced by zero.
// NaN samples still count towards the denominator. An empty input yields NaN.
func Mean(values []float64) float64 {
	cleaned := make([]float64, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			cleaned[i] = v
		}
	}
	return stat.Mean(cleaned, nil)
}

// MeanInMask samples target inside the mask and returns the NaN-as-zero mean.
// An empty mask is reported as ErrInvalidInput rather than a NaN result.
func MeanInMask(mask, target *models.Volume, threshold float64, method Interpolation) (float64, error) {
	set := FindIndex(mask, threshold)
	if set.Len() == 0 {
		return math.NaN(), fmt.Errorf("no mask voxels above %g: %w", threshold, models.ErrInvalidInput)
	}

	coords, err := Remap(set, target.Affine)
	if err != nil {
		return math.NaN(), err
	}
	return Mean(Sample(target, coords[0], method)), nil
}
