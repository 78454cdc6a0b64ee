package roi

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

// createTestMask returns a 4x4x3 mask with the given voxels set to 1
func createTestMask(voxels ...[3]int) *models.Volume {
	mask := models.NewVolume(4, 4, 3, 1)
	for _, v := range voxels {
		mask.Set(v[0], v[1], v[2], 0, 1)
	}
	return mask
}

func scaledAffine(sx, sy, sz, tx, ty, tz float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		sx, 0, 0, tx,
		0, sy, 0, ty,
		0, 0, sz, tz,
		0, 0, 0, 1,
	})
}

func TestFindIndex(t *testing.T) {
	mask := createTestMask([3]int{2, 1, 0}, [3]int{1, 3, 2}, [3]int{3, 0, 0}, [3]int{0, 2, 0})
	mask.Set(0, 0, 1, 0, math.NaN())
	mask.Set(1, 1, 1, 0, -5)

	set := FindIndex(mask, 0)
	if set.Len() != 4 {
		t.Fatalf("Expected 4 voxels, got %d", set.Len())
	}

	// slice 0 in y-then-x order, then slice 2
	want := [][3]float64{{3, 0, 0}, {2, 1, 0}, {0, 2, 0}, {1, 3, 2}}
	for j, w := range want {
		for i := 0; i < 3; i++ {
			if got := set.Coords.At(i, j); got != w[i] {
				t.Errorf("Voxel %d axis %d: expected %v, got %v", j, i, w[i], got)
			}
		}
	}

	if !mat.Equal(set.Affine, mask.Affine) {
		t.Error("Expected the mask affine to be returned with the coordinates")
	}
}

func TestFindIndexThreshold(t *testing.T) {
	mask := models.NewVolume(3, 1, 1, 1)
	mask.Data = []float64{0.5, 1, 2}

	tests := []struct {
		threshold float64
		want      int
	}{
		{0, 3},
		{0.5, 2},
		{1.5, 1},
		{2, 0},
	}
	for _, tt := range tests {
		if got := FindIndex(mask, tt.threshold).Len(); got != tt.want {
			t.Errorf("Threshold %v: expected %d voxels, got %d", tt.threshold, tt.want, got)
		}
	}

	if FindIndex(mask, 2).Coords != nil {
		t.Error("Expected nil coordinates for an empty set")
	}
}

func TestRemapRoundTrip(t *testing.T) {
	mask := createTestMask([3]int{1, 2, 0}, [3]int{3, 3, 2}, [3]int{0, 0, 1})
	mask.Affine = scaledAffine(-2, 2, 2, 90, -126, -72)

	set := FindIndex(mask, 0)
	out, err := Remap(set, mask.Affine)
	if err != nil {
		t.Fatalf("Remap failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Expected 1 coordinate matrix, got %d", len(out))
	}
	if !mat.EqualApprox(out[0], set.Coords, 1e-9) {
		t.Errorf("Expected identical coordinates, got %v want %v",
			mat.Formatted(out[0]), mat.Formatted(set.Coords))
	}
}

func TestRemapDifferentGrid(t *testing.T) {
	mask := createTestMask([3]int{2, 2, 2})
	mask.Affine = scaledAffine(2, 2, 2, 0, 0, 0)

	// target with 1mm voxels shifted by 1mm along x
	target := scaledAffine(1, 1, 1, 1, 0, 0)

	out, err := Remap(FindIndex(mask, 0), target, mask.Affine)
	if err != nil {
		t.Fatalf("Remap failed: %v", err)
	}

	want := []float64{3, 4, 4}
	for i, w := range want {
		if got := out[0].At(i, 0); math.Abs(got-w) > 1e-9 {
			t.Errorf("Axis %d: expected %v, got %v", i, w, got)
		}
	}
	if got := out[1].At(0, 0); math.Abs(got-2) > 1e-9 {
		t.Errorf("Expected second target to map back to 2, got %v", got)
	}
}

func TestRemapSingularTransform(t *testing.T) {
	mask := createTestMask([3]int{1, 1, 1})
	singular := scaledAffine(1, 1, 0, 0, 0, 0)

	out, err := Remap(FindIndex(mask, 0), mask.Affine, singular)
	if !errors.Is(err, models.ErrSingularTransform) {
		t.Fatalf("Expected ErrSingularTransform, got %v", err)
	}
	if out != nil {
		t.Errorf("Expected no partial output, got %d matrices", len(out))
	}
}

func TestRemapSmallVoxels(t *testing.T) {
	mask := createTestMask([3]int{1, 2, 0}, [3]int{3, 3, 2})
	// 10 micron grid: determinant 1e-15
	mask.Affine = scaledAffine(1e-5, 1e-5, 1e-5, 0.2, -0.1, 0.05)
	target := scaledAffine(2e-5, 2e-5, 2e-5, 0.2, -0.1, 0.05)

	set := FindIndex(mask, 0)
	out, err := Remap(set, mask.Affine, target)
	if err != nil {
		t.Fatalf("Remap failed for a small-voxel affine: %v", err)
	}
	if !mat.EqualApprox(out[0], set.Coords, 1e-6) {
		t.Errorf("Expected identical coordinates, got %v", mat.Formatted(out[0]))
	}
	if got := out[1].At(0, 1); math.Abs(got-1.5) > 1e-6 {
		t.Errorf("Expected x 1.5 on the coarser grid, got %v", got)
	}

	// x and y axes nearly parallel at the same small scale
	degenerate := mat.NewDense(4, 4, []float64{
		1e-5, 1e-5, 0, 0,
		0, 1e-20, 0, 0,
		0, 0, 1e-5, 0,
		0, 0, 0, 1,
	})
	if _, err := Remap(set, degenerate); !errors.Is(err, models.ErrSingularTransform) {
		t.Errorf("Expected ErrSingularTransform for parallel axes, got %v", err)
	}
}

func TestRemapEmptySet(t *testing.T) {
	mask := createTestMask()

	out, err := Remap(FindIndex(mask, 0), mask.Affine)
	if err != nil {
		t.Fatalf("Remap failed: %v", err)
	}
	if len(out) != 1 || out[0] != nil {
		t.Errorf("Expected one nil matrix, got %v", out)
	}
}

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"plain", []float64{1, 2, 3}, 2},
		{"nan counts as zero", []float64{2, math.NaN()}, 1},
		{"all nan", []float64{math.NaN(), math.NaN()}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.values); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	if got := Mean(nil); !math.IsNaN(got) {
		t.Errorf("Expected NaN for empty input, got %v", got)
	}
}

func TestMeanInMask(t *testing.T) {
	mask := createTestMask([3]int{1, 1, 1}, [3]int{2, 2, 1})

	target := models.NewVolume(4, 4, 3, 1)
	target.Set(1, 1, 1, 0, 2.0)
	target.Set(2, 2, 1, 0, math.NaN())
	target.Set(0, 0, 0, 0, 100)

	got, err := MeanInMask(mask, target, 0, Nearest)
	if err != nil {
		t.Fatalf("MeanInMask failed: %v", err)
	}
	if got != 1.0 {
		t.Errorf("Expected mean 1.0, got %v", got)
	}

	if _, err := MeanInMask(createTestMask(), target, 0, Nearest); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for an empty mask, got %v", err)
	}
}

func TestSample(t *testing.T) {
	v := models.NewVolume(2, 2, 2, 1)
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	coords := mat.NewDense(3, 4, []float64{
		0.4, 0.5, 1, 5,
		0, 0.5, 1, 0,
		0, 0.5, 1, 0,
	})

	nearestValues := Sample(v, coords, Nearest)
	if nearestValues[0] != 0 {
		t.Errorf("Expected 0 for nearest sample, got %v", nearestValues[0])
	}
	if nearestValues[2] != 7 {
		t.Errorf("Expected corner value 7, got %v", nearestValues[2])
	}
	if !math.IsNaN(nearestValues[3]) {
		t.Errorf("Expected NaN outside the grid, got %v", nearestValues[3])
	}

	linear := Sample(v, coords, Trilinear)
	if math.Abs(linear[1]-3.5) > 1e-12 {
		t.Errorf("Expected centre value 3.5, got %v", linear[1])
	}
	if math.Abs(linear[0]-0.4) > 1e-12 {
		t.Errorf("Expected 0.4 along x, got %v", linear[0])
	}
	if linear[2] != 7 {
		t.Errorf("Expected on-grid corner value 7, got %v", linear[2])
	}
	if !math.IsNaN(linear[3]) {
		t.Errorf("Expected NaN outside the grid, got %v", linear[3])
	}
}

func TestParseInterpolation(t *testing.T) {
	if m, err := ParseInterpolation("trilinear"); err != nil || m != Trilinear {
		t.Errorf("Expected Trilinear, got %v (%v)", m, err)
	}
	if m, err := ParseInterpolation(""); err != nil || m != Nearest {
		t.Errorf("Expected Nearest default, got %v (%v)", m, err)
	}
	if _, err := ParseInterpolation("cubic"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
