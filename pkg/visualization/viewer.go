// Package visualization renders quality-control slices of volumes with an
// ROI overlay.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

// overlayColor marks ROI voxels
var overlayColor = color.RGBA{R: 255, A: 255}

// Viewer renders one frame of a volume as 2D slices
type Viewer struct {
	volume *models.Volume
	frame  int

	// low and high bound the gray-level window
	low, high float64

	// overlay holds ROI voxels in the volume's grid
	overlay map[[3]int]bool
}

// NewViewer creates a viewer for a frame of v, windowed to the frame's
// finite value range.
func NewViewer(v *models.Volume, frame int) (*Viewer, error) {
	if frame < 0 || frame >= v.Frames {
		return nil, fmt.Errorf("frame %d outside [0, %d): %w", frame, v.Frames, models.ErrInvalidInput)
	}

	n := v.Width * v.Height * v.Depth
	var finite []float64
	for _, value := range v.Data[frame*n : (frame+1)*n] {
		if !math.IsNaN(value) && !math.IsInf(value, 0) {
			finite = append(finite, value)
		}
	}

	viewer := &Viewer{volume: v, frame: frame, overlay: make(map[[3]int]bool)}
	if len(finite) > 0 {
		viewer.low, viewer.high = floats.Min(finite), floats.Max(finite)
	}
	return viewer, nil
}

// SetOverlay marks the voxels of a 3xN coordinate matrix in the viewer's
// grid, rounding to the nearest voxel. Coordinates outside the grid are
// dropped. A nil matrix clears the overlay.
func (v *Viewer) SetOverlay(coords *mat.Dense) {
	v.overlay = make(map[[3]int]bool)
	if coords == nil {
		return
	}
	_, n := coords.Dims()
	for j := 0; j < n; j++ {
		x := int(math.Round(coords.At(0, j)))
		y := int(math.Round(coords.At(1, j)))
		z := int(math.Round(coords.At(2, j)))
		if v.volume.Contains(x, y, z) {
			v.overlay[[3]int{x, y, z}] = true
		}
	}
}

// OverlaySlices returns the positions along axis that contain overlay
// voxels, in ascending order.
func (v *Viewer) OverlaySlices(axis string) ([]int, error) {
	component, err := axisComponent(axis)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	for voxel := range v.overlay {
		seen[voxel[component]] = true
	}
	positions := make([]int, 0, len(seen))
	for pos := range seen {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions, nil
}

// ExtractSlice renders the slice at position along axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	component, err := axisComponent(axis)
	if err != nil {
		return nil, err
	}
	size := [3]int{v.volume.Width, v.volume.Height, v.volume.Depth}
	if position < 0 || position >= size[component] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s: %w", position, size[component], axis, models.ErrInvalidInput)
	}

	// pixel (u, w) maps to voxel components (cu, cw)
	var cu, cw int
	switch component {
	case 0:
		cu, cw = 2, 1
	case 1:
		cu, cw = 0, 2
	default:
		cu, cw = 0, 1
	}

	img := image.NewRGBA(image.Rect(0, 0, size[cu], size[cw]))
	for w := 0; w < size[cw]; w++ {
		for u := 0; u < size[cu]; u++ {
			var voxel [3]int
			voxel[component] = position
			voxel[cu] = u
			voxel[cw] = w
			if v.overlay[voxel] {
				img.SetRGBA(u, w, overlayColor)
				continue
			}
			g := v.gray(v.volume.At(voxel[0], voxel[1], voxel[2], v.frame))
			img.SetRGBA(u, w, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img, nil
}

func (v *Viewer) gray(value float64) uint8 {
	if math.IsNaN(value) || v.high <= v.low {
		return 0
	}
	scaled := (value - v.low) / (v.high - v.low) * 255
	return uint8(math.Max(0, math.Min(255, math.Round(scaled))))
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence renders the given positions along axis into outputDir,
// or every position when none are given. Files are named
// slice_<axis>_<position>.png.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, positions ...int) ([]string, error) {
	component, err := axisComponent(axis)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		size := [3]int{v.volume.Width, v.volume.Height, v.volume.Depth}[component]
		for pos := 0; pos < size; pos++ {
			positions = append(positions, pos)
		}
	}

	files := make([]string, 0, len(positions))
	for _, pos := range positions {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, err
		}
		files = append(files, filename)
	}
	return files, nil
}

func axisComponent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z): %w", axis, models.ErrInvalidInput)
	}
}
