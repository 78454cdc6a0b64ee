package nifti

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

// Concatenator merges 3D images into a single 4D image
type Concatenator interface {
	Concatenate(paths []string, out string) error
}

// FileConcatenator is the Concatenator backed by Read and Write
type FileConcatenator struct{}

// Concatenate implements Concatenator
func (FileConcatenator) Concatenate(paths []string, out string) error {
	return Concatenate(paths, out)
}

// Concatenate stacks the frames of every input, in order, into one image
// written to out. All inputs must share the grid of the first; the output
// takes the first image's affine.
func Concatenate(paths []string, out string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no images to concatenate into %s: %w", out, models.ErrInvalidInput)
	}

	var merged *models.Volume
	for _, path := range paths {
		v, err := Read(path)
		if err != nil {
			return err
		}

		if merged == nil {
			merged = &models.Volume{
				Width:     v.Width,
				Height:    v.Height,
				Depth:     v.Depth,
				VoxelSize: v.VoxelSize,
				Affine:    mat.DenseCopyOf(v.Affine),
				Data:      make([]float64, 0, len(v.Data)*len(paths)),
			}
		} else if !merged.SameGrid(v) {
			return fmt.Errorf("%s is %dx%dx%d, want %dx%dx%d: %w", path,
				v.Width, v.Height, v.Depth, merged.Width, merged.Height, merged.Depth, models.ErrInvalidInput)
		}

		merged.Data = append(merged.Data, v.Data...)
		merged.Frames += v.Frames
	}

	return Write(out, merged)
}
