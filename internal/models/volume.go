package models

import (
	"gonum.org/v1/gonum/mat"
)

// Volume represents a 3D or 4D image loaded into memory
type Volume struct {
	// Data is stored with x varying fastest, then y, z and frame
	Data []float64

	// Width, Height, Depth are the grid dimensions along x, y and z
	Width  int
	Height int
	Depth  int

	// Frames is the number of volumes along the fourth axis (1 for 3D images)
	Frames int

	// VoxelSize is the grid spacing in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Affine maps 0-based homogeneous voxel indices to world coordinates (4x4)
	Affine *mat.Dense
}

// NewVolume allocates a zero-filled volume with an identity affine.
func NewVolume(width, height, depth, frames int) *Volume {
	if frames < 1 {
		frames = 1
	}
	v := &Volume{
		Data:   make([]float64, width*height*depth*frames),
		Width:  width,
		Height: height,
		Depth:  depth,
		Frames: frames,
		Affine: mat.NewDense(4, 4, []float64{
			1, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		}),
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// Index returns the offset of voxel (x, y, z) in frame t
func (v *Volume) Index(x, y, z, t int) int {
	return ((t*v.Depth+z)*v.Height+y)*v.Width + x
}

// At returns the value of voxel (x, y, z) in frame t
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[v.Index(x, y, z, t)]
}

// Set assigns the value of voxel (x, y, z) in frame t
func (v *Volume) Set(x, y, z, t int, value float64) {
	v.Data[v.Index(x, y, z, t)] = value
}

// Contains reports whether (x, y, z) lies on the grid
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && x < v.Width && y >= 0 && y < v.Height && z >= 0 && z < v.Depth
}

// SameGrid reports whether two volumes share spatial dimensions
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}
