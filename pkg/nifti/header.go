// Package nifti reads and writes single-file NIfTI-1 images.
//
// Only the subset needed by the pipeline is implemented: uncompressed or
// gzip-compressed ".nii" files with numeric voxel types, the sform/qform
// orientation, intensity scaling, and float32 output. Extensions are skipped
// on read and never written.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"betaseries/internal/models"
)

const (
	headerSize  = 348
	dataOffset  = 352
	magicSingle = "n+1\x00"
)

// Datatype codes
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
	DTUint32  = 768
)

// Header mirrors the on-disk NIfTI-1 header field by field
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	DataType   int16
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32
	SliceDur   float32
	TOffset    float32
	GLMax      int32
	GLMin      int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// decodeHeader parses the header and detects the byte order from sizeof_hdr.
func decodeHeader(b []byte) (*Header, binary.ByteOrder, error) {
	if len(b) < headerSize {
		return nil, nil, fmt.Errorf("header is %d bytes, want %d: %w", len(b), headerSize, models.ErrInvalidInput)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(b[:4]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(b[:4]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("sizeof_hdr is not %d in either byte order: %w", headerSize, models.ErrInvalidInput)
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(b[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("decoding header: %w", err)
	}

	if string(h.Magic[:]) != magicSingle {
		return nil, nil, fmt.Errorf("magic %q: only single-file NIfTI-1 is supported: %w", h.Magic[:3], models.ErrInvalidInput)
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, nil, fmt.Errorf("dim[0] = %d not in [1, 7]: %w", h.Dim[0], models.ErrInvalidInput)
	}
	return h, order, nil
}

// Shape returns the x, y, z extents and the number of frames. Dimensions
// beyond the fourth are folded into frames.
func (h *Header) Shape() (nx, ny, nz, frames int) {
	extent := func(i int) int {
		if i > int(h.Dim[0]) || h.Dim[i] < 1 {
			return 1
		}
		return int(h.Dim[i])
	}
	frames = 1
	for i := 4; i <= 7; i++ {
		frames *= extent(i)
	}
	return extent(1), extent(2), extent(3), frames
}

// Affine returns the voxel-to-world transform, preferring the sform, then
// the qform, then plain voxel scaling.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SFormCode > 0:
		return mat.NewDense(4, 4, []float64{
			float64(h.SRowX[0]), float64(h.SRowX[1]), float64(h.SRowX[2]), float64(h.SRowX[3]),
			float64(h.SRowY[0]), float64(h.SRowY[1]), float64(h.SRowY[2]), float64(h.SRowY[3]),
			float64(h.SRowZ[0]), float64(h.SRowZ[1]), float64(h.SRowZ[2]), float64(h.SRowZ[3]),
			0, 0, 0, 1,
		})
	case h.QFormCode > 0:
		return h.quaternAffine()
	default:
		dx, dy, dz := h.spacing()
		return mat.NewDense(4, 4, []float64{
			dx, 0, 0, 0,
			0, dy, 0, 0,
			0, 0, dz, 0,
			0, 0, 0, 1,
		})
	}
}

// quaternAffine follows the NIfTI-1 qform definition
func (h *Header) quaternAffine() *mat.Dense {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		norm := 1 / math.Sqrt(b*b+c*c+d*d)
		a, b, c, d = 0, b*norm, c*norm, d*norm
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := h.spacing()
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
}

func (h *Header) spacing() (dx, dy, dz float64) {
	pick := func(v float32) float64 {
		if v <= 0 {
			return 1
		}
		return float64(v)
	}
	return pick(h.PixDim[1]), pick(h.PixDim[2]), pick(h.PixDim[3])
}

// newFloat32Header builds the header written for v
func newFloat32Header(v *models.Volume) *Header {
	h := &Header{
		SizeOfHdr: headerSize,
		Regular:   'r',
		DataType:  DTFloat32,
		BitPix:    32,
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: 2 | 8, // mm, seconds
		SFormCode: 2,
	}
	copy(h.Magic[:], magicSingle)

	h.Dim = [8]int16{3, int16(v.Width), int16(v.Height), int16(v.Depth), 1, 1, 1, 1}
	if v.Frames > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(v.Frames)
	}

	h.PixDim[0] = 1
	h.PixDim[1] = float32(v.VoxelSize.X)
	h.PixDim[2] = float32(v.VoxelSize.Y)
	h.PixDim[3] = float32(v.VoxelSize.Z)

	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(v.Affine.At(0, j))
		h.SRowY[j] = float32(v.Affine.At(1, j))
		h.SRowZ[j] = float32(v.Affine.At(2, j))
	}
	return h
}
