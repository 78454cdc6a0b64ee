package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"betaseries/internal/models"
)

// Read loads a NIfTI-1 image. Files ending in ".gz" are decompressed.
func Read(path string) (*models.Volume, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	nx, ny, nz, frames := h.Shape()
	v := &models.Volume{
		Width:  nx,
		Height: ny,
		Depth:  nz,
		Frames: frames,
		Affine: h.Affine(),
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = h.spacing()

	offset := int(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	v.Data, err = decodeData(raw[min(offset, len(raw)):], h.DataType, nx*ny*nz*frames, order)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if slope := float64(h.SclSlope); slope != 0 && !(slope == 1 && h.SclInter == 0) {
		inter := float64(h.SclInter)
		for i, value := range v.Data {
			v.Data[i] = value*slope + inter
		}
	}
	return v, nil
}

// ReadHeader loads only the header of a NIfTI-1 image
func ReadHeader(path string) (*Header, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	h, _, err := decodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image %s: %w", path, models.ErrMissingInput)
		}
		return nil, fmt.Errorf("opening image %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", path, err)
	}
	return raw, nil
}

func decodeData(b []byte, dataType int16, n int, order binary.ByteOrder) ([]float64, error) {
	size := map[int16]int{
		DTUint8: 1, DTInt8: 1,
		DTInt16: 2, DTUint16: 2,
		DTInt32: 4, DTUint32: 4, DTFloat32: 4,
		DTFloat64: 8,
	}[dataType]
	if size == 0 {
		return nil, fmt.Errorf("unsupported datatype %d: %w", dataType, models.ErrInvalidInput)
	}
	if len(b) < n*size {
		return nil, fmt.Errorf("voxel data is %d bytes, want %d: %w", len(b), n*size, models.ErrInvalidInput)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		p := b[i*size : (i+1)*size]
		switch dataType {
		case DTUint8:
			out[i] = float64(p[0])
		case DTInt8:
			out[i] = float64(int8(p[0]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(p)))
		case DTUint16:
			out[i] = float64(order.Uint16(p))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(p)))
		case DTUint32:
			out[i] = float64(order.Uint32(p))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(p)))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(p))
		}
	}
	return out, nil
}

// Write stores v as a little-endian float32 NIfTI-1 image with its affine
// in the sform. Parent directories are created; ".gz" paths are compressed.
func Write(path string, v *models.Volume) error {
	if len(v.Data) != v.Width*v.Height*v.Depth*v.Frames {
		return fmt.Errorf("volume has %d values for a %dx%dx%dx%d grid: %w",
			len(v.Data), v.Width, v.Height, v.Depth, v.Frames, models.ErrInvalidInput)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, newFloat32Header(v)); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	buf.Write(make([]byte, dataOffset-headerSize))

	data := make([]float32, len(v.Data))
	for i, value := range v.Data {
		data[i] = float32(value)
	}
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("encoding voxel data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating image directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating image %s: %w", path, err)
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".gz") {
		if _, err := f.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("writing image %s: %w", path, err)
		}
		return nil
	}

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing image %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing image %s: %w", path, err)
	}
	return nil
}
