// Package mrc reads and writes density maps in the MRC/CCP4 format used for
// cryo-EM reconstructions. Only the header fields and voxel modes needed to
// evaluate threshold metrics are supported.
package mrc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"autothreshold/internal/models"
)

// HeaderSize is the size of the fixed MRC header in bytes
const HeaderSize = 1024

// MaxVoxels bounds the grid a header may describe
const MaxVoxels = 1 << 30

// Voxel storage modes
const (
	ModeInt8    = 0
	ModeInt16   = 1
	ModeFloat32 = 2
	ModeUint16  = 6
)

var (
	// ErrUnsupportedMode is returned for voxel modes other than 0, 1, 2 and 6
	ErrUnsupportedMode = errors.New("unsupported MRC mode")

	// ErrInvalidHeader is returned when the header describes an empty or
	// negative grid
	ErrInvalidHeader = errors.New("invalid MRC header")
)

// Header mirrors the 1024-byte MRC2014 header
type Header struct {
	NX, NY, NZ                int32
	Mode                      int32
	NXStart, NYStart, NZStart int32
	MX, MY, MZ                int32
	CellA                     [3]float32
	CellB                     [3]float32
	MapC, MapR, MapS          int32
	DMin, DMax, DMean         float32
	ISPG                      int32
	NSymBT                    int32
	Extra                     [100]byte
	Origin                    [3]float32
	Map                       [4]byte
	MachStamp                 [4]byte
	RMS                       float32
	NLabels                   int32
	Labels                    [10][80]byte
}

// Voxels returns the number of voxels described by the header
func (h *Header) Voxels() int {
	return int(h.NX) * int(h.NY) * int(h.NZ)
}

// VoxelSize returns the voxel edge lengths, falling back to 1 along axes
// whose cell or sampling is unset
func (h *Header) VoxelSize() (x, y, z float64) {
	size := func(cell float32, m int32) float64 {
		if cell <= 0 || m <= 0 {
			return 1
		}
		return float64(cell) / float64(m)
	}
	return size(h.CellA[0], h.MX), size(h.CellA[1], h.MY), size(h.CellA[2], h.MZ)
}

// byteOrder picks the endianness from the machine stamp
func byteOrder(raw []byte) binary.ByteOrder {
	if raw[212] == 0x11 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func bytesPerVoxel(mode int32) (int, error) {
	switch mode {
	case ModeInt8:
		return 1, nil
	case ModeInt16, ModeUint16:
		return 2, nil
	case ModeFloat32:
		return 4, nil
	default:
		return 0, fmt.Errorf("mode %d: %w", mode, ErrUnsupportedMode)
	}
}

// ReadHeader reads only the header of the map at path
func ReadHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	h, _, err := readHeader(file)
	return h, err
}

func readHeader(r io.Reader) (*Header, binary.ByteOrder, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	order := byteOrder(raw)
	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw), order, h); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %w", err)
	}

	if h.NX <= 0 || h.NY <= 0 || h.NZ <= 0 {
		return nil, nil, fmt.Errorf("grid %dx%dx%d: %w", h.NX, h.NY, h.NZ, ErrInvalidHeader)
	}
	// int32 factors: checking after each product keeps int64 from overflowing
	if n := int64(h.NX) * int64(h.NY); n > MaxVoxels || n*int64(h.NZ) > MaxVoxels {
		return nil, nil, fmt.Errorf("grid %dx%dx%d exceeds %d voxels: %w", h.NX, h.NY, h.NZ, MaxVoxels, ErrInvalidHeader)
	}
	if h.NSymBT < 0 {
		return nil, nil, fmt.Errorf("extended header size %d: %w", h.NSymBT, ErrInvalidHeader)
	}
	if _, err := bytesPerVoxel(h.Mode); err != nil {
		return nil, nil, err
	}

	return h, order, nil
}

// ReadFile loads the density map at path
func ReadFile(path string) (*models.Volume, *Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, err
	}
	h, _, err := readHeader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	size, _ := bytesPerVoxel(h.Mode)
	if need := int64(HeaderSize) + int64(h.NSymBT) + int64(h.Voxels())*int64(size); info.Size() < need {
		return nil, nil, fmt.Errorf("%s: file has %d bytes, header describes %d: %w", path, info.Size(), need, ErrInvalidHeader)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}

	vol, h, err := Read(bufio.NewReader(file))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, h, nil
}

// Read decodes a density map from r
func Read(r io.Reader) (*models.Volume, *Header, error) {
	h, order, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	if h.NSymBT > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.NSymBT)); err != nil {
			return nil, nil, fmt.Errorf("failed to skip extended header: %w", err)
		}
	}

	size, _ := bytesPerVoxel(h.Mode)
	n := h.Voxels()
	// grows with the data actually present rather than the header's claim
	raw, err := io.ReadAll(io.LimitReader(r, int64(n)*int64(size)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %d voxels: %w", n, err)
	}
	if len(raw) < n*size {
		return nil, nil, fmt.Errorf("failed to read %d voxels: %w", n, io.ErrUnexpectedEOF)
	}

	vol := models.NewVolume(int(h.NX), int(h.NY), int(h.NZ))
	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = h.VoxelSize()

	for i := 0; i < n; i++ {
		switch h.Mode {
		case ModeInt8:
			vol.Data[i] = float64(int8(raw[i]))
		case ModeInt16:
			vol.Data[i] = float64(int16(order.Uint16(raw[2*i:])))
		case ModeUint16:
			vol.Data[i] = float64(order.Uint16(raw[2*i:]))
		case ModeFloat32:
			vol.Data[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		}
	}

	return vol, h, nil
}

// NewHeader builds a little-endian float32 header describing vol, with
// density statistics computed from its voxels
func NewHeader(vol *models.Volume) *Header {
	h := &Header{
		NX:   int32(vol.Width),
		NY:   int32(vol.Height),
		NZ:   int32(vol.Depth),
		Mode: ModeFloat32,
		MX:   int32(vol.Width),
		MY:   int32(vol.Height),
		MZ:   int32(vol.Depth),
		MapC: 1,
		MapR: 2,
		MapS: 3,
		ISPG: 1,
	}
	h.CellA[0] = float32(vol.VoxelSize.X * float64(vol.Width))
	h.CellA[1] = float32(vol.VoxelSize.Y * float64(vol.Height))
	h.CellA[2] = float32(vol.VoxelSize.Z * float64(vol.Depth))
	h.CellB = [3]float32{90, 90, 90}
	copy(h.Map[:], "MAP ")
	h.MachStamp = [4]byte{0x44, 0x44, 0, 0}

	if len(vol.Data) > 0 {
		mean, std := stat.MeanStdDev(vol.Data, nil)
		if math.IsNaN(std) {
			std = 0
		}
		h.DMin = float32(floats.Min(vol.Data))
		h.DMax = float32(floats.Max(vol.Data))
		h.DMean = float32(mean)
		h.RMS = float32(std)
	}
	return h
}

// Write encodes vol as a mode 2 little-endian map
func Write(w io.Writer, vol *models.Volume) error {
	if vol.Len() <= 0 || len(vol.Data) != vol.Len() {
		return fmt.Errorf("volume %dx%dx%d with %d voxels: %w",
			vol.Width, vol.Height, vol.Depth, len(vol.Data), ErrInvalidHeader)
	}

	if err := binary.Write(w, binary.LittleEndian, NewHeader(vol)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	buf := make([]byte, 4*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write voxels: %w", err)
	}
	return nil
}

// WriteFile writes vol to path, replacing any existing file
func WriteFile(path string, vol *models.Volume) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create map file: %w", err)
	}

	bw := bufio.NewWriter(file)
	if err := Write(bw, vol); err != nil {
		file.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to flush map file: %w", err)
	}
	return file.Close()
}
