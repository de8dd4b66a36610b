// Package grid reads and writes dense signed distance grids.
//
// File layout, little endian:
//
//	int32   nx, ny, nz
//	float32 min[3]
//	float32 max[3]
//	float32 values[nx*ny*nz]   // x varies fastest
package grid

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 36

var (
	ErrBadHeader = errors.New("grid: invalid header")
	ErrShortData = errors.New("grid: payload shorter than header dimensions")
)

// Header is the fixed prefix of a grid file.
type Header struct {
	NX, NY, NZ int32
	Min        [3]float32
	Max        [3]float32
}

// Cells returns nx*ny*nz.
func (h Header) Cells() int { return int(h.NX) * int(h.NY) * int(h.NZ) }

// Spacing returns the cell size along X. Grids produced by the cache share it
// on every axis.
func (h Header) Spacing() float32 {
	if h.NX == 0 {
		return 0
	}
	return (h.Max[0] - h.Min[0]) / float32(h.NX)
}

// FileSize is the encoded size of a grid with this header.
func (h Header) FileSize() int64 { return HeaderSize + 4*int64(h.Cells()) }

func (h Header) validate() error {
	if h.NX <= 0 || h.NY <= 0 || h.NZ <= 0 {
		return fmt.Errorf("%w: dimensions %dx%dx%d", ErrBadHeader, h.NX, h.NY, h.NZ)
	}
	return nil
}

// Grid is a header plus its values.
type Grid struct {
	Header
	Values []float32
}

// New allocates a zeroed grid whose bounds are min and min + n*dx.
func New(nx, ny, nz int32, min [3]float32, dx float32) *Grid {
	g := &Grid{Header: Header{NX: nx, NY: ny, NZ: nz, Min: min}}
	g.Max = [3]float32{
		min[0] + float32(nx)*dx,
		min[1] + float32(ny)*dx,
		min[2] + float32(nz)*dx,
	}
	if n := g.Cells(); n > 0 {
		g.Values = make([]float32, n)
	}
	return g
}

func (g *Grid) Index(i, j, k int) int {
	return i + int(g.NX)*(j+int(g.NY)*k)
}

func (g *Grid) At(i, j, k int) float32     { return g.Values[g.Index(i, j, k)] }
func (g *Grid) Set(i, j, k int, v float32) { g.Values[g.Index(i, j, k)] = v }

// InsideCount returns the number of negative samples.
func (g *Grid) InsideCount() int {
	n := 0
	for _, v := range g.Values {
		if v < 0 {
			n++
		}
	}
	return n
}

// ReadHeader decodes only the header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	var h Header
	h.NX = int32(binary.LittleEndian.Uint32(buf[0:]))
	h.NY = int32(binary.LittleEndian.Uint32(buf[4:]))
	h.NZ = int32(binary.LittleEndian.Uint32(buf[8:]))
	for i := 0; i < 3; i++ {
		h.Min[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[12+4*i:]))
		h.Max[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[24+4*i:]))
	}
	return h, h.validate()
}

// Read decodes a full grid.
func Read(r io.Reader) (*Grid, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	g := &Grid{Header: h, Values: make([]float32, h.Cells())}
	if err := binary.Read(r, binary.LittleEndian, g.Values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShortData, err)
	}
	return g, nil
}

// Write encodes g.
func Write(w io.Writer, g *Grid) error {
	if err := g.validate(); err != nil {
		return err
	}
	if len(g.Values) != g.Cells() {
		return fmt.Errorf("%w: have %d values, want %d", ErrShortData, len(g.Values), g.Cells())
	}

	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(g.NX))
	binary.LittleEndian.PutUint32(buf[4:], uint32(g.NY))
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.NZ))
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(buf[12+4*i:], math.Float32bits(g.Min[i]))
		binary.LittleEndian.PutUint32(buf[24+4*i:], math.Float32bits(g.Max[i]))
	}
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write grid header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, g.Values); err != nil {
		return fmt.Errorf("failed to write grid values: %w", err)
	}
	return nil
}

// ReadFile reads the grid stored at path.
func ReadFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grid file: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f))
}

// ReadFileHeader reads the header of the grid stored at path.
func ReadFileHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to open grid file: %w", err)
	}
	defer f.Close()
	return ReadHeader(f)
}

// WriteFile writes g next to path under a temporary name and renames it into
// place, so readers never see a partially written grid.
func WriteFile(path string, g *Grid) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp grid file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set grid file mode: %w", err)
	}

	bw := bufio.NewWriterSize(tmp, 1<<16)
	if err := Write(bw, g); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush grid file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close grid file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move grid file into place: %w", err)
	}
	return nil
}
