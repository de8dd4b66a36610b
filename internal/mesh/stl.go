// Package mesh reads binary STL triangle soups and their bounds.
//
// Only the binary layout is understood: an 80-byte header, a little-endian
// uint32 triangle count, then 50 bytes per triangle (normal, three vertices,
// attribute word). ASCII STL is rejected as a malformed binary file.
package mesh

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	HeaderSize   = 80
	TriangleSize = 50
)

var (
	// ErrTooSmall means the input ended before the triangle count.
	ErrTooSmall = errors.New("mesh: file too small to be binary STL")

	// ErrTruncated means the input ended before the declared triangle count.
	ErrTruncated = errors.New("mesh: truncated triangle data")
)

// Face indexes three consecutive entries of Mesh.Vertices.
type Face [3]uint32

// Triangle is one facet as stored in the file, without its normal.
type Triangle [3]Vec3

// Mesh is an unwelded triangle soup.
type Mesh struct {
	Vertices []Vec3
	Faces    []Face
	Bounds   Box
}

// Load reads a binary STL file.
func Load(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open STL file: %w", err)
	}
	defer f.Close()

	m, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read decodes a binary STL stream. A stream that ends before the declared
// number of triangles yields ErrTruncated.
func Read(r io.Reader) (*Mesh, error) {
	var head [HeaderSize + 4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTooSmall
		}
		return nil, fmt.Errorf("failed to read STL header: %w", err)
	}
	count := binary.LittleEndian.Uint32(head[HeaderSize:])

	m := &Mesh{Bounds: EmptyBox()}
	// The count comes from the file; don't trust it for huge preallocations.
	if count <= 1<<20 {
		m.Vertices = make([]Vec3, 0, int(count)*3)
		m.Faces = make([]Face, 0, count)
	}

	var rec [TriangleSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: got %d of %d triangles", ErrTruncated, i, count)
			}
			return nil, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}

		base := uint32(len(m.Vertices))
		for j := 0; j < 3; j++ {
			off := 12 + j*12
			v := Vec3{
				math.Float32frombits(binary.LittleEndian.Uint32(rec[off:])),
				math.Float32frombits(binary.LittleEndian.Uint32(rec[off+4:])),
				math.Float32frombits(binary.LittleEndian.Uint32(rec[off+8:])),
			}
			m.Bounds.Extend(v)
			m.Vertices = append(m.Vertices, v)
		}
		m.Faces = append(m.Faces, Face{base, base + 1, base + 2})
	}

	return m, nil
}

// Triangles returns the number of faces.
func (m *Mesh) Triangles() int { return len(m.Faces) }

// Write encodes tris as a binary STL with a zero normal and attribute.
func Write(w io.Writer, header string, tris []Triangle) error {
	var head [HeaderSize + 4]byte
	copy(head[:HeaderSize], header)
	binary.LittleEndian.PutUint32(head[HeaderSize:], uint32(len(tris)))
	if _, err := w.Write(head[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}

	var rec [TriangleSize]byte
	for _, t := range tris {
		for j, v := range t {
			off := 12 + j*12
			binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(v[0]))
			binary.LittleEndian.PutUint32(rec[off+4:], math.Float32bits(v[1]))
			binary.LittleEndian.PutUint32(rec[off+8:], math.Float32bits(v[2]))
		}
		if _, err := w.Write(rec[:]); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}
	return nil
}

// WriteFile writes tris to path as a binary STL.
func WriteFile(path, header string, tris []Triangle) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, header, tris); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush STL file: %w", err)
	}
	return f.Close()
}
