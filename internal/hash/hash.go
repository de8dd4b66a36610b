// Package hash provides the xxHash64 primitives used to fingerprint meshes
// and generation parameters.
package hash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

const (
	// STLHeaderSize is the fixed binary STL header that is excluded from hashing.
	STLHeaderSize = 80

	// MinMeshSize is the header plus the 4-byte triangle count.
	MinMeshSize = STLHeaderSize + 4

	// ChunkSize is the read size used when hashing a file.
	ChunkSize = 8192
)

// ErrTooSmall is returned when a mesh file cannot hold a binary STL header
// and triangle count.
var ErrTooSmall = errors.New("mesh file too small to be binary STL")

// Sum64 returns the xxHash64 of data using the given seed.
func Sum64(data []byte, seed uint64) uint64 {
	if seed == 0 {
		return xxhash.Sum64(data)
	}
	d := xxhash.NewWithSeed(seed)
	d.Write(data)
	return d.Sum64()
}

// Uint32 mixes v into seed as 4 little-endian bytes.
func Uint32(v uint32, seed uint64) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return Sum64(b[:], seed)
}

// Int32 mixes v into seed as 4 little-endian bytes (two's complement).
func Int32(v int32, seed uint64) uint64 {
	return Uint32(uint32(v), seed)
}

// MeshFile hashes the contents of a binary STL file after its 80-byte header.
//
// The remainder is consumed in ChunkSize pieces and every piece is hashed
// with the previous result as its seed. Keys written by earlier versions of
// the cache depend on this chaining, so it must not be replaced with a single
// streaming digest.
func MeshFile(path string, seed uint64) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open mesh file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat mesh file: %w", err)
	}
	if info.Size() < MinMeshSize {
		return 0, fmt.Errorf("%s: %w (%d bytes)", path, ErrTooSmall, info.Size())
	}

	if _, err := f.Seek(STLHeaderSize, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to skip mesh header: %w", err)
	}

	return Chunks(f, seed)
}

// Chunks hashes r in ChunkSize pieces, chaining each result into the next
// seed. A short read is hashed as its own chunk.
func Chunks(r io.Reader, seed uint64) (uint64, error) {
	buf := make([]byte, ChunkSize)
	h := seed
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h = Sum64(buf[:n], h)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return h, nil
		default:
			return 0, fmt.Errorf("failed to read mesh data: %w", err)
		}
	}
}
