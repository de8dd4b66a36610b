package cache

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecf/sdfcache/internal/hash"
)

// Key fingerprints a mesh and the parameters it is generated with.
type Key uint64

// Short is the lower 32 bits as 8 lowercase hex digits, as used in entry
// file names.
func (k Key) Short() string {
	return fmt.Sprintf("%08x", uint32(k))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

// GenerateKey folds the mesh content hash, the target dimensions and the
// padding into one key, in that order, each as 4 little-endian bytes seeding
// the next round.
func GenerateKey(meshPath string, nx, ny, nz uint32, padding int32) (Key, error) {
	h, err := hash.MeshFile(meshPath, 0)
	if err != nil {
		return 0, &IOError{Op: "hash mesh", Path: meshPath, Err: err}
	}
	h = hash.Uint32(nx, h)
	h = hash.Uint32(ny, h)
	h = hash.Uint32(nz, h)
	h = hash.Int32(padding, h)
	return Key(h), nil
}

// ClampPadding applies the minimum of one padding cell on every side.
func ClampPadding(p int32) int32 {
	return max(p, 1)
}

// Dims are grid dimensions in cells.
type Dims struct {
	NX, NY, NZ int
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.NX, d.NY, d.NZ)
}

// Padded adds padding cells on both sides of every axis.
func (d Dims) Padded(padding int32) Dims {
	p := 2 * int(padding)
	return Dims{d.NX + p, d.NY + p, d.NZ + p}
}

// MeshBasename is the mesh file name without directory or extension.
func MeshBasename(meshPath string) string {
	base := filepath.Base(meshPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

const (
	sdfExt    = ".sdf"
	sdfMarker = "_sdf_"
)

// EntryName builds "{basename}_sdf_{dims}[_{key}].sdf". The key is omitted
// for grids written outside the cache.
func EntryName(basename string, dims Dims, key Key, withKey bool) string {
	name := basename + sdfMarker + dims.String()
	if withKey {
		name += "_" + key.Short()
	}
	return name + sdfExt
}

// Entry is a decoded entry file name.
type Entry struct {
	Name     string
	Basename string
	Dims     Dims
	Short    string
}

// ParseEntryName decodes a name produced by EntryName with a key.
func ParseEntryName(name string) (Entry, bool) {
	short, ok := shortKeyOf(name)
	if !ok {
		return Entry{}, false
	}
	stem := strings.TrimSuffix(name, "_"+short+sdfExt)
	i := strings.LastIndex(stem, sdfMarker)
	if i <= 0 {
		return Entry{}, false
	}
	parts := strings.Split(stem[i+len(sdfMarker):], "x")
	if len(parts) != 3 {
		return Entry{}, false
	}
	var n [3]int
	for j, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return Entry{}, false
		}
		n[j] = v
	}
	return Entry{
		Name:     name,
		Basename: stem[:i],
		Dims:     Dims{n[0], n[1], n[2]},
		Short:    short,
	}, true
}

// shortKeyOf extracts the 8 hex digits between the last '_' and ".sdf".
func shortKeyOf(name string) (string, bool) {
	if !strings.HasSuffix(name, sdfExt) {
		return "", false
	}
	stem := strings.TrimSuffix(name, sdfExt)
	if len(stem) < 9 || stem[len(stem)-9] != '_' {
		return "", false
	}
	short := stem[len(stem)-8:]
	for _, c := range short {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", false
		}
	}
	return short, true
}

// matches applies the lookup rule: the name starts with basename, contains
// the padded dimension marker, and ends with the short key.
func matches(name, basename string, padded Dims, key Key) bool {
	suffix := "_" + key.Short() + sdfExt
	return strings.HasPrefix(name, basename) &&
		strings.Contains(name, sdfMarker+padded.String()) &&
		len(name) > len(suffix) &&
		strings.HasSuffix(name, suffix)
}

// isGridFile reports whether the last four characters of name are ".sdf".
func isGridFile(name string) bool {
	return len(name) >= len(sdfExt) && name[len(name)-len(sdfExt):] == sdfExt
}
