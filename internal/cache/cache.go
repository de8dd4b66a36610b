// Package cache stores generated signed distance grids on disk, keyed by the
// content of the source mesh and the generation parameters.
//
// Cache identity lives entirely in file names:
//
//	{meshBasename}_sdf_{nx}x{ny}x{nz}_{hash8}.sdf
//
// where the dimensions include padding and hash8 is Key.Short.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/alecf/sdfcache/internal/grid"
	"github.com/alecf/sdfcache/internal/levelset"
	"github.com/alecf/sdfcache/internal/mesh"
	"github.com/alecf/sdfcache/internal/usage"
)

// DefaultCacheDirectory is used when Config.CacheDirectory is empty.
const DefaultCacheDirectory = "resources/sdf_cache/"

// DefaultBandWidth is the narrow band passed to the generator.
const DefaultBandWidth = 1

// Config controls where and whether grids are cached.
type Config struct {
	CacheDirectory  string
	EnableCache     bool
	ForceRegenerate bool
	Verbose         bool
}

// DefaultConfig returns caching enabled under DefaultCacheDirectory.
func DefaultConfig() Config {
	return Config{
		CacheDirectory: DefaultCacheDirectory,
		EnableCache:    true,
	}
}

// Store manages generation and lookup of cached grids.
type Store struct {
	cfg       Config
	gen       levelset.Generator
	logger    *slog.Logger
	ledger    *usage.Ledger
	bandWidth int
	backend   levelset.Backend
	verbose   atomic.Bool
	index     *index
	onChange  func(name string, added bool)
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the diagnostics logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUsage records generations and hits in l. The caller owns l.
func WithUsage(l *usage.Ledger) Option {
	return func(s *Store) { s.ledger = l }
}

// WithChangeHook calls fn from the Watch goroutine whenever an entry appears
// in or disappears from the cache directory.
func WithChangeHook(fn func(name string, added bool)) Option {
	return func(s *Store) { s.onChange = fn }
}

// WithBandWidth sets the generator narrow band, in cells.
func WithBandWidth(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bandWidth = n
		}
	}
}

// WithBackend selects the generator hardware backend.
func WithBackend(b levelset.Backend) Option {
	return func(s *Store) { s.backend = b }
}

// New creates a store. The cache directory is created when caching is
// enabled.
func New(cfg Config, gen levelset.Generator, opts ...Option) (*Store, error) {
	if gen == nil {
		return nil, errors.New("cache: nil level-set generator")
	}
	if cfg.CacheDirectory == "" {
		cfg.CacheDirectory = DefaultCacheDirectory
	}

	s := &Store{
		cfg:       cfg,
		gen:       gen,
		logger:    slog.New(slog.DiscardHandler),
		bandWidth: DefaultBandWidth,
		backend:   levelset.BackendGPU,
		index:     newIndex(cfg.CacheDirectory),
	}
	s.verbose.Store(cfg.Verbose)
	for _, opt := range opts {
		opt(s)
	}

	if cfg.EnableCache {
		if err := os.MkdirAll(cfg.CacheDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return s, nil
}

// Config returns the store configuration, with the current verbose flag.
func (s *Store) Config() Config {
	cfg := s.cfg
	cfg.Verbose = s.verbose.Load()
	return cfg
}

// SetVerbose toggles progress diagnostics between info and debug level.
func (s *Store) SetVerbose(v bool) {
	s.verbose.Store(v)
}

// note logs progress at info level when verbose, debug otherwise.
func (s *Store) note(msg string, args ...any) {
	level := slog.LevelDebug
	if s.verbose.Load() {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, msg, args...)
}

// Result describes how a request was satisfied.
type Result struct {
	Path string
	// Key is zero when caching is disabled.
	Key Key
	Hit bool
}

// GetOrGenerate returns the path of a grid for the mesh at the target
// resolution, generating and caching it on a miss.
func (s *Store) GetOrGenerate(ctx context.Context, meshPath string, nx, ny, nz uint32, padding int32) (string, error) {
	r, err := s.Resolve(ctx, meshPath, nx, ny, nz, padding)
	if err != nil {
		return "", err
	}
	return r.Path, nil
}

// Resolve is GetOrGenerate reporting whether the grid came from the cache.
//
// Padding below one is clamped before the key is computed, so the key and
// the dimensions in the file name always describe the same grid.
func (s *Store) Resolve(ctx context.Context, meshPath string, nx, ny, nz uint32, padding int32) (*Result, error) {
	padding = ClampPadding(padding)

	if !s.cfg.EnableCache {
		s.note("cache disabled", "mesh", meshPath)
		path, err := s.generate(ctx, meshPath, nx, ny, nz, padding, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Path: path}, nil
	}

	key, err := GenerateKey(meshPath, nx, ny, nz, padding)
	if err != nil {
		s.logger.Error("failed to compute cache key", "mesh", meshPath, "err", err)
		return nil, err
	}

	if s.cfg.ForceRegenerate {
		s.note("force regenerate", "mesh", meshPath, "key", key.Short())
		path, err := s.generate(ctx, meshPath, nx, ny, nz, padding, &key)
		if err != nil {
			return nil, err
		}
		return &Result{Path: path, Key: key}, nil
	}

	basename := MeshBasename(meshPath)
	path, err := s.Find(basename, key, nx, ny, nz, padding)
	switch {
	case err == nil:
		s.note("cache hit", "path", path)
		s.recordHit(filepath.Base(path), basename)
		return &Result{Path: path, Key: key, Hit: true}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	s.note("cache miss, generating", "mesh", meshPath, "key", key.Short())
	path, err = s.generate(ctx, meshPath, nx, ny, nz, padding, &key)
	if err != nil {
		return nil, err
	}
	return &Result{Path: path, Key: key}, nil
}

// Find looks up an entry for basename and key at the padded target
// dimensions. It returns ErrNotFound when nothing matches, including when
// the cache directory is missing or unreadable.
func (s *Store) Find(basename string, key Key, nx, ny, nz uint32, padding int32) (string, error) {
	if err := s.index.ensure(); err != nil {
		s.logger.Debug("cache directory unreadable", "dir", s.cfg.CacheDirectory, "err", err)
	}

	padded := Dims{int(nx), int(ny), int(nz)}.Padded(ClampPadding(padding))
	for _, name := range s.index.candidates(key.Short()) {
		if !matches(name, basename, padded, key) {
			continue
		}
		path := filepath.Join(s.cfg.CacheDirectory, name)
		if _, err := os.Stat(path); err != nil {
			// Removed behind our back.
			s.index.remove(name)
			continue
		}
		return path, nil
	}
	return "", ErrNotFound
}

// Reindex rescans the cache directory.
func (s *Store) Reindex() error {
	err := s.index.rebuild()
	s.note("cache index rebuilt", "entries", s.index.len())
	return err
}

// Generate builds the grid unconditionally. With caching enabled it is
// written into the cache directory under its keyed name; otherwise it is
// written beside the mesh without a key.
func (s *Store) Generate(ctx context.Context, meshPath string, nx, ny, nz uint32, padding int32) (string, error) {
	return s.generate(ctx, meshPath, nx, ny, nz, ClampPadding(padding), nil)
}

func (s *Store) generate(ctx context.Context, meshPath string, nx, ny, nz uint32, padding int32, key *Key) (string, error) {
	if nx == 0 || ny == 0 || nz == 0 {
		err := invalidf("target dimensions must be positive, got %dx%dx%d", nx, ny, nz)
		s.logger.Error("rejecting generation request", "mesh", meshPath, "err", err)
		return "", err
	}

	padded := Dims{int(nx), int(ny), int(nz)}.Padded(padding)
	if padded.NX > math.MaxInt32 || padded.NY > math.MaxInt32 || padded.NZ > math.MaxInt32 {
		err := invalidf("padded dimensions %s exceed the grid format limit", padded)
		s.logger.Error("rejecting generation request", "mesh", meshPath, "err", err)
		return "", err
	}

	m, err := mesh.Load(meshPath)
	if err != nil {
		ioErr := &IOError{Op: "load mesh", Path: meshPath, Err: err}
		s.logger.Error("failed to load STL file", "err", ioErr)
		return "", ioErr
	}
	if m.Triangles() == 0 {
		return "", invalidf("mesh %s has no triangles", meshPath)
	}

	size := m.Bounds.Size()
	if !(size[0] > 0) {
		return "", invalidf("mesh %s has no extent along X", meshPath)
	}

	// One spacing for all axes, taken from X. The grid box is centred on
	// the mesh and may not hug it on Y and Z.
	dx := size[0] / float32(nx)
	extent := mesh.Vec3{float32(padded.NX) * dx, float32(padded.NY) * dx, float32(padded.NZ) * dx}
	lo := m.Bounds.Center().Sub(extent.Scale(0.5))

	s.note("generating SDF", "mesh", meshPath, "triangles", m.Triangles(), "dims", padded.String(), "dx", dx)

	start := time.Now()
	g, err := s.gen.Generate(ctx, levelset.Request{
		Faces:     m.Faces,
		Vertices:  m.Vertices,
		Min:       lo,
		DX:        dx,
		NX:        int32(padded.NX),
		NY:        int32(padded.NY),
		NZ:        int32(padded.NZ),
		BandWidth: s.bandWidth,
		Backend:   s.backend,
	})
	if err != nil {
		s.logger.Error("level-set generation failed", "mesh", meshPath, "err", err)
		return "", fmt.Errorf("level-set generation failed: %w", err)
	}
	if g == nil {
		return "", errors.New("level-set generator returned no grid")
	}
	took := time.Since(start)

	g.Min = lo
	g.Max = lo.Add(mesh.Vec3{float32(g.NX) * dx, float32(g.NY) * dx, float32(g.NZ) * dx})

	// Name the file after what the generator actually produced.
	dims := Dims{int(g.NX), int(g.NY), int(g.NZ)}
	basename := MeshBasename(meshPath)

	var outDir string
	var name string
	if s.cfg.EnableCache {
		if key == nil {
			k, err := GenerateKey(meshPath, nx, ny, nz, padding)
			if err != nil {
				return "", err
			}
			key = &k
		}
		outDir = s.cfg.CacheDirectory
		name = EntryName(basename, dims, *key, true)
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return "", &IOError{Op: "create cache directory", Path: outDir, Err: err}
		}
	} else {
		outDir = filepath.Dir(meshPath)
		name = EntryName(basename, dims, 0, false)
	}
	outPath := filepath.Join(outDir, name)

	if err := grid.WriteFile(outPath, g); err != nil {
		ioErr := &IOError{Op: "write grid", Path: outPath, Err: err}
		s.logger.Error("failed to write SDF file", "err", ioErr)
		return "", ioErr
	}

	if s.cfg.EnableCache {
		s.index.add(name)
		s.recordGenerate(name, basename, took)
	}

	inside := 0.0
	if n := g.Cells(); n > 0 {
		inside = 100 * float64(g.InsideCount()) / float64(n)
	}
	s.note("saved SDF",
		"path", outPath,
		"size_mb", float64(g.FileSize())/(1024*1024),
		"solid_pct", inside,
		"took", took.Round(time.Millisecond),
	)

	return outPath, nil
}

func (s *Store) recordGenerate(name, basename string, took time.Duration) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordGenerate(name, basename, took); err != nil {
		s.logger.Warn("failed to record generation", "name", name, "err", err)
	}
}

func (s *Store) recordHit(name, basename string) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.RecordHit(name, basename); err != nil {
		s.logger.Warn("failed to record cache hit", "name", name, "err", err)
	}
}

// Clear removes the regular files whose names start with basename and end
// in ".sdf". It returns how many were removed.
func (s *Store) Clear(basename string) (int, error) {
	return s.remove(func(name string) bool {
		return len(name) >= len(basename) && name[:len(basename)] == basename
	})
}

// ClearAll removes every regular ".sdf" file in the cache directory.
func (s *Store) ClearAll() (int, error) {
	n, err := s.remove(func(string) bool { return true })
	if err == nil && s.ledger != nil {
		if ferr := s.ledger.ForgetAll(); ferr != nil {
			s.logger.Warn("failed to clear usage records", "err", ferr)
		}
	}
	return n, err
}

func (s *Store) remove(match func(name string) bool) (int, error) {
	names, err := listGridFiles(s.cfg.CacheDirectory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		s.logger.Error("failed to clear cache", "dir", s.cfg.CacheDirectory, "err", err)
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	var forgotten []string
	for _, name := range names {
		if !match(name) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.CacheDirectory, name)); err != nil {
			s.logger.Warn("failed to delete cache entry", "name", name, "err", err)
			continue
		}
		removed++
		forgotten = append(forgotten, name)
		s.index.remove(name)
		s.note("deleted", "name", name)
	}

	if s.ledger != nil && len(forgotten) > 0 {
		if err := s.ledger.Forget(forgotten...); err != nil {
			s.logger.Warn("failed to forget usage records", "err", err)
		}
	}
	return removed, nil
}

// Stats summarises the cache directory.
type Stats struct {
	TotalEntries   int        `json:"total_entries"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	TotalHits      int        `json:"total_hits"`
	OldestEntry    *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry    *time.Time `json:"newest_entry,omitempty"`
}

// TotalSizeMB is the total size in mebibytes.
func (st *Stats) TotalSizeMB() float64 {
	return float64(st.TotalSizeBytes) / (1024 * 1024)
}

// GetStats counts the ".sdf" files in the cache directory and their total
// size. A missing or unreadable directory yields zero stats. Hit counts and
// entry ages come from the usage ledger when one is attached.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	entries, err := os.ReadDir(s.cfg.CacheDirectory)
	if err != nil {
		s.logger.Debug("cache directory unreadable", "dir", s.cfg.CacheDirectory, "err", err)
		return stats, nil
	}

	var names []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != sdfExt || !isRegular(s.cfg.CacheDirectory, entry) {
			continue
		}
		info, err := os.Stat(filepath.Join(s.cfg.CacheDirectory, entry.Name()))
		if err != nil {
			continue
		}
		stats.TotalEntries++
		stats.TotalSizeBytes += info.Size()
		names = append(names, entry.Name())
	}

	if s.ledger != nil {
		if err := s.ledger.Retain(names); err != nil {
			s.logger.Warn("failed to prune usage records", "err", err)
		}
		summary, err := s.ledger.Summary()
		if err != nil {
			s.logger.Warn("failed to read usage records", "err", err)
		} else {
			stats.TotalHits = summary.TotalHits
			stats.OldestEntry = summary.Oldest
			stats.NewestEntry = summary.Newest
		}
	}

	return stats, nil
}
