package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecf/sdfcache/internal/grid"
	"github.com/alecf/sdfcache/internal/levelset"
	"github.com/alecf/sdfcache/internal/mesh"
	"github.com/alecf/sdfcache/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator fills the grid with the distance to a sphere centred in the
// box and remembers every request.
type fakeGenerator struct {
	calls atomic.Int32
	last  levelset.Request
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, req levelset.Request) (*grid.Grid, error) {
	f.calls.Add(1)
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	g := grid.New(req.NX, req.NY, req.NZ, req.Min, req.DX)
	for k := 0; k < int(req.NZ); k++ {
		for j := 0; j < int(req.NY); j++ {
			for i := 0; i < int(req.NX); i++ {
				di := float32(i) - float32(req.NX)/2
				dj := float32(j) - float32(req.NY)/2
				dk := float32(k) - float32(req.NZ)/2
				g.Set(i, j, k, di*di+dj*dj+dk*dk-4)
			}
		}
	}
	return g, nil
}

// cubeSoup returns n triangles taken cyclically from a unit cube.
func cubeSoup(n int) []mesh.Triangle {
	cube := mesh.Cube(mesh.Vec3{}, 1, 1)
	tris := make([]mesh.Triangle, n)
	for i := range tris {
		tris[i] = cube[i%len(cube)]
	}
	return tris
}

type fixture struct {
	root     string
	cacheDir string
	meshPath string
	gen      *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		cacheDir: filepath.Join(root, "resources", "sdf_cache"),
		gen:      &fakeGenerator{},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "meshes"), 0o755))
	f.meshPath = writeMesh(t, filepath.Join(root, "meshes"), "cube.stl", cubeSoup(100))
	return f
}

func (f *fixture) store(t *testing.T, mutate func(*Config), opts ...Option) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheDirectory = f.cacheDir
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, f.gen, opts...)
	require.NoError(t, err)
	return s
}

func TestGetOrGenerate_EndToEndCube(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	key, err := GenerateKey(f.meshPath, 64, 64, 64, 1)
	require.NoError(t, err)

	path, err := s.GetOrGenerate(ctx, f.meshPath, 64, 64, 64, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, "cube_sdf_66x66x66_"+key.Short()+".sdf"), path)
	assert.Equal(t, int32(1), f.gen.calls.Load())

	h, err := grid.ReadFileHeader(path)
	require.NoError(t, err)
	assert.Equal(t, int32(66), h.NX)
	assert.Equal(t, int64(grid.HeaderSize+4*66*66*66), h.FileSize())

	again, err := s.GetOrGenerate(ctx, f.meshPath, 64, 64, 64, 1)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), f.gen.calls.Load(), "second call must be a pure lookup")
}

func TestGetOrGenerate_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path, err := f.store(t, nil).GetOrGenerate(ctx, f.meshPath, 8, 8, 8, 2)
	require.NoError(t, err)

	// A new store finds the entry by scanning the directory.
	again, err := f.store(t, nil).GetOrGenerate(ctx, f.meshPath, 8, 8, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), f.gen.calls.Load())
}

func TestGetOrGenerate_ForceRegenerate(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.ForceRegenerate = true })
	ctx := context.Background()

	p1, err := s.GetOrGenerate(ctx, f.meshPath, 8, 8, 8, 1)
	require.NoError(t, err)
	p2, err := s.GetOrGenerate(ctx, f.meshPath, 8, 8, 8, 1)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, int32(2), f.gen.calls.Load())
	assert.Equal(t, f.cacheDir, filepath.Dir(p1))
}

func TestGetOrGenerate_CacheDisabled(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.EnableCache = false })

	path, err := s.GetOrGenerate(context.Background(), f.meshPath, 6, 6, 6, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(f.meshPath), "cube_sdf_8x8x8.sdf"), path)

	_, err = os.Stat(f.cacheDir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "cache directory must not be created")

	g, err := grid.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, g.Values, 512)
}

func TestGetOrGenerate_PaddingClampedOnce(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	p1, err := s.GetOrGenerate(ctx, f.meshPath, 10, 10, 10, 0)
	require.NoError(t, err)
	p2, err := s.GetOrGenerate(ctx, f.meshPath, 10, 10, 10, -3)
	require.NoError(t, err)
	p3, err := s.GetOrGenerate(ctx, f.meshPath, 10, 10, 10, 1)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, p1, p3)
	assert.Equal(t, int32(1), f.gen.calls.Load())

	key, err := GenerateKey(f.meshPath, 10, 10, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, "cube_sdf_12x12x12_"+key.Short()+".sdf", filepath.Base(p1))
}

func TestGenerate_UniformSpacingFromX(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil, WithBandWidth(3), WithBackend(levelset.BackendCPU))

	path, err := s.Generate(context.Background(), f.meshPath, 4, 2, 8, 1)
	require.NoError(t, err)

	req := f.gen.last
	assert.Equal(t, float32(0.5), req.DX)
	assert.Equal(t, [3]int32{6, 4, 10}, [3]int32{req.NX, req.NY, req.NZ})
	assert.Equal(t, mesh.Vec3{-1.5, -1, -2.5}, req.Min)
	assert.Equal(t, 3, req.BandWidth)
	assert.Equal(t, levelset.BackendCPU, req.Backend)
	assert.Len(t, req.Faces, 100)
	assert.Len(t, req.Vertices, 300)

	h, err := grid.ReadFileHeader(path)
	require.NoError(t, err)
	assert.Equal(t, [3]float32{-1.5, -1, -2.5}, h.Min)
	assert.Equal(t, [3]float32{1.5, 1, 2.5}, h.Max)
	assert.Equal(t, float32(0.5), h.Spacing())
}

func TestGenerate_NamesFileAfterProducedGrid(t *testing.T) {
	f := newFixture(t)
	gen := levelset.GeneratorFunc(func(ctx context.Context, req levelset.Request) (*grid.Grid, error) {
		return grid.New(req.NX+1, req.NY, req.NZ, req.Min, req.DX), nil
	})
	s, err := New(Config{CacheDirectory: f.cacheDir, EnableCache: true}, gen)
	require.NoError(t, err)

	path, err := s.Generate(context.Background(), f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)

	e, ok := ParseEntryName(filepath.Base(path))
	require.True(t, ok)
	assert.Equal(t, Dims{7, 6, 6}, e.Dims)
}

func TestGenerate_InvalidDimensions(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)

	for _, dims := range [][3]uint32{{0, 1, 1}, {1, 0, 1}, {1, 1, 0}} {
		path, err := s.GetOrGenerate(context.Background(), f.meshPath, dims[0], dims[1], dims[2], 1)
		assert.ErrorIs(t, err, ErrInvalid)
		assert.Empty(t, path)
	}
	assert.Zero(t, f.gen.calls.Load())
}

func TestGenerate_RejectsOversizedDimensions(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)

	for _, dims := range [][3]uint32{{math.MaxUint32, 4, 4}, {4, math.MaxInt32, 4}, {4, 4, 1 << 31}} {
		path, err := s.GetOrGenerate(context.Background(), f.meshPath, dims[0], dims[1], dims[2], 1)
		assert.ErrorIs(t, err, ErrInvalid, "%v", dims)
		assert.Empty(t, path)
	}
	assert.Zero(t, f.gen.calls.Load())

	entries, err := os.ReadDir(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_MeshErrors(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	_, err := s.GetOrGenerate(ctx, filepath.Join(f.root, "missing.stl"), 4, 4, 4, 1)
	assert.ErrorIs(t, err, ErrIO)

	_, err = s.Generate(ctx, filepath.Join(f.root, "missing.stl"), 4, 4, 4, 1)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "load mesh", ioErr.Op)

	data, err := os.ReadFile(f.meshPath)
	require.NoError(t, err)
	truncated := filepath.Join(f.root, "truncated.stl")
	require.NoError(t, os.WriteFile(truncated, data[:len(data)-10], 0o644))
	_, err = s.GetOrGenerate(ctx, truncated, 4, 4, 4, 1)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, mesh.ErrTruncated)

	flat := writeMesh(t, f.root, "flat.stl", []mesh.Triangle{{{0, 0, 0}, {0, 1, 0}, {0, 0, 1}}})
	_, err = s.GetOrGenerate(ctx, flat, 4, 4, 4, 1)
	assert.ErrorIs(t, err, ErrInvalid)

	empty := writeMesh(t, f.root, "empty.stl", nil)
	_, err = s.GetOrGenerate(ctx, empty, 4, 4, 4, 1)
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Zero(t, f.gen.calls.Load())
}

func TestGenerate_GeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("out of device memory")
	s := f.store(t, nil)

	path, err := s.GetOrGenerate(context.Background(), f.meshPath, 4, 4, 4, 1)
	require.Error(t, err)
	assert.Empty(t, path)
	assert.Contains(t, err.Error(), "out of device memory")

	names, err := listGridFiles(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestGenerate_WriteFailure(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)

	// Replace the cache directory with a plain file.
	require.NoError(t, os.RemoveAll(f.cacheDir))
	require.NoError(t, os.WriteFile(f.cacheDir, nil, 0o644))

	path, err := s.GetOrGenerate(context.Background(), f.meshPath, 4, 4, 4, 1)
	assert.ErrorIs(t, err, ErrIO)
	assert.Empty(t, path)
	assert.Equal(t, int32(1), f.gen.calls.Load())
}

func TestFind(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cacheDir, 0o755))
	key := Key(0xfeedface)

	// Present before the store is created.
	name := EntryName("cube", Dims{10, 10, 10}, key, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.cacheDir, name), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.cacheDir, "cube_sdf_10x10x10_feedface.sdf.tmp"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(f.cacheDir, "cube_sdf_12x12x12_feedface.sdf"), 0o755))

	s := f.store(t, nil)

	path, err := s.Find("cube", key, 8, 8, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, name), path)

	_, err = s.Find("cube", key, 10, 10, 10, 1)
	assert.ErrorIs(t, err, ErrNotFound, "directories are not entries")

	_, err = s.Find("cube", key, 8, 8, 8, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Find("ball", key, 8, 8, 8, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Find("cube", Key(0xfeedfacf), 8, 8, 8, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleted behind the store's back.
	require.NoError(t, os.Remove(path))
	_, err = s.Find("cube", key, 8, 8, 8, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.index.len())
}

func TestFind_MissingDirectory(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.EnableCache = false })

	_, err := s.Find("cube", Key(1), 1, 1, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrGenerate_RegeneratesAfterExternalDelete(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	path, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	again, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(2), f.gen.calls.Load())
	assert.FileExists(t, again)
}

func TestGetOrGenerate_MeshChangeMisses(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	p1, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)

	require.NoError(t, mesh.WriteFile(f.meshPath, "edited", cubeSoup(101)))
	p2, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.FileExists(t, p1, "stale entries are kept")
	assert.Equal(t, int32(2), f.gen.calls.Load())
}

func touch(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestClear_Selective(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)

	touch(t, f.cacheDir, "foo_sdf_4x4x4_00000001.sdf", 10)
	touch(t, f.cacheDir, "foo_sdf_8x8x8_00000002.sdf", 10)
	touch(t, f.cacheDir, "foobar_sdf_8x8x8_00000003.sdf", 10)
	touch(t, f.cacheDir, "foo_notes.txt", 10)
	touch(t, f.cacheDir, "bar_sdf_4x4x4_00000001.sdf", 10)

	n, err := s.Clear("foo")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := listGridFiles(f.cacheDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"bar_sdf_4x4x4_00000001.sdf"}, names)
	assert.FileExists(t, filepath.Join(f.cacheDir, "foo_notes.txt"))

	n, err = s.ClearAll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	names, err = listGridFiles(f.cacheDir)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.FileExists(t, filepath.Join(f.cacheDir, "foo_notes.txt"))
}

func TestClear_DropsIndexedEntries(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	_, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	n, err := s.Clear("cube")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, s.index.len())

	_, err = s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.gen.calls.Load())
}

func TestClear_MissingDirectory(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.EnableCache = false })

	n, err := s.Clear("cube")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.ClearAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetStats(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)

	touch(t, f.cacheDir, "a_sdf_1x1x1_00000001.sdf", 1024*1024)
	touch(t, f.cacheDir, "b_sdf_1x1x1_00000002.sdf", 512*1024)
	touch(t, f.cacheDir, "readme.txt", 99)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, int64(1536*1024), stats.TotalSizeBytes)
	assert.InDelta(t, 1.5, stats.TotalSizeMB(), 1e-9)
}

func TestGetStats_MissingDirectory(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.EnableCache = false })

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
	assert.Zero(t, stats.TotalSizeMB())
}

func TestStore_UsageLedger(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.cacheDir, 0o755))
	ledger, err := usage.Open(f.cacheDir)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	s := f.store(t, nil, WithUsage(ledger))
	ctx := context.Background()

	path, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
		require.NoError(t, err)
	}

	rec, err := ledger.Get(filepath.Base(path))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Hits)
	assert.Equal(t, "cube", rec.Basename)

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries, "the ledger database is not an entry")
	assert.Equal(t, 3, stats.TotalHits)
	assert.NotNil(t, stats.OldestEntry)

	_, err = s.ClearAll()
	require.NoError(t, err)
	stats, err = s.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalHits)
	assert.Nil(t, stats.OldestEntry)
}

func TestStore_VerboseLogging(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := f.store(t, nil, WithLogger(logger))
	ctx := context.Background()

	_, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "cache miss")

	s.SetVerbose(true)
	assert.True(t, s.Config().Verbose)
	_, err = s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "cache hit")
}

func TestWatch_TracksExternalChanges(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	key := Key(0x0badcafe)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := s.Watch(ctx)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-done
	}()

	name := EntryName("cube", Dims{6, 6, 6}, key, true)
	touch(t, f.cacheDir, name, 8)

	assert.Eventually(t, func() bool {
		return len(s.index.candidates(key.Short())) == 1
	}, 2*time.Second, 10*time.Millisecond)

	path, err := s.Find("cube", key, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, name), path)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		return len(s.index.candidates(key.Short())) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_RequiresCache(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, func(c *Config) { c.EnableCache = false })
	_, err := s.Watch(context.Background())
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)

	s, err := New(Config{}, &fakeGenerator{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheDirectory, s.Config().CacheDirectory)
}

func TestResolve_ReportsHit(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	ctx := context.Background()

	r1, err := s.Resolve(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.False(t, r1.Hit)

	r2, err := s.Resolve(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.True(t, r2.Hit)
	assert.Equal(t, r1.Key, r2.Key)
	assert.Equal(t, r1.Path, r2.Path)

	disabled := f.store(t, func(c *Config) { c.EnableCache = false })
	r3, err := disabled.Resolve(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.False(t, r3.Hit)
	assert.Zero(t, r3.Key)
}

func TestReindex_PicksUpExternalEntries(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, nil)
	key := Key(0xabad1dea)

	_, err := s.Find("cube", key, 8, 8, 8, 1)
	require.ErrorIs(t, err, ErrNotFound)

	// Copied in by another process after the index was built.
	name := EntryName("cube", Dims{10, 10, 10}, key, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.cacheDir, name), []byte("x"), 0o644))
	_, err = s.Find("cube", key, 8, 8, 8, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Reindex())
	path, err := s.Find("cube", key, 8, 8, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, name), path)
}

func TestWatch_ExternalEntryServesLookups(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var changes []string
	s := f.store(t, nil, WithChangeHook(func(name string, added bool) {
		mu.Lock()
		defer mu.Unlock()
		op := "-"
		if added {
			op = "+"
		}
		changes = append(changes, op+name)
	}))
	ctx := context.Background()

	key, err := GenerateKey(f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	_, err = s.Find("cube", key, 4, 4, 4, 1)
	require.ErrorIs(t, err, ErrNotFound)

	wctx, cancel := context.WithCancel(ctx)
	done, err := s.Watch(wctx)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-done
	}()

	// Produced by another process after the first lookup.
	name := EntryName("cube", Dims{6, 6, 6}, key, true)
	touch(t, f.cacheDir, name, 8)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 2*time.Second, 10*time.Millisecond)

	path, err := s.GetOrGenerate(ctx, f.meshPath, 4, 4, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.cacheDir, name), path)
	assert.Zero(t, f.gen.calls.Load())

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"+" + name, "-" + name}, changes)
}
