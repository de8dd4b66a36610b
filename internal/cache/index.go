package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// index maps short keys to entry file names in the cache directory. It is
// built by one directory scan on first use and then kept current by the
// store and by Watch, so lookups do not rescan the directory.
type index struct {
	dir string

	mu      sync.RWMutex
	loaded  bool
	byShort map[string]map[string]struct{}
}

func newIndex(dir string) *index {
	return &index{dir: dir, byShort: make(map[string]map[string]struct{})}
}

// ensure scans the directory if no scan has happened yet.
func (ix *index) ensure() error {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return nil
	}
	return ix.rebuild()
}

// rebuild replaces the index with a fresh scan. A missing or unreadable
// directory leaves the index empty.
func (ix *index) rebuild() error {
	names, err := listGridFiles(ix.dir)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byShort = make(map[string]map[string]struct{})
	ix.loaded = true
	for _, name := range names {
		ix.addLocked(name)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// add reports whether name was not indexed before.
func (ix *index) add(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.addLocked(name)
}

func (ix *index) addLocked(name string) bool {
	short, ok := shortKeyOf(name)
	if !ok {
		return false
	}
	set := ix.byShort[short]
	if set == nil {
		set = make(map[string]struct{})
		ix.byShort[short] = set
	}
	if _, dup := set[name]; dup {
		return false
	}
	set[name] = struct{}{}
	return true
}

// remove reports whether name was indexed.
func (ix *index) remove(name string) bool {
	short, ok := shortKeyOf(name)
	if !ok {
		return false
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set := ix.byShort[short]
	if _, ok := set[name]; !ok {
		return false
	}
	delete(set, name)
	if len(set) == 0 {
		delete(ix.byShort, short)
	}
	return true
}

// candidates returns the names carrying short, sorted.
func (ix *index) candidates(short string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := ix.byShort[short]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ix *index) len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, set := range ix.byShort {
		n += len(set)
	}
	return n
}

// listGridFiles returns the regular files in dir whose names end in ".sdf".
func listGridFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if isGridFile(entry.Name()) && isRegular(dir, entry) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// isRegular follows symlinks, so a link to a grid file counts as an entry.
func isRegular(dir string, entry fs.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	return err == nil && info.Mode().IsRegular()
}
