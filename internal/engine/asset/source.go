package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by sources for names they do not hold.
var ErrNotFound = errors.New("asset file not found")

// FileSource reads named asset files. Names are slash-separated and
// relative to the source root.
type FileSource interface {
	ReadFile(name string) ([]byte, error)
}

// invalidator is implemented by sources that cache file contents.
type invalidator interface {
	Invalidate(name string)
	InvalidateAll()
}

// DirSource reads files under a root directory through an in-memory cache.
type DirSource struct {
	root  string
	cache fileCache
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Root returns the directory the source reads from.
func (s *DirSource) Root() string {
	return s.root
}

// ReadFile implements FileSource.
func (s *DirSource) ReadFile(name string) ([]byte, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if data, ok := s.cache.get(name); ok {
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	s.cache.put(name, data)
	return data, nil
}

// Invalidate drops name from the cache so the next read hits disk.
func (s *DirSource) Invalidate(name string) {
	if name, err := cleanName(name); err == nil {
		s.cache.drop(name)
	}
}

// InvalidateAll empties the cache.
func (s *DirSource) InvalidateAll() {
	s.cache.purge()
}

// CacheStats returns the cache counters.
func (s *DirSource) CacheStats() CacheStats {
	return s.cache.snapshot()
}

// cleanName normalizes a slash path and rejects names escaping the root.
func cleanName(name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	return clean, nil
}

// MemSource serves files from memory.
type MemSource struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemSource creates an empty in-memory source.
func NewMemSource() *MemSource {
	return &MemSource{files: make(map[string][]byte)}
}

// Set stores data under name, replacing any previous content.
func (s *MemSource) Set(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path.Clean(name)] = data
}

// ReadFile implements FileSource.
func (s *MemSource) ReadFile(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, nil
}

// CacheStats reports a DirSource cache's use since the source was created.
type CacheStats struct {
	Hits   int
	Misses int
	Purges int
	Files  int
	Bytes  int64
}

// fileCache holds file contents keyed by clean name.
type fileCache struct {
	mu    sync.Mutex
	files map[string][]byte
	stats CacheStats
}

func (c *fileCache) get(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[name]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return data, ok
}

func (c *fileCache) put(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.files == nil {
		c.files = make(map[string][]byte)
	}
	c.stats.Bytes += int64(len(data) - len(c.files[name]))
	c.files[name] = data
}

func (c *fileCache) drop(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Bytes -= int64(len(c.files[name]))
	delete(c.files, name)
}

// purge empties the cache. Hit and miss counts are kept.
func (c *fileCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.files)
	c.stats.Bytes = 0
	c.stats.Purges++
}

func (c *fileCache) snapshot() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Files = len(c.files)
	return st
}
