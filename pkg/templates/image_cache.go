package templates

import (
	"fmt"
	"image"
	_ "image/png"
	"os"
	"sync"

	"jordanella.com/gather-bot/internal/cv"
)

// ImageCache loads template images on first use and keeps them in memory
type ImageCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	stats   CacheStats
}

type cacheEntry struct {
	path  string
	once  sync.Once
	image *image.RGBA
	err   error
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits    int64 // Cache hits
	Misses  int64 // Cache misses (had to load)
	Failed  int64 // Loads that returned an error
	Unloads int64 // Total unload operations
}

// NewImageCache creates a new image cache
func NewImageCache() *ImageCache {
	return &ImageCache{entries: make(map[string]*cacheEntry)}
}

// Register associates a template name with an image path, dropping any
// previously loaded image for that name.
func (ic *ImageCache) Register(name, path string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.entries[name] = &cacheEntry{path: path}
}

// Put stores an already decoded image
func (ic *ImageCache) Put(name string, img *image.RGBA) {
	entry := &cacheEntry{image: img}
	entry.once.Do(func() {})

	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.entries[name] = entry
}

// Get returns the image for name, decoding it from disk on first access.
// A failed load is remembered until the entry is unloaded.
func (ic *ImageCache) Get(name string) (*image.RGBA, error) {
	ic.mu.RLock()
	entry, ok := ic.entries[name]
	ic.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("template '%s' not found in cache", name)
	}

	loaded := false
	entry.once.Do(func() {
		loaded = true
		entry.image, entry.err = decodeFile(entry.path)
	})

	ic.mu.Lock()
	switch {
	case entry.err != nil:
		if loaded {
			ic.stats.Failed++
		}
	case loaded:
		ic.stats.Misses++
	default:
		ic.stats.Hits++
	}
	ic.mu.Unlock()

	return entry.image, entry.err
}

// Forget removes an entry entirely
func (ic *ImageCache) Forget(name string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	delete(ic.entries, name)
}

// UnloadAll drops every decoded image; the paths stay registered
func (ic *ImageCache) UnloadAll() {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	for name, entry := range ic.entries {
		if entry.path == "" {
			// in-memory images have nothing to reload from
			continue
		}
		ic.entries[name] = &cacheEntry{path: entry.path}
		ic.stats.Unloads++
	}
}

// Stats returns cache statistics
func (ic *ImageCache) Stats() CacheStats {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.stats
}

func decodeFile(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("template image not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}
	return cv.ToRGBA(img), nil
}
