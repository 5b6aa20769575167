package archive

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vsifs/vsifs-go/internal/metrics"
)

// ContentCache maps archive paths to their scanned Content. Scans run
// outside the lock, so scanning one archive may open another archive of the
// same scheme; concurrent first accesses to one path share a single scan.
type ContentCache struct {
	mu       sync.Mutex
	scheme   string
	contents map[string]*Content
	gen      uint64 // bumped by Invalidate
	scans    singleflight.Group
}

// NewContentCache returns an empty cache. scheme labels its metrics.
func NewContentCache(scheme string) *ContentCache {
	return &ContentCache{
		scheme:   scheme,
		contents: make(map[string]*Content),
	}
}

var (
	sharedMu     sync.Mutex
	sharedCaches = map[string]*ContentCache{}
)

// SharedContentCache returns the process-wide cache for a scheme prefix.
func SharedContentCache(prefix string) *ContentCache {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	c, ok := sharedCaches[prefix]
	if !ok {
		c = NewContentCache(prefix)
		sharedCaches[prefix] = c
	}
	return c
}

// Get returns the cached content of archivePath, calling populate on a miss.
// A failed populate leaves the cache unchanged, and a result whose archive
// was invalidated during the scan is returned but not stored.
func (c *ContentCache) Get(archivePath string, populate func() (*Content, error)) (*Content, error) {
	if content, ok := c.lookup(archivePath); ok {
		return content, nil
	}
	v, err, _ := c.scans.Do(archivePath, func() (any, error) {
		content, gen, ok := c.lookupGen(archivePath)
		if ok {
			return content, nil
		}
		metrics.ArchiveCacheMisses.WithLabelValues(c.scheme).Inc()

		content, err := populate()
		if err != nil {
			metrics.ArchiveScanFailures.WithLabelValues(c.scheme).Inc()
			return nil, err
		}
		c.store(archivePath, content, gen)
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Content), nil
}

func (c *ContentCache) lookup(archivePath string) (*Content, bool) {
	content, _, ok := c.lookupGen(archivePath)
	return content, ok
}

func (c *ContentCache) lookupGen(archivePath string) (*Content, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.contents[archivePath]
	if ok {
		metrics.ArchiveCacheHits.WithLabelValues(c.scheme).Inc()
	}
	return content, c.gen, ok
}

func (c *ContentCache) store(archivePath string, content *Content, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if old, ok := c.contents[archivePath]; ok {
		metrics.ArchiveEntries.WithLabelValues(c.scheme).Sub(float64(old.Len()))
	}
	c.contents[archivePath] = content
	metrics.ArchiveEntries.WithLabelValues(c.scheme).Add(float64(content.Len()))
}

// Has reports whether archivePath has been scanned.
func (c *ContentCache) Has(archivePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.contents[archivePath]
	return ok
}

// Invalidate drops the content of each path and of any archive below it.
func (c *ContentCache) Invalidate(paths ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	for _, p := range paths {
		dir := strings.TrimSuffix(p, "/") + "/"
		for key, content := range c.contents {
			if key == p || strings.HasPrefix(key, dir) || nestedIn(key, dir) {
				metrics.ArchiveEntries.WithLabelValues(c.scheme).Sub(float64(content.Len()))
				delete(c.contents, key)
			}
		}
	}
}

// nestedIn reports whether key is an archive read through another scheme
// from a file at or below the absolute directory dir, such as
// /vsizip//vsimem/outer.zip/inner.zip for /vsimem/outer.zip/.
func nestedIn(key, dir string) bool {
	return strings.HasPrefix(dir, "/") && strings.Contains(key+"/", "/"+dir)
}

// Len returns the number of cached archives.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contents)
}
