// Package cache holds the stat cache shared by the object store schemes.
package cache

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// StatCacheEntry is one cached stat. A nil Stat records that the path was
// looked up and does not exist.
type StatCacheEntry struct {
	Path       string
	Stat       *vsi.FileStat
	ExpiresAt  time.Time
	LastAccess time.Time
}

// StatCache caches stat results for a bounded time. A TTL of zero or less
// disables caching.
type StatCache struct {
	mu          sync.Mutex
	entries     map[string]*StatCacheEntry
	maxSize     int
	defaultTTL  time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// NewStatCache creates a stat cache holding at most maxSize entries.
func NewStatCache(maxSize int, defaultTTL time.Duration) *StatCache {
	sc := &StatCache{
		entries:     make(map[string]*StatCacheEntry),
		maxSize:     maxSize,
		defaultTTL:  defaultTTL,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	if defaultTTL > 0 {
		go sc.cleanupExpired(time.NewTicker(max(defaultTTL/2, time.Millisecond)))
	}
	return sc
}

// Get returns the cached stat for path. found is true for live entries,
// including negative ones, where the returned stat is nil.
func (sc *StatCache) Get(path string) (st *vsi.FileStat, found bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, exists := sc.entries[path]
	if !exists {
		return nil, false
	}
	now := sc.now()
	if now.After(entry.ExpiresAt) {
		delete(sc.entries, path)
		return nil, false
	}
	entry.LastAccess = now
	if entry.Stat == nil {
		return nil, true
	}
	cp := *entry.Stat
	return &cp, true
}

// Set caches st for path.
func (sc *StatCache) Set(path string, st *vsi.FileStat) {
	if st == nil {
		return
	}
	cp := *st
	sc.put(path, &cp)
}

// SetMissing caches that path does not exist.
func (sc *StatCache) SetMissing(path string) {
	sc.put(path, nil)
}

func (sc *StatCache) put(path string, st *vsi.FileStat) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.defaultTTL <= 0 || sc.maxSize <= 0 {
		return
	}
	if _, exists := sc.entries[path]; !exists {
		sc.truncateIfNeeded()
	}
	now := sc.now()
	sc.entries[path] = &StatCacheEntry{
		Path:       path,
		Stat:       st,
		ExpiresAt:  now.Add(sc.defaultTTL),
		LastAccess: now,
	}
}

// Delete removes the entries of the given paths.
func (sc *StatCache) Delete(paths ...string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, p := range paths {
		delete(sc.entries, p)
	}
}

// DeleteTree removes dir and every entry below it.
func (sc *StatCache) DeleteTree(dir string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for p := range sc.entries {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(sc.entries, p)
		}
	}
}

// Clear removes all entries
func (sc *StatCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.entries = make(map[string]*StatCacheEntry)
}

// Size returns the current number of cached entries
func (sc *StatCache) Size() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.entries)
}

// SetMaxSize updates the maximum cache size, evicting if needed
func (sc *StatCache) SetMaxSize(maxSize int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.maxSize = maxSize
	for len(sc.entries) > maxSize {
		sc.evictOldest(len(sc.entries) - maxSize)
	}
}

// SetTTL updates the TTL of entries stored from now on
func (sc *StatCache) SetTTL(ttl time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.defaultTTL = ttl
}

// truncateIfNeeded makes room for one more entry.
func (sc *StatCache) truncateIfNeeded() {
	if len(sc.entries) < sc.maxSize {
		return
	}
	sc.evictOldest(len(sc.entries) - sc.maxSize + 1)
}

// evictOldest removes the n least recently accessed entries.
func (sc *StatCache) evictOldest(n int) {
	entries := make([]*StatCacheEntry, 0, len(sc.entries))
	for _, e := range sc.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *StatCacheEntry) int {
		return a.LastAccess.Compare(b.LastAccess)
	})
	for _, e := range entries[:min(n, len(entries))] {
		delete(sc.entries, e.Path)
	}
}

func (sc *StatCache) cleanupExpired(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sc.mu.Lock()
			now := sc.now()
			for path, entry := range sc.entries {
				if now.After(entry.ExpiresAt) {
					delete(sc.entries, path)
				}
			}
			sc.mu.Unlock()
		case <-sc.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (sc *StatCache) Close() error {
	sc.closeOnce.Do(func() { close(sc.stopCleanup) })
	return nil
}
