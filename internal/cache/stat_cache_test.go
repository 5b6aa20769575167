package cache

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(t *testing.T, maxSize int, ttl time.Duration) (*StatCache, *fakeClock) {
	t.Helper()
	sc := NewStatCache(maxSize, ttl)
	t.Cleanup(func() { sc.Close() })
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	sc.mu.Lock()
	sc.now = clock.now
	sc.mu.Unlock()
	return sc, clock
}

func fileStat(size int64) *vsi.FileStat {
	return &vsi.FileStat{Size: size, Mode: 0o644, ModTime: time.Unix(1600000000, 0)}
}

func TestNewStatCache(t *testing.T) {
	sc, _ := newTestCache(t, 100, 5*time.Minute)
	assert.Equal(t, 0, sc.Size())
}

func TestStatCache_SetAndGet(t *testing.T) {
	sc, _ := newTestCache(t, 100, 5*time.Minute)

	sc.Set("bucket/file.txt", fileStat(1024))
	st, found := sc.Get("bucket/file.txt")
	require.True(t, found)
	require.NotNil(t, st)
	assert.Equal(t, int64(1024), st.Size)
	assert.Equal(t, fs.FileMode(0o644), st.Mode)

	st.Size = 1
	again, _ := sc.Get("bucket/file.txt")
	assert.Equal(t, int64(1024), again.Size, "callers get copies")

	_, found = sc.Get("bucket/other")
	assert.False(t, found)
}

func TestStatCache_Negative(t *testing.T) {
	sc, _ := newTestCache(t, 100, time.Minute)

	sc.SetMissing("gone")
	st, found := sc.Get("gone")
	assert.True(t, found)
	assert.Nil(t, st)

	sc.Set("gone", fileStat(3))
	st, found = sc.Get("gone")
	assert.True(t, found)
	assert.Equal(t, int64(3), st.Size)
}

func TestStatCache_Expiration(t *testing.T) {
	sc, clock := newTestCache(t, 100, time.Minute)

	sc.Set("a", fileStat(1))
	sc.SetMissing("b")
	clock.advance(59 * time.Second)
	_, found := sc.Get("a")
	assert.True(t, found)

	clock.advance(2 * time.Second)
	_, found = sc.Get("a")
	assert.False(t, found)
	_, found = sc.Get("b")
	assert.False(t, found)
	assert.Equal(t, 0, sc.Size())
}

func TestStatCache_Disabled(t *testing.T) {
	sc := NewStatCache(100, 0)
	defer sc.Close()

	sc.Set("a", fileStat(1))
	sc.SetMissing("b")
	assert.Equal(t, 0, sc.Size())
}

func TestStatCache_DeleteAndTree(t *testing.T) {
	sc, _ := newTestCache(t, 100, time.Minute)
	for _, p := range []string{"d", "d/a", "d/sub/b", "dx", "e"} {
		sc.Set(p, fileStat(0))
	}

	sc.Delete("e", "missing")
	assert.Equal(t, 4, sc.Size())

	sc.DeleteTree("d/")
	assert.Equal(t, 1, sc.Size())
	_, found := sc.Get("dx")
	assert.True(t, found, "sibling with a common prefix survives")

	sc.Clear()
	assert.Equal(t, 0, sc.Size())
}

func TestStatCache_Truncation(t *testing.T) {
	sc, clock := newTestCache(t, 3, time.Hour)

	for _, p := range []string{"a", "b", "c"} {
		sc.Set(p, fileStat(0))
		clock.advance(time.Second)
	}
	_, _ = sc.Get("a")
	clock.advance(time.Second)

	sc.Set("d", fileStat(0))
	assert.Equal(t, 3, sc.Size())
	_, found := sc.Get("b")
	assert.False(t, found, "least recently accessed entry is evicted")
	_, found = sc.Get("a")
	assert.True(t, found)

	sc.Set("d", fileStat(1))
	assert.Equal(t, 3, sc.Size(), "overwriting does not evict")
}

func TestStatCache_SetMaxSize(t *testing.T) {
	sc, clock := newTestCache(t, 10, time.Hour)
	for _, p := range []string{"a", "b", "c", "d"} {
		sc.Set(p, fileStat(0))
		clock.advance(time.Second)
	}

	sc.SetMaxSize(2)
	assert.Equal(t, 2, sc.Size())
	_, found := sc.Get("d")
	assert.True(t, found)
}

func TestStatCache_SetTTL(t *testing.T) {
	sc, clock := newTestCache(t, 10, time.Hour)
	sc.SetTTL(time.Second)
	sc.Set("a", fileStat(0))

	clock.advance(2 * time.Second)
	_, found := sc.Get("a")
	assert.False(t, found)
}

func TestStatCache_CleanupGoroutine(t *testing.T) {
	sc := NewStatCache(10, 20*time.Millisecond)
	defer sc.Close()

	sc.Set("a", fileStat(0))
	assert.Eventually(t, func() bool { return sc.Size() == 0 }, time.Second, 10*time.Millisecond)
	require.NoError(t, sc.Close())
}
