package vsi

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubHandler is a named handler that records the calls routed to it.
type stubHandler struct {
	UnimplementedHandler
	name        string
	closed      int
	invalidated []string
	mu          sync.Mutex
}

func (s *stubHandler) Open(_ context.Context, path string, _ int) (FileHandle, error) {
	return newBytesHandle(path, []byte(s.name)), nil
}

func (s *stubHandler) Stat(_ context.Context, path string, _ StatFlag) (*FileStat, error) {
	return &FileStat{Size: int64(len(s.name))}, nil
}

func (s *stubHandler) Unlink(_ context.Context, path string) error {
	return nil
}

func (s *stubHandler) Close() error {
	s.closed++
	return nil
}

func (s *stubHandler) Invalidate(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, paths...)
}

// cleaningHandler spells every path the same way.
type cleaningHandler struct {
	stubHandler
}

func (*cleaningHandler) CleanPath(string) string {
	return "kept"
}

func TestManager_LongestPrefixWins(t *testing.T) {
	def := &stubHandler{name: "default"}
	short := &stubHandler{name: "short"}
	long := &stubHandler{name: "long"}

	m := NewManager(def)
	m.InstallHandler("/vsi", short)
	m.InstallHandler("/vsizip/", long)

	assert.Same(t, long, m.Handler("/vsizip/a.zip/b.txt"))
	assert.Same(t, short, m.Handler("/vsitar/a.tar"))
	assert.Same(t, def, m.Handler("/tmp/a.txt"))
	assert.Same(t, def, m.Handler("relative/path"))
}

func TestManager_PrefixWithoutTrailingSlash(t *testing.T) {
	def := &stubHandler{name: "default"}
	mem := &stubHandler{name: "mem"}

	m := NewManager(def)
	m.InstallHandler("/vsimem/", mem)

	assert.Same(t, mem, m.Handler("/vsimem"))
	assert.Same(t, def, m.Handler("/vsimemory"))
}

func TestManager_InstallAndRemove(t *testing.T) {
	def := &stubHandler{name: "default"}
	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second"}

	m := NewManager(def)
	m.InstallHandler("/vsimem/", first)
	assert.Same(t, first, m.Handler("/vsimem/x"))

	m.InstallHandler("/vsimem/", second)
	assert.Same(t, second, m.Handler("/vsimem/x"))
	assert.Equal(t, 0, first.closed, "replaced handler must stay usable")

	m.RemoveHandler("/vsimem/")
	assert.Same(t, def, m.Handler("/vsimem/x"))
	assert.Empty(t, m.Prefixes())

	require.NoError(t, m.Close())
	assert.Equal(t, 1, first.closed)
	assert.Equal(t, 1, second.closed)
	assert.Equal(t, 1, def.closed)
}

func TestManager_OpenRoutesToHandler(t *testing.T) {
	m := NewManager(&stubHandler{name: "default"})
	m.InstallHandler("/vsimem/", &stubHandler{name: "mem"})

	data, err := m.ReadFile(context.Background(), "/vsimem/file")
	require.NoError(t, err)
	assert.Equal(t, "mem", string(data))

	data, err = m.ReadFile(context.Background(), "/tmp/file")
	require.NoError(t, err)
	assert.Equal(t, "default", string(data))
}

func TestManager_MutationsNotifyInvalidators(t *testing.T) {
	def := &stubHandler{name: "default"}
	watcher := &stubHandler{name: "zip"}

	m := NewManager(def)
	m.InstallHandler("/vsizip/", watcher)

	require.NoError(t, m.Unlink(context.Background(), "/data/a.zip"))
	assert.Equal(t, []string{"/data/a.zip"}, watcher.invalidated)

	err := m.Mkdir(context.Background(), "/data/dir", 0o755)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, []string{"/data/a.zip"}, watcher.invalidated, "failed mutation must not notify")
}

func TestManager_WriteHandleNotifiesOnFlushAndClose(t *testing.T) {
	watcher := &stubHandler{name: "zip"}
	m := NewManager(&stubHandler{name: "default"})
	m.InstallHandler("/vsizip/", watcher)
	ctx := context.Background()

	r, err := m.Open(ctx, "/data/a.zip", os.O_RDONLY)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Empty(t, watcher.invalidated)

	w, err := m.Open(ctx, "/data/a.zip", os.O_RDWR)
	require.NoError(t, err)
	assert.Len(t, watcher.invalidated, 1)

	require.NoError(t, w.Flush())
	assert.Len(t, watcher.invalidated, 2)

	data := make([]byte, 3)
	require.NoError(t, ReadMultiRange(w, []Range{{Offset: 4, Data: data}}))
	assert.Equal(t, "ult", string(data))
	_, ok := NativeDescriptor(w)
	assert.False(t, ok)

	require.NoError(t, w.Close())
	assert.Equal(t, []string{"/data/a.zip", "/data/a.zip", "/data/a.zip"}, watcher.invalidated)
}

func TestManager_CleanPath(t *testing.T) {
	m := NewManager(&stubHandler{name: "default"})
	m.InstallHandler("/vsimem/", &stubHandler{name: "mem"})
	m.InstallHandler("/vsizip/", &stubHandler{name: "zip"})
	m.InstallHandler("/vsigzip/", &cleaningHandler{})

	tests := []struct {
		in, want string
	}{
		{"/vsimem/a.zip", "/vsimem/a.zip"},
		{"/vsimem//a.zip", "/vsimem/a.zip"},
		{"/vsimem/d/./../a.zip", "/vsimem/a.zip"},
		{"/vsimem/", "/vsimem/"},
		{"/vsimem", "/vsimem/"},
		{"./a.zip", "a.zip"},
		{"/tmp//x/a.zip", "/tmp/x/a.zip"},
		{"/vsizip//tmp/./a.zip", "/vsizip/tmp/a.zip"},
		{"/vsigzip//tmp/./a.gz", "kept"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, m.CleanPath(tt.in))
		})
	}
}

func TestManager_RenameAcrossHandlers(t *testing.T) {
	m := NewManager(&stubHandler{name: "default"})
	m.InstallHandler("/vsimem/", &stubHandler{name: "mem"})

	err := m.Rename(context.Background(), "/vsimem/a", "/tmp/a")
	require.Error(t, err)
	assert.Equal(t, KindNotSupported, KindOf(err))
}

func TestManager_ConcurrentLookups(t *testing.T) {
	m := NewManager(&stubHandler{name: "default"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.InstallHandler("/vsimem/", &stubHandler{name: "mem"})
				_ = m.Handler("/vsimem/x")
				if j%10 == 0 {
					m.RemoveHandler("/vsimem/")
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", PathError("open", "/x", ErrNotFound), KindNotFound},
		{"os not exist", &fs.PathError{Op: "open", Path: "/x", Err: os.ErrNotExist}, KindNotFound},
		{"not supported", NotSupported("unlink", "/x"), KindNotSupported},
		{"io", IOError("read", "/x", errors.New("connection reset")), KindIO},
		{"invalid path", PathError("open", "/x", ErrInvalidPath), KindInvalidPath},
		{"is directory", PathError("open", "/x", ErrIsDirectory), KindInvalidPath},
		{"closed", PathError("read", "/x", ErrClosed), KindClosed},
		{"unknown", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIOError_KeepsSpecificKind(t *testing.T) {
	cause := PathError("stat", "/x", ErrNotFound)
	err := IOError("open", "/x", cause)
	assert.Equal(t, KindNotFound, KindOf(err))

	wrapped := IOError("open", "/x", errors.New("disk on fire"))
	assert.ErrorIs(t, wrapped, ErrIO)
	assert.Contains(t, wrapped.Error(), "disk on fire")
}
