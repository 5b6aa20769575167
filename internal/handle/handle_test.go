package handle

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// memHandle is a read/write in-memory base handle that counts calls.
type memHandle struct {
	vsi.HandleBase
	data    []byte
	pos     int64
	reads   int
	flushes int
	closes  int
}

func newMem(data string) *memHandle {
	return &memHandle{HandleBase: vsi.HandleBase{Name: "mem"}, data: []byte(data)}
}

func (m *memHandle) Read(p []byte) (int, error) {
	if err := m.Guard("read"); err != nil {
		return 0, err
	}
	m.reads++
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memHandle) Write(p []byte) (int, error) {
	if err := m.Guard("write"); err != nil {
		return 0, err
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memHandle) Seek(offset int64, whence int) (int64, error) {
	if err := m.Guard("seek"); err != nil {
		return 0, err
	}
	target, err := SeekTarget(m.Name, m.pos, int64(len(m.data)), offset, whence)
	if err != nil {
		return m.pos, err
	}
	m.pos = target
	return target, nil
}

func (m *memHandle) Tell() int64 { return m.pos }
func (m *memHandle) EOF() bool   { return m.pos >= int64(len(m.data)) }

func (m *memHandle) Flush() error {
	m.flushes++
	return nil
}

func (m *memHandle) Close() error {
	m.closes++
	m.MarkClosed()
	return nil
}

func TestSection(t *testing.T) {
	base := newMem("headerPAYLOADtrailer")
	s := NewSection("member", base, 6, 7)

	data, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "PAYLOAD", string(data))
	assert.True(t, s.EOF())

	pos, err := s.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)
	buf := make([]byte, 10)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "LOAD", string(buf[:n]))

	_, err = s.Write([]byte("x"))
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))

	_, err = s.Seek(-1, io.SeekStart)
	assert.Equal(t, vsi.KindInvalidPath, vsi.KindOf(err))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, base.closes)
	_, err = s.Read(buf)
	assert.Equal(t, vsi.KindClosed, vsi.KindOf(err))
}

func TestStream_SeekAndReopen(t *testing.T) {
	opens := 0
	open := func() (io.ReadCloser, error) {
		opens++
		return io.NopCloser(strings.NewReader("0123456789")), nil
	}
	s := NewStream("stream", open, -1)

	_, err := s.Seek(4, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "456", string(buf))
	assert.Equal(t, 1, opens)

	// Forward seeks skip on the open source.
	_, err = s.Seek(1, io.SeekCurrent)
	require.NoError(t, err)
	_, err = io.ReadFull(s, buf[:2])
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:2]))
	assert.Equal(t, 1, opens)

	// Backward seeks restart it.
	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "012", string(buf))
	assert.Equal(t, 2, opens)

	size, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	n, err := s.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	assert.True(t, s.EOF())
	require.NoError(t, s.Close())
}

func TestStream_SeekPastEnd(t *testing.T) {
	s := NewStream("stream", func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("abc")), nil
	}, -1)

	_, err := s.Seek(100, io.SeekStart)
	require.NoError(t, err)
	_, err = s.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestBufferedReader_SmallReadsHitWindow(t *testing.T) {
	base := newMem(strings.Repeat("abcdefgh", 1024))
	b := NewBufferedReader("buffered", base)

	buf := make([]byte, 8)
	for i := 0; i < 100; i++ {
		_, err := io.ReadFull(b, buf)
		require.NoError(t, err)
		assert.Equal(t, "abcdefgh", string(buf))
	}
	readsAfterFirstWindow := base.reads
	assert.LessOrEqual(t, readsAfterFirstWindow, 2)

	// A seek inside the window keeps it.
	_, err := b.Seek(16, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, readsAfterFirstWindow, base.reads)
}

func TestBufferedReader_WriteInvalidatesWindow(t *testing.T) {
	base := newMem("hello world")
	b := NewBufferedReader("buffered", base)

	buf := make([]byte, 5)
	_, err := io.ReadFull(b, buf)
	require.NoError(t, err)

	_, err = b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Tell())

	_, err = b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(all))
	assert.True(t, b.EOF())

	require.NoError(t, b.Flush())
	assert.Equal(t, 1, base.flushes)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, base.closes)
	assert.Equal(t, vsi.KindClosed, vsi.KindOf(b.Flush()))
}

func TestCachedFile_SecondReadServedFromCache(t *testing.T) {
	base := newMem(strings.Repeat("x", 100) + strings.Repeat("y", 100))
	c, err := NewCachedFile("cached", base, 64, 0)
	require.NoError(t, err)

	first, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Len(t, first, 200)
	readsAfterFirst := base.reads

	_, err = c.Seek(0, io.SeekStart)
	require.NoError(t, err)
	second, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, readsAfterFirst, base.reads)
	assert.Equal(t, 4, c.Cached())
}

func TestCachedFile_BoundedCache(t *testing.T) {
	base := newMem(strings.Repeat("z", 1000))
	c, err := NewCachedFile("cached", base, 100, 200)
	require.NoError(t, err)

	_, err = io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Cached())

	size, err := c.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), size)
}

func TestCachedFile_ReadOnly(t *testing.T) {
	c, err := NewCachedFile("cached", newMem("abc"), 0, 0)
	require.NoError(t, err)

	_, err = c.Write([]byte("x"))
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(c.Truncate(0)))

	require.NoError(t, c.Close())
	_, err = c.Read(make([]byte, 1))
	assert.Equal(t, vsi.KindClosed, vsi.KindOf(err))
}

func TestGZipWritable_Gzip(t *testing.T) {
	base := newMem("")
	g := NewGZipWritable("out.gz", base, false, true)

	payload := strings.Repeat("compress me ", 500)
	_, err := io.WriteString(g, payload)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), g.Tell())

	pos, err := g.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), pos)
	_, err = g.Seek(0, io.SeekStart)
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))
	_, err = g.Read(make([]byte, 1))
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, base.closes)

	zr, err := gzip.NewReader(bytes.NewReader(base.data))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))
}

func TestGZipWritable_ZLibKeepsBaseOpen(t *testing.T) {
	base := newMem("")
	g := NewGZipWritable("out.zz", base, true, false)

	_, err := io.WriteString(g, "hello zlib")
	require.NoError(t, err)
	require.NoError(t, g.Flush())
	require.NoError(t, g.Close())
	assert.Equal(t, 0, base.closes)

	zr, err := zlib.NewReader(bytes.NewReader(base.data))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "hello zlib", string(decoded))

	_, err = g.Write([]byte("late"))
	assert.Equal(t, vsi.KindClosed, vsi.KindOf(err))
}

func TestReaderAt(t *testing.T) {
	h := newMem("0123456789")
	r := NewReaderAt(h)

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))

	n, err = r.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buf[:n]))

	size, err := Size(h)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}
