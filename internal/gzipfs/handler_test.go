package gzipfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsifs/vsifs-go/internal/billyfs"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

func newManager(t *testing.T) *vsi.Manager {
	t.Helper()
	m := vsi.NewManager(billyfs.NewLocal())
	m.InstallHandler(billyfs.MemPrefix, billyfs.NewMemory())
	m.InstallHandler(Prefix, New(m))
	return m
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	payload := strings.Repeat("gzip scheme round trip\n", 200)

	require.NoError(t, m.WriteFile(ctx, "/vsigzip//vsimem/out.gz", []byte(payload)))

	raw, err := m.ReadFile(ctx, "/vsimem/out.gz")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	decoded, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(decoded))

	data, err := m.ReadFile(ctx, "/vsigzip//vsimem/out.gz")
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestReadSeek(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := io.WriteString(zw, "0123456789abcdef")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, m.WriteFile(ctx, "/vsimem/in.gz", buf.Bytes()))

	h, err := m.Open(ctx, "/vsigzip/vsimem/in.gz", os.O_RDONLY)
	require.NoError(t, err)

	size, err := h.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(16), size)

	_, err = h.Seek(10, io.SeekStart)
	require.NoError(t, err)
	p := make([]byte, 6)
	_, err = io.ReadFull(h, p)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(p))

	_, err = h.Seek(2, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(h, p[:3])
	require.NoError(t, err)
	assert.Equal(t, "234", string(p[:3]))

	_, err = h.Write([]byte("x"))
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	payload := strings.Repeat("x", 5000)
	require.NoError(t, m.WriteFile(ctx, "/vsigzip//vsimem/s.gz", []byte(payload)))

	st, err := m.Stat(ctx, "/vsigzip//vsimem/s.gz", vsi.StatAll)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), st.Size)
	assert.True(t, st.IsRegular())

	compressed, err := m.Stat(ctx, "/vsigzip//vsimem/s.gz", vsi.StatExists)
	require.NoError(t, err)
	assert.Less(t, compressed.Size, int64(5000))

	_, err = m.Stat(ctx, "/vsigzip//vsimem/none.gz", vsi.StatExists)
	assert.Equal(t, vsi.KindNotFound, vsi.KindOf(err))
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	require.NoError(t, m.WriteFile(ctx, "/vsimem/plain.txt", []byte("not gzip")))

	_, err := m.Open(ctx, "/vsigzip//vsimem/plain.txt", os.O_RDONLY)
	assert.Equal(t, vsi.KindIO, vsi.KindOf(err))

	_, err = m.Open(ctx, "/vsigzip//vsimem/a.gz", os.O_RDWR)
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))

	_, err = m.Open(ctx, "/vsigzip/", os.O_RDONLY)
	assert.Equal(t, vsi.KindInvalidPath, vsi.KindOf(err))

	_, err = m.ReadDir(ctx, "/vsigzip//vsimem")
	assert.Equal(t, vsi.KindNotSupported, vsi.KindOf(err))
}
