package handle

import (
	"errors"
	"io"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vsifs/vsifs-go/internal/metrics"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// DefaultChunkSize is used when NewCachedFile is given a chunk size of 0.
const DefaultChunkSize = 32 * 1024

// CachedFile serves reads from fixed-size chunks of base kept in an LRU.
// It is read-only and takes ownership of base.
type CachedFile struct {
	vsi.HandleBase
	base      vsi.FileHandle
	chunkSize int64
	chunks    *lru.Cache[int64, []byte]
	size      int64 // -1 until known
	pos       int64
	eof       bool
}

// NewCachedFile wraps base. cacheSize is the byte budget of the chunk cache;
// 0 keeps every chunk that was read.
func NewCachedFile(name string, base vsi.FileHandle, chunkSize int, cacheSize int64) (*CachedFile, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	capacity := math.MaxInt32
	if cacheSize > 0 {
		capacity = int(cacheSize / int64(chunkSize))
		if capacity < 1 {
			capacity = 1
		}
	}
	chunks, err := lru.New[int64, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedFile{
		HandleBase: vsi.HandleBase{Name: name},
		base:       base,
		chunkSize:  int64(chunkSize),
		chunks:     chunks,
		size:       -1,
	}, nil
}

// chunk returns chunk idx, loading it from base on a miss. The last chunk
// of the file may be short; a chunk past the end is empty.
func (c *CachedFile) chunk(idx int64) ([]byte, error) {
	if data, ok := c.chunks.Get(idx); ok {
		metrics.ChunkHits.Inc()
		return data, nil
	}
	metrics.ChunkMisses.Inc()

	off := idx * c.chunkSize
	if _, err := c.base.Seek(off, io.SeekStart); err != nil {
		return nil, vsi.IOError("read", c.Name, err)
	}
	data := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.base, data)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, vsi.IOError("read", c.Name, err)
	}
	data = data[:n]
	if int64(n) < c.chunkSize {
		c.size = off + int64(n)
	}
	c.chunks.Add(idx, data)
	return data, nil
}

func (c *CachedFile) Read(p []byte) (int, error) {
	if err := c.Guard("read"); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		if c.size >= 0 && c.pos >= c.size {
			c.eof = true
			break
		}
		idx := c.pos / c.chunkSize
		data, err := c.chunk(idx)
		if err != nil {
			return total, err
		}
		within := c.pos - idx*c.chunkSize
		if within >= int64(len(data)) {
			c.eof = true
			break
		}
		n := copy(p[total:], data[within:])
		total += n
		c.pos += int64(n)
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (c *CachedFile) Write([]byte) (int, error) {
	if err := c.Guard("write"); err != nil {
		return 0, err
	}
	return 0, vsi.NotSupported("write", c.Name)
}

func (c *CachedFile) Seek(offset int64, whence int) (int64, error) {
	if err := c.Guard("seek"); err != nil {
		return 0, err
	}
	if whence == io.SeekEnd && c.size < 0 {
		size, err := c.base.Seek(0, io.SeekEnd)
		if err != nil {
			return c.pos, vsi.IOError("seek", c.Name, err)
		}
		c.size = size
	}
	target, err := SeekTarget(c.Name, c.pos, c.size, offset, whence)
	if err != nil {
		return c.pos, err
	}
	c.pos = target
	c.eof = false
	return target, nil
}

func (c *CachedFile) Tell() int64 { return c.pos }

func (c *CachedFile) EOF() bool { return c.eof }

// Cached reports how many chunks are held.
func (c *CachedFile) Cached() int { return c.chunks.Len() }

func (c *CachedFile) NativeDescriptor() (uintptr, bool) {
	return vsi.NativeDescriptor(c.base)
}

func (c *CachedFile) Close() error {
	if !c.MarkClosed() {
		return nil
	}
	c.chunks.Purge()
	return c.base.Close()
}
