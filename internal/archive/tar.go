package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/vsifs/vsifs-go/internal/handle"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// TarPrefix is the scheme prefix of tar archives.
const TarPrefix = "/vsitar/"

// Tar reads plain and gzip-compressed tar archives.
type Tar struct {
	m *vsi.Manager
}

// NewTar returns the tar Format. Archive files are opened through m.
func NewTar(m *vsi.Manager) *Tar {
	return &Tar{m: m}
}

// NewTarHandler returns a Handler serving /vsitar/.
func NewTarHandler(m *vsi.Manager, opts ...Option) *Handler {
	return New(m, NewTar(m), opts...)
}

func (t *Tar) Prefix() string { return TarPrefix }

func (t *Tar) Extensions() []string {
	return []string{".tar", ".tgz", ".tar.gz"}
}

func isCompressedTar(archivePath string) bool {
	lower := strings.ToLower(archivePath)
	return strings.HasSuffix(lower, ".tgz") || strings.HasSuffix(lower, ".tar.gz")
}

func (t *Tar) CreateReader(ctx context.Context, archivePath string) (Reader, error) {
	h, err := t.m.Open(ctx, archivePath, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return &tarReader{
		ctx:         ctx,
		m:           t.m,
		archivePath: archivePath,
		h:           h,
		compressed:  isCompressedTar(archivePath),
	}, nil
}

// tarOffset locates a member's data in the uncompressed tar stream and
// carries the header fields needed to serve it without rescanning.
type tarOffset struct {
	index      int
	dataOffset int64
	size       int64
	name       string
	modTime    int64
}

func (o *tarOffset) String() string {
	return fmt.Sprintf("tar#%d@%d", o.index, o.dataOffset)
}

// countingReader tracks how many bytes tar.Reader consumed. tar.Reader reads
// whole 512-byte blocks, so after Next the count is the data offset.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type tarReader struct {
	ctx         context.Context
	m           *vsi.Manager
	archivePath string
	h           vsi.FileHandle
	compressed  bool

	gz  *gzip.Reader
	cr  *countingReader
	tr  *tar.Reader
	idx int
	cur *tarOffset
}

func (r *tarReader) restart() error {
	if _, err := r.h.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var src io.Reader = r.h
	if r.compressed {
		if r.gz == nil {
			gz, err := gzip.NewReader(r.h)
			if err != nil {
				return err
			}
			r.gz = gz
		} else if err := r.gz.Reset(r.h); err != nil {
			return err
		}
		src = r.gz
	}
	r.cr = &countingReader{r: src}
	r.tr = tar.NewReader(r.cr)
	r.idx = -1
	r.cur = nil
	return nil
}

func (r *tarReader) GotoFirstFile() (bool, error) {
	if err := r.restart(); err != nil {
		return false, err
	}
	return r.GotoNextFile()
}

func (r *tarReader) GotoNextFile() (bool, error) {
	if r.tr == nil {
		return r.GotoFirstFile()
	}
	for {
		hdr, err := r.tr.Next()
		if errors.Is(err, io.EOF) {
			r.cur = nil
			return false, nil
		}
		if err != nil {
			return false, err
		}
		name := hdr.Name
		switch hdr.Typeflag {
		case tar.TypeReg:
		case tar.TypeDir:
			if !strings.HasSuffix(name, "/") {
				name += "/"
			}
		default:
			// Links, devices and fifos have no data to serve.
			continue
		}
		r.idx++
		r.cur = &tarOffset{
			index:      r.idx,
			dataOffset: r.cr.n,
			size:       hdr.Size,
			name:       name,
			modTime:    hdr.ModTime.Unix(),
		}
		return true, nil
	}
}

func (r *tarReader) FileOffset() FileOffset {
	if r.cur == nil {
		return nil
	}
	return r.cur
}

func (r *tarReader) FileSize() int64 {
	if r.cur == nil {
		return 0
	}
	return r.cur.size
}

func (r *tarReader) FileName() string {
	if r.cur == nil {
		return ""
	}
	return r.cur.name
}

func (r *tarReader) ModifiedTime() int64 {
	if r.cur == nil {
		return 0
	}
	return r.cur.modTime
}

func (r *tarReader) GotoFileOffset(off FileOffset) bool {
	to, ok := off.(*tarOffset)
	if !ok || to == nil {
		return false
	}
	r.cur = to
	return true
}

// Open serves a plain tar member as a window on the archive file. Members of
// compressed tars are re-read from the start of the stream on demand.
func (r *tarReader) Open() (vsi.FileHandle, error) {
	if r.cur == nil {
		return nil, vsi.PathError("open", r.archivePath, vsi.ErrNotFound)
	}
	cur := *r.cur
	name := r.archivePath + "/" + strings.TrimSuffix(cur.name, "/")

	if !r.compressed {
		base, err := r.m.Open(r.ctx, r.archivePath, os.O_RDONLY)
		if err != nil {
			return nil, err
		}
		return handle.NewSection(name, base, cur.dataOffset, cur.size), nil
	}

	open := func() (io.ReadCloser, error) {
		base, err := r.m.Open(r.ctx, r.archivePath, os.O_RDONLY)
		if err != nil {
			return nil, err
		}
		buffered := handle.NewBufferedReader(r.archivePath, base)
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			buffered.Close()
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, gz, cur.dataOffset); err != nil {
			gz.Close()
			buffered.Close()
			return nil, err
		}
		return &gzipMember{Reader: io.LimitReader(gz, cur.size), gz: gz, base: buffered}, nil
	}
	return handle.NewStream(name, open, cur.size), nil
}

func (r *tarReader) Close() error {
	if r.h == nil {
		return nil
	}
	if r.gz != nil {
		r.gz.Close()
		r.gz = nil
	}
	err := r.h.Close()
	r.h = nil
	return err
}

// gzipMember is one member's data inside a decompressed tar stream.
type gzipMember struct {
	io.Reader
	gz   *gzip.Reader
	base vsi.FileHandle
}

func (g *gzipMember) Close() error {
	g.gz.Close()
	return g.base.Close()
}
