package archive

import (
	"context"
	"os"
	"strconv"

	"github.com/klauspost/compress/zip"

	"github.com/vsifs/vsifs-go/internal/handle"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// ZipPrefix is the scheme prefix of zip archives.
const ZipPrefix = "/vsizip/"

// Zip reads zip archives, including zip-based document formats.
type Zip struct {
	m *vsi.Manager
}

// NewZip returns the zip Format. Archive files are opened through m.
func NewZip(m *vsi.Manager) *Zip {
	return &Zip{m: m}
}

// NewZipHandler returns a Handler serving /vsizip/.
func NewZipHandler(m *vsi.Manager, opts ...Option) *Handler {
	return New(m, NewZip(m), opts...)
}

func (z *Zip) Prefix() string { return ZipPrefix }

func (z *Zip) Extensions() []string {
	return []string{".zip", ".kmz", ".dwf", ".ods", ".xlsx"}
}

func (z *Zip) CreateReader(ctx context.Context, archivePath string) (Reader, error) {
	h, err := z.m.Open(ctx, archivePath, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	size, err := handle.Size(h)
	if err != nil {
		h.Close()
		return nil, vsi.IOError("open", archivePath, err)
	}
	zr, err := zip.NewReader(handle.NewReaderAt(h), size)
	if err != nil {
		h.Close()
		return nil, vsi.IOError("open", archivePath, err)
	}
	return &zipReader{ctx: ctx, m: z.m, archivePath: archivePath, h: h, zr: zr, idx: -1}, nil
}

// zipOffset is the index of a member in the central directory.
type zipOffset int

func (o zipOffset) String() string { return "zip#" + strconv.Itoa(int(o)) }

type zipReader struct {
	ctx         context.Context
	m           *vsi.Manager
	archivePath string
	h           vsi.FileHandle
	zr          *zip.Reader
	idx         int
}

func (r *zipReader) current() *zip.File {
	if r.idx < 0 || r.idx >= len(r.zr.File) {
		return nil
	}
	return r.zr.File[r.idx]
}

func (r *zipReader) GotoFirstFile() (bool, error) {
	r.idx = 0
	return len(r.zr.File) > 0, nil
}

func (r *zipReader) GotoNextFile() (bool, error) {
	if r.idx < len(r.zr.File) {
		r.idx++
	}
	return r.idx < len(r.zr.File), nil
}

func (r *zipReader) FileOffset() FileOffset { return zipOffset(r.idx) }

func (r *zipReader) FileSize() int64 {
	if f := r.current(); f != nil {
		return int64(f.UncompressedSize64)
	}
	return 0
}

func (r *zipReader) FileName() string {
	if f := r.current(); f != nil {
		return f.Name
	}
	return ""
}

func (r *zipReader) ModifiedTime() int64 {
	if f := r.current(); f != nil {
		return f.Modified.Unix()
	}
	return 0
}

func (r *zipReader) GotoFileOffset(off FileOffset) bool {
	zo, ok := off.(zipOffset)
	if !ok || int(zo) < 0 || int(zo) >= len(r.zr.File) {
		return false
	}
	r.idx = int(zo)
	return true
}

// Open returns stored members as a window on the archive file and
// compressed members as a decompressing stream.
func (r *zipReader) Open() (vsi.FileHandle, error) {
	f := r.current()
	if f == nil {
		return nil, vsi.PathError("open", r.archivePath, vsi.ErrNotFound)
	}
	name := r.archivePath + "/" + f.Name

	if f.Method == zip.Store {
		dataOffset, err := f.DataOffset()
		if err != nil {
			return nil, err
		}
		base, err := r.m.Open(r.ctx, r.archivePath, os.O_RDONLY)
		if err != nil {
			return nil, err
		}
		return handle.NewSection(name, base, dataOffset, int64(f.CompressedSize64)), nil
	}
	return handle.NewStream(name, f.Open, int64(f.UncompressedSize64)), nil
}

func (r *zipReader) Close() error {
	if r.h == nil {
		return nil
	}
	err := r.h.Close()
	r.h = nil
	return err
}
