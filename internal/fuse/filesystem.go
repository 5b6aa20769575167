// Package fuse exposes a directory of the virtual file layer as a FUSE mount.
package fuse

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// FS serves the tree below root. Nodes hold virtual paths; every kernel
// request is answered through the Manager.
type FS struct {
	m        *vsi.Manager
	root     string
	readOnly bool
	logger   *zap.Logger

	// ctx outlives single requests because handles keep the context they
	// were opened with.
	ctx context.Context

	mu   sync.Mutex
	open map[string]map[*Handle]struct{}
}

var _ fs.FS = (*FS)(nil)

// NewFS returns an FS rooted at the virtual directory root.
func NewFS(ctx context.Context, m *vsi.Manager, root string, readOnly bool, logger *zap.Logger) *FS {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		root = "/"
	}
	return &FS{
		m:        m,
		root:     root,
		readOnly: readOnly,
		logger:   logger,
		ctx:      ctx,
		open:     make(map[string]map[*Handle]struct{}),
	}
}

func (f *FS) track(hd *Handle) *Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.open[hd.path]
	if set == nil {
		set = make(map[*Handle]struct{})
		f.open[hd.path] = set
	}
	set[hd] = struct{}{}
	return hd
}

func (f *FS) untrack(hd *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open[hd.path], hd)
	if len(f.open[hd.path]) == 0 {
		delete(f.open, hd.path)
	}
}

func (f *FS) handles(p string) []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Handle, 0, len(f.open[p]))
	for hd := range f.open[p] {
		out = append(out, hd)
	}
	return out
}

func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f, path: f.root}, nil
}

// child keeps dir as is; cleaning would fold the double slash of chained
// paths such as /vsizip//data/a.zip.
func (f *FS) child(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + name
}

func (f *FS) attr(ctx context.Context, p string, a *fuse.Attr) error {
	st, err := f.m.Stat(ctx, p, vsi.StatAll)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(st, a, f.readOnly)
	return nil
}

func fillAttr(st *vsi.FileStat, a *fuse.Attr, readOnly bool) {
	a.Mode = st.Mode
	if a.Mode.Perm() == 0 {
		if st.IsDir() {
			a.Mode |= 0o755
		} else {
			a.Mode |= 0o644
		}
	}
	if readOnly {
		a.Mode &^= 0o222
	}
	if st.Size > 0 {
		a.Size = uint64(st.Size)
	}
	a.Mtime = st.ModTime
	a.Ctime = st.ModTime
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
}

func (f *FS) node(ctx context.Context, p string) (fs.Node, error) {
	st, err := f.m.Stat(ctx, p, vsi.StatNature)
	if err != nil {
		return nil, toErrno(err)
	}
	if st.IsDir() {
		return &Dir{fs: f, path: p}, nil
	}
	return &File{fs: f, path: p}, nil
}

func (f *FS) writable() error {
	if f.readOnly {
		return fuse.Errno(syscall.EROFS)
	}
	return nil
}

// Dir is a directory node.
type Dir struct {
	fs   *FS
	path string
}

var (
	_ fs.Node               = (*Dir)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
	_ fs.NodeRenamer        = (*Dir)(nil)
)

func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	if err := d.fs.attr(ctx, d.path, a); err != nil {
		if d.path != d.fs.root {
			return err
		}
		// A scheme root such as /vsis3/ may not stat on every backend.
		a.Mode = os.ModeDir | 0o755
	}
	return nil
}

func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	return d.fs.node(ctx, d.fs.child(d.path, name))
}

func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := d.fs.m.ReadDir(ctx, d.path)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]fuse.Dirent, 0, len(names))
	for _, name := range names {
		dirent := fuse.Dirent{Name: name, Type: fuse.DT_Unknown}
		if st, err := d.fs.m.Stat(ctx, d.fs.child(d.path, name), vsi.StatNature); err == nil {
			if st.IsDir() {
				dirent.Type = fuse.DT_Dir
			} else {
				dirent.Type = fuse.DT_File
			}
		}
		dirents = append(dirents, dirent)
	}
	return dirents, nil
}

func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if err := d.fs.writable(); err != nil {
		return nil, err
	}
	p := d.fs.child(d.path, req.Name)
	if err := d.fs.m.Mkdir(ctx, p, req.Mode.Perm()); err != nil {
		return nil, toErrno(err)
	}
	return &Dir{fs: d.fs, path: p}, nil
}

// Create opens the new file for writing and flushes it once so it is
// visible to Stat before the first Release.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if err := d.fs.writable(); err != nil {
		return nil, nil, err
	}
	p := d.fs.child(d.path, req.Name)
	flag := int(req.Flags) | os.O_CREATE
	h, err := d.fs.m.Open(d.fs.ctx, p, flag)
	if err != nil {
		return nil, nil, toErrno(err)
	}
	if err := h.Flush(); err != nil {
		h.Close()
		return nil, nil, toErrno(err)
	}
	d.fs.logger.Debug("created file", zap.String("path", p))
	hd := &Handle{fs: d.fs, path: p, h: h, writable: true}
	return &File{fs: d.fs, path: p}, d.fs.track(hd), nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	p := d.fs.child(d.path, req.Name)
	var err error
	if req.Dir {
		err = d.fs.m.Rmdir(ctx, p)
	} else {
		err = d.fs.m.Unlink(ctx, p)
	}
	return toErrno(err)
}

func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	if err := d.fs.writable(); err != nil {
		return err
	}
	target, ok := newDir.(*Dir)
	if !ok {
		return fuse.Errno(syscall.EINVAL)
	}
	from := d.fs.child(d.path, req.OldName)
	to := d.fs.child(target.path, req.NewName)
	return toErrno(d.fs.m.Rename(ctx, from, to))
}

// File is a regular file node.
type File struct {
	fs   *FS
	path string
}

var (
	_ fs.Node          = (*File)(nil)
	_ fs.NodeOpener    = (*File)(nil)
	_ fs.NodeSetattrer = (*File)(nil)
)

func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	return f.fs.attr(ctx, f.path, a)
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	flag := int(req.Flags) & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_TRUNC)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_TRUNC) != 0 {
		if err := f.fs.writable(); err != nil {
			return nil, err
		}
	}
	h, err := f.fs.m.Open(f.fs.ctx, f.path, flag)
	if err != nil {
		return nil, toErrno(err)
	}
	hd := &Handle{fs: f.fs, path: f.path, h: h, writable: flag&(os.O_WRONLY|os.O_RDWR) != 0}
	return f.fs.track(hd), nil
}

// Setattr handles truncation only. Other attributes are fixed by the
// backing scheme.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.fs.writable(); err != nil {
			return err
		}
		if err := f.truncate(int64(req.Size)); err != nil {
			return err
		}
	}
	if err := f.fs.attr(ctx, f.path, &resp.Attr); err != nil {
		return err
	}
	if req.Valid.Size() {
		resp.Attr.Size = req.Size
	}
	return nil
}

// truncate resizes the buffers of writable handles open on the file, or the
// stored file itself when there are none.
func (f *File) truncate(size int64) error {
	applied := false
	for _, hd := range f.fs.handles(f.path) {
		if !hd.writable {
			continue
		}
		if err := hd.truncate(size); err != nil {
			return toErrno(err)
		}
		applied = true
	}
	if applied {
		return nil
	}

	h, err := f.fs.m.Open(f.fs.ctx, f.path, os.O_RDWR)
	if err != nil {
		return toErrno(err)
	}
	if err := h.Truncate(size); err != nil {
		h.Close()
		return toErrno(err)
	}
	return toErrno(h.Close())
}

// Handle is an open file. FileHandles are not safe for concurrent use and
// the kernel may issue overlapping requests, so calls are serialized.
type Handle struct {
	mu       sync.Mutex
	fs       *FS
	path     string
	h        vsi.FileHandle
	writable bool
}

var (
	_ fs.HandleReader   = (*Handle)(nil)
	_ fs.HandleWriter   = (*Handle)(nil)
	_ fs.HandleFlusher  = (*Handle)(nil)
	_ fs.HandleReleaser = (*Handle)(nil)
)

func (hd *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	hd.mu.Lock()
	defer hd.mu.Unlock()

	if _, err := hd.h.Seek(req.Offset, io.SeekStart); err != nil {
		return toErrno(err)
	}
	buf := make([]byte, req.Size)
	n, err := io.ReadFull(hd.h, buf)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	default:
		return toErrno(err)
	}
	resp.Data = buf[:n]
	return nil
}

func (hd *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	hd.mu.Lock()
	defer hd.mu.Unlock()

	if _, err := hd.h.Seek(req.Offset, io.SeekStart); err != nil {
		return toErrno(err)
	}
	n, err := hd.h.Write(req.Data)
	resp.Size = n
	return toErrno(err)
}

func (hd *Handle) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return toErrno(hd.h.Flush())
}

func (hd *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	hd.fs.untrack(hd)
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return toErrno(hd.h.Close())
}

func (hd *Handle) truncate(size int64) error {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.h.Truncate(size)
}
