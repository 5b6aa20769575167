// Package blobfs serves a flat object store as a vsi scheme. Directories do
// not exist as objects: a directory is any key prefix ending in '/', and
// Mkdir leaves a .keep marker so empty directories survive.
package blobfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/cache"
	"github.com/vsifs/vsifs-go/internal/handle"
	"github.com/vsifs/vsifs-go/internal/metrics"
	"github.com/vsifs/vsifs-go/internal/storage"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// Scheme prefixes of the object store handlers.
const (
	S3Prefix       = "/vsis3/"
	PostgresPrefix = "/vsipg/"
	MongoPrefix    = "/vsimongo/"
)

// KeepMarker is the object Mkdir creates inside a new directory.
const KeepMarker = ".keep"

// Private stat cache settings used without WithStatCache.
const (
	DefaultStatCapacity = 10000
	DefaultStatTTL      = 30 * time.Second
)

const (
	dirMode  = fs.ModeDir | 0o755
	permMask = 0o777
)

// Handler maps paths under prefix onto keys of a storage backend.
type Handler struct {
	prefix    string
	scheme    string
	backend   storage.Backend
	stats     *cache.StatCache
	ownStats  bool
	chunkSize int
	cacheSize int64
	logger    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStatCache makes the handler use sc instead of a private cache. The
// caller keeps ownership of sc.
func WithStatCache(sc *cache.StatCache) Option {
	return func(h *Handler) {
		h.stats = sc
	}
}

// WithChunkCache sets the chunk size and byte budget of read handles.
func WithChunkCache(chunkSize int, cacheSize int64) Option {
	return func(h *Handler) {
		h.chunkSize = chunkSize
		h.cacheSize = cacheSize
	}
}

// New serves backend under prefix, e.g. "/vsis3/".
func New(prefix string, backend storage.Backend, opts ...Option) *Handler {
	h := &Handler{
		prefix:    prefix,
		scheme:    strings.Trim(strings.TrimPrefix(prefix, "/vsi"), "/"),
		backend:   backend,
		chunkSize: handle.DefaultChunkSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.stats == nil {
		h.stats = cache.NewStatCache(DefaultStatCapacity, DefaultStatTTL)
		h.ownStats = true
	}
	return h
}

// Prefix returns the scheme prefix served.
func (h *Handler) Prefix() string { return h.prefix }

// Backend returns the storage backend.
func (h *Handler) Backend() storage.Backend { return h.backend }

// key maps a path to its object key. The scheme root maps to "".
func (h *Handler) key(op, p string) (string, error) {
	rest, ok := strings.CutPrefix(p, h.prefix)
	if !ok {
		if p+"/" != h.prefix {
			return "", vsi.PathError(op, p, vsi.ErrInvalidPath)
		}
		rest = ""
	}
	if rest == "" {
		return "", nil
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+rest), "/")
	return cleaned, nil
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

// call runs one backend request, counting it and its failure.
func (h *Handler) call(op string, fn func() error) error {
	metrics.BackendRequests.WithLabelValues(h.scheme, op).Inc()
	err := fn()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		metrics.BackendErrors.WithLabelValues(h.scheme, op).Inc()
		h.logger.Debug("backend request failed",
			zap.String("scheme", h.scheme), zap.String("op", op), zap.Error(err))
	}
	return err
}

func (h *Handler) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := h.call("list", func() (err error) {
		keys, err = h.backend.List(ctx, prefix)
		return err
	})
	return keys, err
}

// stat looks key up, consulting the stat cache first. A nil result with a
// nil error means the key does not exist.
func (h *Handler) stat(ctx context.Context, key string) (*vsi.FileStat, error) {
	if key == "" {
		return &vsi.FileStat{Mode: dirMode}, nil
	}
	if st, found := h.stats.Get(key); found {
		metrics.StatCacheHits.WithLabelValues(h.scheme).Inc()
		return st, nil
	}

	var attr *storage.Attr
	err := h.call("stat", func() (err error) {
		attr, err = h.backend.GetAttr(ctx, key)
		return err
	})
	switch {
	case err == nil:
		st := &vsi.FileStat{
			Size:    attr.Size,
			ModTime: attr.Mtime,
			Mode:    fs.FileMode(attr.Mode & permMask),
		}
		h.stats.Set(key, st)
		return st, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	keys, err := h.list(ctx, dirPrefix(key))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		h.stats.SetMissing(key)
		return nil, nil
	}
	st := &vsi.FileStat{Mode: dirMode}
	h.stats.Set(key, st)
	return st, nil
}

// forget drops cached stats of key and of its ancestors, whose existence
// may have changed with it.
func (h *Handler) forget(key string) {
	paths := []string{key}
	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		paths = append(paths, dir)
	}
	h.stats.Delete(paths...)
}

func (h *Handler) Stat(ctx context.Context, p string, _ vsi.StatFlag) (*vsi.FileStat, error) {
	key, err := h.key("stat", p)
	if err != nil {
		return nil, err
	}
	st, err := h.stat(ctx, key)
	if err != nil {
		return nil, vsi.IOError("stat", p, err)
	}
	if st == nil {
		return nil, vsi.PathError("stat", p, vsi.ErrNotFound)
	}
	return st, nil
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// Open returns a chunk-cached range reader for read-only access. Any write
// flag yields a buffered handle uploaded on Flush and Close.
func (h *Handler) Open(ctx context.Context, p string, flag int) (vsi.FileHandle, error) {
	key, err := h.key("open", p)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, vsi.PathError("open", p, vsi.ErrIsDirectory)
	}
	st, err := h.stat(ctx, key)
	if err != nil {
		return nil, vsi.IOError("open", p, err)
	}
	if st != nil && st.IsDir() {
		return nil, vsi.PathError("open", p, vsi.ErrIsDirectory)
	}

	if flag&writeFlags != 0 {
		return h.openWrite(ctx, p, key, flag, st)
	}
	if st == nil {
		return nil, vsi.PathError("open", p, vsi.ErrNotFound)
	}
	rf := newRangeFile(ctx, h, p, key, st.Size)
	cf, err := handle.NewCachedFile(p, rf, h.chunkSize, h.cacheSize)
	if err != nil {
		return nil, vsi.IOError("open", p, err)
	}
	return cf, nil
}

func (h *Handler) openWrite(ctx context.Context, p, key string, flag int, st *vsi.FileStat) (vsi.FileHandle, error) {
	if st == nil && flag&os.O_CREATE == 0 {
		return nil, vsi.PathError("open", p, vsi.ErrNotFound)
	}
	var data []byte
	if st != nil && flag&os.O_TRUNC == 0 {
		err := h.call("read", func() (err error) {
			data, err = h.backend.Read(ctx, key)
			return err
		})
		if err != nil {
			return nil, vsi.IOError("open", p, err)
		}
		metrics.BackendBytesRead.WithLabelValues(h.scheme).Add(float64(len(data)))
	}
	wf := newWriteFile(ctx, h, p, key, data, flag)
	// New and truncated objects are uploaded on Close even if never written.
	wf.dirty = st == nil || flag&os.O_TRUNC != 0
	return wf, nil
}

func (h *Handler) put(ctx context.Context, key string, data []byte) error {
	err := h.call("write", func() error {
		return h.backend.Write(ctx, key, data)
	})
	h.forget(key)
	return err
}

func (h *Handler) Unlink(ctx context.Context, p string) error {
	key, err := h.key("unlink", p)
	if err != nil {
		return err
	}
	if key == "" {
		return vsi.PathError("unlink", p, vsi.ErrIsDirectory)
	}
	st, err := h.stat(ctx, key)
	switch {
	case err != nil:
		return vsi.IOError("unlink", p, err)
	case st == nil:
		return vsi.PathError("unlink", p, vsi.ErrNotFound)
	case st.IsDir():
		return vsi.PathError("unlink", p, vsi.ErrIsDirectory)
	}
	err = h.call("delete", func() error { return h.backend.Delete(ctx, key) })
	h.forget(key)
	if err != nil {
		return vsi.IOError("unlink", p, err)
	}
	return nil
}

func (h *Handler) Mkdir(ctx context.Context, p string, _ fs.FileMode) error {
	key, err := h.key("mkdir", p)
	if err != nil {
		return err
	}
	st, err := h.stat(ctx, key)
	if err != nil {
		return vsi.IOError("mkdir", p, err)
	}
	if st != nil {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if err := h.put(ctx, path.Join(key, KeepMarker), nil); err != nil {
		return vsi.IOError("mkdir", p, err)
	}
	return nil
}

func (h *Handler) Rmdir(ctx context.Context, p string) error {
	key, err := h.key("rmdir", p)
	if err != nil {
		return err
	}
	if key == "" {
		return vsi.NotSupported("rmdir", p)
	}
	st, err := h.stat(ctx, key)
	switch {
	case err != nil:
		return vsi.IOError("rmdir", p, err)
	case st == nil:
		return vsi.PathError("rmdir", p, vsi.ErrNotFound)
	case !st.IsDir():
		return vsi.PathError("rmdir", p, vsi.ErrNotDirectory)
	}

	keys, err := h.list(ctx, dirPrefix(key))
	if err != nil {
		return vsi.IOError("rmdir", p, err)
	}
	marker := path.Join(key, KeepMarker)
	for _, k := range keys {
		if k != marker {
			return vsi.IOError("rmdir", p, errors.New("directory not empty"))
		}
	}
	if len(keys) > 0 {
		err = h.call("delete", func() error { return h.backend.Delete(ctx, marker) })
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return vsi.IOError("rmdir", p, err)
		}
	}
	h.stats.DeleteTree(key)
	h.forget(key)
	return nil
}

// ReadDir lists the immediate children of a directory, sorted. Keep markers
// are hidden.
func (h *Handler) ReadDir(ctx context.Context, p string) ([]string, error) {
	key, err := h.key("readdir", p)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(key)
	keys, err := h.list(ctx, prefix)
	if err != nil {
		return nil, vsi.IOError("readdir", p, err)
	}

	if len(keys) == 0 && key != "" {
		st, err := h.stat(ctx, key)
		switch {
		case err != nil:
			return nil, vsi.IOError("readdir", p, err)
		case st == nil:
			return nil, vsi.PathError("readdir", p, vsi.ErrNotFound)
		case !st.IsDir():
			return nil, vsi.PathError("readdir", p, vsi.ErrNotDirectory)
		}
	}

	seen := make(map[string]bool)
	names := []string{}
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		name, _, _ := strings.Cut(rest, "/")
		if name == "" || name == KeepMarker && rest == KeepMarker || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Rename moves one object, or every object below a directory.
func (h *Handler) Rename(ctx context.Context, oldpath, newpath string) error {
	from, err := h.key("rename", oldpath)
	if err != nil {
		return err
	}
	to, err := h.key("rename", newpath)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return vsi.PathError("rename", oldpath, vsi.ErrInvalidPath)
	}
	st, err := h.stat(ctx, from)
	switch {
	case err != nil:
		return vsi.IOError("rename", oldpath, err)
	case st == nil:
		return vsi.PathError("rename", oldpath, vsi.ErrNotFound)
	}
	defer func() {
		h.stats.DeleteTree(from)
		h.stats.DeleteTree(to)
		h.forget(from)
		h.forget(to)
	}()

	if !st.IsDir() {
		err := h.call("rename", func() error { return h.backend.Rename(ctx, from, to) })
		return vsi.IOError("rename", oldpath, err)
	}
	if to == from || strings.HasPrefix(to, from+"/") {
		return vsi.PathError("rename", newpath, vsi.ErrInvalidPath)
	}
	keys, err := h.list(ctx, dirPrefix(from))
	if err != nil {
		return vsi.IOError("rename", oldpath, err)
	}
	for _, k := range keys {
		dst := dirPrefix(to) + strings.TrimPrefix(k, dirPrefix(from))
		if err := h.call("rename", func() error { return h.backend.Rename(ctx, k, dst) }); err != nil {
			return vsi.IOError("rename", oldpath, err)
		}
	}
	return nil
}

func (h *Handler) IsCaseSensitive(string) bool { return true }

// Invalidate drops cached stats for paths under this handler's prefix.
func (h *Handler) Invalidate(paths ...string) {
	for _, p := range paths {
		if key, err := h.key("invalidate", p); err == nil && key != "" {
			h.forget(key)
		}
	}
}

// Close releases the private stat cache and the backend when it holds a
// connection.
func (h *Handler) Close() error {
	var errs []error
	if h.ownStats {
		errs = append(errs, h.stats.Close())
	}
	if c, ok := h.backend.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
