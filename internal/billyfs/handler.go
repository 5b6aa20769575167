package billyfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// MemPrefix is the scheme prefix of the in-memory filesystem.
const MemPrefix = "/vsimem/"

// Handler serves a billy.Filesystem as a vsi scheme. The same type backs the
// local default handler and /vsimem/.
type Handler struct {
	bfs           billy.Filesystem
	prefix        string
	local         bool
	caseSensitive bool
	logger        *zap.Logger
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

// NewMemory returns a /vsimem/ handler over an empty in-memory filesystem.
func NewMemory(opts ...Option) *Handler {
	return newHandler(memfs.New(), MemPrefix, false, true, opts)
}

// NewLocal returns the default handler for plain OS paths. Relative paths
// resolve against the working directory.
func NewLocal(opts ...Option) *Handler {
	bfs := osfs.New("/", osfs.WithBoundOS())
	caseSensitive := runtime.GOOS != "windows" && runtime.GOOS != "darwin"
	return newHandler(bfs, "", true, caseSensitive, opts)
}

// New serves bfs under prefix.
func New(bfs billy.Filesystem, prefix string, opts ...Option) *Handler {
	return newHandler(bfs, prefix, false, true, opts)
}

func newHandler(bfs billy.Filesystem, prefix string, local, caseSensitive bool, opts []Option) *Handler {
	h := &Handler{
		bfs:           bfs,
		prefix:        prefix,
		local:         local,
		caseSensitive: caseSensitive,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Filesystem returns the underlying billy filesystem.
func (h *Handler) Filesystem() billy.Filesystem {
	return h.bfs
}

// name maps a vsi path to a path inside the billy filesystem.
func (h *Handler) name(op, path string) (string, error) {
	if h.local {
		if path == "" {
			return "", vsi.PathError(op, path, vsi.ErrInvalidPath)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", vsi.PathError(op, path, vsi.ErrInvalidPath)
		}
		return abs, nil
	}
	rest, ok := strings.CutPrefix(path, h.prefix)
	if !ok {
		if path+"/" != h.prefix {
			return "", vsi.PathError(op, path, vsi.ErrInvalidPath)
		}
		rest = ""
	}
	return "/" + strings.Trim(filepath.ToSlash(rest), "/"), nil
}

func isRoot(name string) bool {
	return name == "/" || name == ""
}

// mapErr turns billy and os errors into vsi kinds, keeping the cause.
func mapErr(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return vsi.PathError(op, path, vsi.ErrNotFound)
	default:
		return vsi.IOError(op, path, err)
	}
}

func (h *Handler) stat(name string) (os.FileInfo, error) {
	return h.bfs.Stat(name)
}

func (h *Handler) Open(_ context.Context, path string, flag int) (vsi.FileHandle, error) {
	name, err := h.name("open", path)
	if err != nil {
		return nil, err
	}
	if fi, err := h.stat(name); err == nil && fi.IsDir() {
		return nil, vsi.PathError("open", path, vsi.ErrIsDirectory)
	} else if err != nil && flag&os.O_CREATE == 0 {
		return nil, mapErr("open", path, err)
	}

	f, err := h.bfs.OpenFile(name, flag, 0o666)
	if err != nil {
		return nil, mapErr("open", path, err)
	}
	h.logger.Debug("opened file", zap.String("path", path), zap.Int("flag", flag))
	return newFile(path, f), nil
}

func (h *Handler) Stat(_ context.Context, path string, _ vsi.StatFlag) (*vsi.FileStat, error) {
	name, err := h.name("stat", path)
	if err != nil {
		return nil, err
	}
	fi, err := h.stat(name)
	if err != nil {
		if isRoot(name) {
			return &vsi.FileStat{Mode: fs.ModeDir | 0o755}, nil
		}
		return nil, mapErr("stat", path, err)
	}
	return &vsi.FileStat{Size: fi.Size(), ModTime: fi.ModTime(), Mode: fi.Mode()}, nil
}

func (h *Handler) Unlink(_ context.Context, path string) error {
	name, err := h.name("unlink", path)
	if err != nil {
		return err
	}
	fi, err := h.stat(name)
	if err != nil {
		return mapErr("unlink", path, err)
	}
	if fi.IsDir() {
		return vsi.PathError("unlink", path, vsi.ErrIsDirectory)
	}
	if err := h.bfs.Remove(name); err != nil {
		return mapErr("unlink", path, err)
	}
	return nil
}

func (h *Handler) Mkdir(_ context.Context, path string, perm fs.FileMode) error {
	name, err := h.name("mkdir", path)
	if err != nil {
		return err
	}
	if _, err := h.stat(name); err == nil || isRoot(name) {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	if perm == 0 {
		perm = 0o755
	}
	if err := h.bfs.MkdirAll(name, perm); err != nil {
		return mapErr("mkdir", path, err)
	}
	return nil
}

func (h *Handler) Rmdir(_ context.Context, path string) error {
	name, err := h.name("rmdir", path)
	if err != nil {
		return err
	}
	fi, err := h.stat(name)
	if err != nil {
		return mapErr("rmdir", path, err)
	}
	if !fi.IsDir() {
		return vsi.PathError("rmdir", path, vsi.ErrNotDirectory)
	}
	children, err := h.bfs.ReadDir(name)
	if err != nil {
		return mapErr("rmdir", path, err)
	}
	if len(children) > 0 {
		return vsi.IOError("rmdir", path, errors.New("directory not empty"))
	}
	if err := h.bfs.Remove(name); err != nil {
		return mapErr("rmdir", path, err)
	}
	return nil
}

func (h *Handler) ReadDir(_ context.Context, path string) ([]string, error) {
	name, err := h.name("readdir", path)
	if err != nil {
		return nil, err
	}
	fi, err := h.stat(name)
	switch {
	case err != nil && isRoot(name):
		// An untouched in-memory filesystem has no root entry yet.
		return []string{}, nil
	case err != nil:
		return nil, mapErr("readdir", path, err)
	case !fi.IsDir():
		return nil, vsi.PathError("readdir", path, vsi.ErrNotDirectory)
	}

	infos, err := h.bfs.ReadDir(name)
	if err != nil {
		return nil, mapErr("readdir", path, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (h *Handler) Rename(_ context.Context, oldpath, newpath string) error {
	from, err := h.name("rename", oldpath)
	if err != nil {
		return err
	}
	to, err := h.name("rename", newpath)
	if err != nil {
		return err
	}
	if err := h.bfs.Rename(from, to); err != nil {
		return mapErr("rename", oldpath, err)
	}
	return nil
}

func (h *Handler) IsCaseSensitive(string) bool {
	return h.caseSensitive
}
