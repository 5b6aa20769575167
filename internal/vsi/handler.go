package vsi

import (
	"context"
	"io/fs"
	"time"
)

// StatFlag selects which parts of a FileStat the caller needs, so that
// handlers can skip expensive work such as computing an uncompressed size.
type StatFlag uint8

const (
	StatExists StatFlag = 1 << iota
	StatNature
	StatSize

	StatAll = StatExists | StatNature | StatSize
)

// Has reports whether every bit of want is set.
func (f StatFlag) Has(want StatFlag) bool {
	return f&want == want
}

// FileStat is the result of a Stat call.
type FileStat struct {
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// IsDir reports whether the path is a directory.
func (s *FileStat) IsDir() bool {
	return s.Mode.IsDir()
}

// IsRegular reports whether the path is a regular file.
func (s *FileStat) IsRegular() bool {
	return s.Mode.IsRegular()
}

// FilesystemHandler implements one scheme, that is one path prefix such as
// "/vsizip/" or the default local filesystem.
type FilesystemHandler interface {
	// Open opens path with os.O_* flags.
	Open(ctx context.Context, path string, flag int) (FileHandle, error)
	Stat(ctx context.Context, path string, flags StatFlag) (*FileStat, error)
	Unlink(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string, perm fs.FileMode) error
	Rmdir(ctx context.Context, path string) error
	// ReadDir lists the names of the immediate children of path.
	ReadDir(ctx context.Context, path string) ([]string, error)
	Rename(ctx context.Context, oldpath, newpath string) error
	IsCaseSensitive(path string) bool
}

// Invalidator is implemented by handlers that keep derived state about paths
// owned by other handlers, such as archive directory listings. The Manager
// calls Invalidate after a mutation it routed succeeded.
type Invalidator interface {
	Invalidate(paths ...string)
}

// PathCleaner is implemented by handlers whose paths embed the path of a
// file served by another handler, where folding "//" would change the meaning.
type PathCleaner interface {
	CleanPath(p string) string
}

// UnimplementedHandler supplies the default behaviour for the optional
// namespace operations. Embed it in handlers that only support Open and Stat.
type UnimplementedHandler struct{}

func (UnimplementedHandler) Unlink(_ context.Context, path string) error {
	return NotSupported("unlink", path)
}

func (UnimplementedHandler) Mkdir(_ context.Context, path string, _ fs.FileMode) error {
	return NotSupported("mkdir", path)
}

func (UnimplementedHandler) Rmdir(_ context.Context, path string) error {
	return NotSupported("rmdir", path)
}

func (UnimplementedHandler) ReadDir(_ context.Context, path string) ([]string, error) {
	return nil, NotSupported("readdir", path)
}

func (UnimplementedHandler) Rename(_ context.Context, oldpath, _ string) error {
	return NotSupported("rename", oldpath)
}

func (UnimplementedHandler) IsCaseSensitive(string) bool {
	return true
}
