package fuse

import (
	"errors"
	"io/fs"
	"syscall"

	"bazil.org/fuse"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// toErrno maps a vsi error onto the errno returned to the kernel.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, vsi.ErrIsDirectory):
		return fuse.Errno(syscall.EISDIR)
	case errors.Is(err, vsi.ErrNotDirectory):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.Is(err, fs.ErrExist):
		return fuse.EEXIST
	}
	switch vsi.KindOf(err) {
	case vsi.KindNotFound:
		return fuse.ENOENT
	case vsi.KindNotSupported:
		return fuse.ENOTSUP
	case vsi.KindInvalidPath:
		return fuse.Errno(syscall.EINVAL)
	case vsi.KindClosed:
		return fuse.Errno(syscall.EBADF)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fuse.EPERM
	}
	return fuse.EIO
}
