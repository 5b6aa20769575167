package billyfs

import (
	"errors"
	"io"

	"github.com/go-git/go-billy/v5"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// File is a FileHandle over a billy.File.
type File struct {
	vsi.HandleBase
	f   billy.File
	pos int64
	eof bool
}

func newFile(name string, f billy.File) *File {
	file := &File{HandleBase: vsi.HandleBase{Name: name}, f: f}
	// O_APPEND handles may start past zero.
	if pos, err := f.Seek(0, io.SeekCurrent); err == nil {
		file.pos = pos
	}
	return file
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.Guard("read"); err != nil {
		return 0, err
	}
	n, err := f.f.Read(p)
	f.pos += int64(n)
	if errors.Is(err, io.EOF) {
		f.eof = true
		return n, io.EOF
	}
	if err != nil {
		return n, vsi.IOError("read", f.Name, err)
	}
	return n, nil
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.Guard("write"); err != nil {
		return 0, err
	}
	n, err := f.f.Write(p)
	f.pos += int64(n)
	if err != nil {
		return n, vsi.IOError("write", f.Name, err)
	}
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.Guard("seek"); err != nil {
		return 0, err
	}
	pos, err := f.f.Seek(offset, whence)
	if err != nil {
		return f.pos, vsi.PathError("seek", f.Name, vsi.ErrInvalidPath)
	}
	f.pos = pos
	f.eof = false
	return pos, nil
}

func (f *File) Tell() int64 { return f.pos }

func (f *File) EOF() bool { return f.eof }

func (f *File) Flush() error {
	if err := f.Guard("flush"); err != nil {
		return err
	}
	if syncer, ok := f.f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return vsi.IOError("flush", f.Name, err)
		}
	}
	return nil
}

func (f *File) Truncate(size int64) error {
	if err := f.Guard("truncate"); err != nil {
		return err
	}
	if err := f.f.Truncate(size); err != nil {
		return vsi.IOError("truncate", f.Name, err)
	}
	return nil
}

// NativeDescriptor exposes the OS descriptor of files opened on the local
// filesystem.
func (f *File) NativeDescriptor() (uintptr, bool) {
	if f.Closed() {
		return 0, false
	}
	if fd, ok := f.f.(interface{ Fd() uintptr }); ok {
		return fd.Fd(), true
	}
	return 0, false
}

func (f *File) Close() error {
	if !f.MarkClosed() {
		return nil
	}
	if err := f.f.Close(); err != nil {
		return vsi.IOError("close", f.Name, err)
	}
	return nil
}
