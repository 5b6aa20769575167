package blobfs

import (
	"context"
	"io"
	"os"

	"github.com/vsifs/vsifs-go/internal/handle"
	"github.com/vsifs/vsifs-go/internal/metrics"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// rangeFile reads an object of known size with one ranged request per Read.
// Open wraps it in a CachedFile so requests are chunk sized.
type rangeFile struct {
	vsi.HandleBase
	ctx  context.Context
	h    *Handler
	key  string
	size int64
	pos  int64
	eof  bool
}

func newRangeFile(ctx context.Context, h *Handler, name, key string, size int64) *rangeFile {
	return &rangeFile{
		HandleBase: vsi.HandleBase{Name: name},
		ctx:        ctx,
		h:          h,
		key:        key,
		size:       size,
	}
}

func (f *rangeFile) fetch(off, n int64) ([]byte, error) {
	var data []byte
	err := f.h.call("read", func() (err error) {
		data, err = f.h.backend.ReadRange(f.ctx, f.key, off, n)
		return err
	})
	if err != nil {
		return nil, vsi.IOError("read", f.Name, err)
	}
	metrics.BackendBytesRead.WithLabelValues(f.h.scheme).Add(float64(len(data)))
	return data, nil
}

func (f *rangeFile) Read(p []byte) (int, error) {
	if err := f.Guard("read"); err != nil {
		return 0, err
	}
	if f.pos >= f.size {
		f.eof = true
		return 0, io.EOF
	}
	n := min(int64(len(p)), f.size-f.pos)
	data, err := f.fetch(f.pos, n)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		// The object shrank since it was opened.
		f.eof = true
		return 0, io.EOF
	}
	copied := copy(p, data)
	f.pos += int64(copied)
	return copied, nil
}

// ReadMultiRange fetches each range with its own request, without moving
// the file position.
func (f *rangeFile) ReadMultiRange(ranges []vsi.Range) error {
	if err := f.Guard("read"); err != nil {
		return err
	}
	for _, r := range ranges {
		data, err := f.fetch(r.Offset, int64(len(r.Data)))
		if err != nil {
			return err
		}
		if copy(r.Data, data) < len(r.Data) {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func (f *rangeFile) Write([]byte) (int, error) {
	if err := f.Guard("write"); err != nil {
		return 0, err
	}
	return 0, vsi.NotSupported("write", f.Name)
}

func (f *rangeFile) Seek(offset int64, whence int) (int64, error) {
	if err := f.Guard("seek"); err != nil {
		return 0, err
	}
	target, err := handle.SeekTarget(f.Name, f.pos, f.size, offset, whence)
	if err != nil {
		return f.pos, err
	}
	f.pos = target
	f.eof = false
	return target, nil
}

func (f *rangeFile) Tell() int64 { return f.pos }

func (f *rangeFile) EOF() bool { return f.eof }

func (f *rangeFile) Close() error {
	f.MarkClosed()
	return nil
}

// writeFile holds the whole object in memory and uploads it on Flush and
// Close when it changed.
type writeFile struct {
	vsi.HandleBase
	ctx      context.Context
	h        *Handler
	key      string
	data     []byte
	pos      int64
	append   bool
	readable bool
	dirty    bool
	eof      bool
}

func newWriteFile(ctx context.Context, h *Handler, name, key string, data []byte, flag int) *writeFile {
	return &writeFile{
		HandleBase: vsi.HandleBase{Name: name},
		ctx:        ctx,
		h:          h,
		key:        key,
		data:       data,
		append:     flag&os.O_APPEND != 0,
		readable:   flag&os.O_RDWR != 0,
	}
}

func (f *writeFile) Read(p []byte) (int, error) {
	if err := f.Guard("read"); err != nil {
		return 0, err
	}
	if !f.readable {
		return 0, vsi.NotSupported("read", f.Name)
	}
	if f.pos >= int64(len(f.data)) {
		f.eof = true
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *writeFile) Write(p []byte) (int, error) {
	if err := f.Guard("write"); err != nil {
		return 0, err
	}
	if f.append {
		f.pos = int64(len(f.data))
	}
	if end := f.pos + int64(len(p)); end > int64(len(f.data)) {
		f.resize(end)
	}
	copy(f.data[f.pos:], p)
	f.pos += int64(len(p))
	f.dirty = true
	return len(p), nil
}

func (f *writeFile) resize(size int64) {
	if size <= int64(cap(f.data)) {
		old := int64(len(f.data))
		f.data = f.data[:size]
		if size > old {
			clear(f.data[old:])
		}
		return
	}
	grown := make([]byte, size, max(size, 2*int64(cap(f.data))))
	copy(grown, f.data)
	f.data = grown
}

func (f *writeFile) Seek(offset int64, whence int) (int64, error) {
	if err := f.Guard("seek"); err != nil {
		return 0, err
	}
	target, err := handle.SeekTarget(f.Name, f.pos, int64(len(f.data)), offset, whence)
	if err != nil {
		return f.pos, err
	}
	f.pos = target
	f.eof = false
	return target, nil
}

func (f *writeFile) Tell() int64 { return f.pos }

func (f *writeFile) EOF() bool { return f.eof }

func (f *writeFile) Truncate(size int64) error {
	if err := f.Guard("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return vsi.PathError("truncate", f.Name, vsi.ErrInvalidPath)
	}
	f.resize(size)
	f.dirty = true
	return nil
}

func (f *writeFile) Flush() error {
	if err := f.Guard("flush"); err != nil {
		return err
	}
	return f.upload()
}

func (f *writeFile) upload() error {
	if !f.dirty {
		return nil
	}
	if err := f.h.put(f.ctx, f.key, f.data); err != nil {
		return vsi.IOError("flush", f.Name, err)
	}
	f.dirty = false
	return nil
}

// Close uploads pending changes. The handle is closed even if the upload
// fails.
func (f *writeFile) Close() error {
	if !f.MarkClosed() {
		return nil
	}
	return f.upload()
}
