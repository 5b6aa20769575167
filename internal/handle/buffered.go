package handle

import (
	"errors"
	"io"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// DefaultWindow is the read-ahead size of a BufferedReader.
const DefaultWindow = 64 * 1024

// BufferedReader keeps a read-ahead window over a base handle so that many
// small sequential reads cost one base read. It takes ownership of base.
type BufferedReader struct {
	vsi.HandleBase
	base   vsi.FileHandle
	window int
	buf    []byte
	bufOff int64
	pos    int64
	eof    bool
}

// NewBufferedReader wraps base with a DefaultWindow read-ahead.
func NewBufferedReader(name string, base vsi.FileHandle) *BufferedReader {
	return &BufferedReader{
		HandleBase: vsi.HandleBase{Name: name},
		base:       base,
		window:     DefaultWindow,
		bufOff:     -1,
	}
}

func (b *BufferedReader) inWindow(off int64) bool {
	return b.bufOff >= 0 && off >= b.bufOff && off < b.bufOff+int64(len(b.buf))
}

func (b *BufferedReader) dropWindow() {
	b.buf = b.buf[:0]
	b.bufOff = -1
}

// fill loads the window starting at b.pos. It reports false at end of file.
func (b *BufferedReader) fill() (bool, error) {
	if _, err := b.base.Seek(b.pos, io.SeekStart); err != nil {
		return false, vsi.IOError("read", b.Name, err)
	}
	if cap(b.buf) < b.window {
		b.buf = make([]byte, b.window)
	}
	b.buf = b.buf[:b.window]
	n, err := io.ReadFull(b.base, b.buf)
	b.buf = b.buf[:n]
	b.bufOff = b.pos
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		b.dropWindow()
		return false, vsi.IOError("read", b.Name, err)
	}
	return n > 0, nil
}

func (b *BufferedReader) Read(p []byte) (int, error) {
	if err := b.Guard("read"); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		if !b.inWindow(b.pos) {
			ok, err := b.fill()
			if err != nil {
				return total, err
			}
			if !ok {
				b.eof = true
				break
			}
		}
		n := copy(p[total:], b.buf[b.pos-b.bufOff:])
		total += n
		b.pos += int64(n)
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (b *BufferedReader) Write(p []byte) (int, error) {
	if err := b.Guard("write"); err != nil {
		return 0, err
	}
	b.dropWindow()
	if _, err := b.base.Seek(b.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := b.base.Write(p)
	b.pos += int64(n)
	return n, err
}

func (b *BufferedReader) Seek(offset int64, whence int) (int64, error) {
	if err := b.Guard("seek"); err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	case io.SeekEnd:
		end, err := b.base.Seek(0, io.SeekEnd)
		if err != nil {
			return b.pos, err
		}
		target = end + offset
	default:
		return b.pos, vsi.PathError("seek", b.Name, vsi.ErrInvalidPath)
	}
	if target < 0 {
		return b.pos, vsi.PathError("seek", b.Name, vsi.ErrInvalidPath)
	}
	if !b.inWindow(target) {
		b.dropWindow()
	}
	b.pos = target
	b.eof = false
	return target, nil
}

func (b *BufferedReader) Tell() int64 { return b.pos }

func (b *BufferedReader) EOF() bool { return b.eof }

func (b *BufferedReader) Flush() error {
	if err := b.Guard("flush"); err != nil {
		return err
	}
	return b.base.Flush()
}

func (b *BufferedReader) Truncate(size int64) error {
	if err := b.Guard("truncate"); err != nil {
		return err
	}
	b.dropWindow()
	return b.base.Truncate(size)
}

// ReadMultiRange is served by the base handle, which may batch the ranges.
func (b *BufferedReader) ReadMultiRange(ranges []vsi.Range) error {
	if err := b.Guard("read"); err != nil {
		return err
	}
	return vsi.ReadMultiRange(b.base, ranges)
}

func (b *BufferedReader) NativeDescriptor() (uintptr, bool) {
	return vsi.NativeDescriptor(b.base)
}

func (b *BufferedReader) Close() error {
	if !b.MarkClosed() {
		return nil
	}
	b.buf = nil
	return b.base.Close()
}
