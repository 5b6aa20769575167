package vsi

import (
	"io"
)

// FileHandle is one open file-like resource. A handle is owned by the caller
// that opened it and is not safe for concurrent use.
//
// Close is idempotent. Every other method called after Close fails with
// ErrClosed.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Tell returns the current offset.
	Tell() int64
	// EOF reports whether the last read hit the end of the file.
	EOF() bool
	Flush() error
	Truncate(size int64) error
}

// Range is one (offset, buffer) pair for ReadMultiRange. The whole of Data is
// filled.
type Range struct {
	Offset int64
	Data   []byte
}

// MultiRangeReader is implemented by handles that can serve several ranges
// more efficiently than a seek and read per range.
type MultiRangeReader interface {
	ReadMultiRange(ranges []Range) error
}

// NativeDescriptorer is implemented by handles backed by an OS file.
type NativeDescriptorer interface {
	NativeDescriptor() (uintptr, bool)
}

// ReadMultiRange fills every range from h. Handles implementing
// MultiRangeReader serve the call themselves; otherwise each range is read
// with a seek followed by a full read.
func ReadMultiRange(h FileHandle, ranges []Range) error {
	if mr, ok := h.(MultiRangeReader); ok {
		return mr.ReadMultiRange(ranges)
	}
	return SequentialReadMultiRange(h, ranges)
}

// SequentialReadMultiRange is the default ReadMultiRange strategy. Decorators
// call it directly when they have nothing better to offer.
func SequentialReadMultiRange(h FileHandle, ranges []Range) error {
	for _, r := range ranges {
		if _, err := h.Seek(r.Offset, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.ReadFull(h, r.Data); err != nil {
			return err
		}
	}
	return nil
}

// NativeDescriptor returns the OS descriptor behind h, if any. A false result
// is normal and only means the handle is not backed by a real file.
func NativeDescriptor(h FileHandle) (uintptr, bool) {
	if nd, ok := h.(NativeDescriptorer); ok {
		return nd.NativeDescriptor()
	}
	return 0, false
}

// HandleBase carries the closed flag shared by every handle implementation
// and the default Flush and Truncate behaviour. Embed it and call Guard at the
// top of each method.
type HandleBase struct {
	Name   string
	closed bool
}

// Guard returns ErrClosed once MarkClosed has been called.
func (b *HandleBase) Guard(op string) error {
	if b.closed {
		return PathError(op, b.Name, ErrClosed)
	}
	return nil
}

// MarkClosed flips the handle to closed and reports whether it was open.
func (b *HandleBase) MarkClosed() bool {
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

// Closed reports whether MarkClosed has been called.
func (b *HandleBase) Closed() bool {
	return b.closed
}

// Flush is a successful no-op.
func (b *HandleBase) Flush() error {
	return b.Guard("flush")
}

// Truncate is not supported by default.
func (b *HandleBase) Truncate(int64) error {
	if err := b.Guard("truncate"); err != nil {
		return err
	}
	return NotSupported("truncate", b.Name)
}
