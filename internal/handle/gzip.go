package handle

import (
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

// GZipWritable compresses everything written to it into base. It produces a
// zlib stream when regularZLib is set and a gzip member otherwise. The
// handle is write-only and only supports seeking to its current position.
type GZipWritable struct {
	vsi.HandleBase
	base          vsi.FileHandle
	zw            flushWriteCloser
	autoCloseBase bool
	pos           int64
}

// NewGZipWritable starts a compressed stream on base. With autoCloseBase the
// base handle is closed together with the writer.
func NewGZipWritable(name string, base vsi.FileHandle, regularZLib, autoCloseBase bool) *GZipWritable {
	var zw flushWriteCloser
	if regularZLib {
		zw = zlib.NewWriter(base)
	} else {
		zw = gzip.NewWriter(base)
	}
	return &GZipWritable{
		HandleBase:    vsi.HandleBase{Name: name},
		base:          base,
		zw:            zw,
		autoCloseBase: autoCloseBase,
	}
}

func (g *GZipWritable) Write(p []byte) (int, error) {
	if err := g.Guard("write"); err != nil {
		return 0, err
	}
	n, err := g.zw.Write(p)
	g.pos += int64(n)
	if err != nil {
		return n, vsi.IOError("write", g.Name, err)
	}
	return n, nil
}

func (g *GZipWritable) Read([]byte) (int, error) {
	if err := g.Guard("read"); err != nil {
		return 0, err
	}
	return 0, vsi.NotSupported("read", g.Name)
}

// Seek succeeds only when it resolves to the current uncompressed offset.
func (g *GZipWritable) Seek(offset int64, whence int) (int64, error) {
	if err := g.Guard("seek"); err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent, io.SeekEnd:
		target = g.pos + offset
	default:
		return g.pos, vsi.PathError("seek", g.Name, vsi.ErrInvalidPath)
	}
	if target != g.pos {
		return g.pos, vsi.NotSupported("seek", g.Name)
	}
	return g.pos, nil
}

func (g *GZipWritable) Tell() int64 { return g.pos }

func (g *GZipWritable) EOF() bool { return false }

// Flush emits a sync block so everything written so far is decodable.
func (g *GZipWritable) Flush() error {
	if err := g.Guard("flush"); err != nil {
		return err
	}
	if err := g.zw.Flush(); err != nil {
		return vsi.IOError("flush", g.Name, err)
	}
	return g.base.Flush()
}

// Close writes the trailer. The writer is released even when that fails.
func (g *GZipWritable) Close() error {
	if !g.MarkClosed() {
		return nil
	}
	var errs []error
	if err := g.zw.Close(); err != nil {
		errs = append(errs, vsi.IOError("close", g.Name, err))
	}
	g.zw = nil
	if g.autoCloseBase {
		if err := g.base.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
