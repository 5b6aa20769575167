package gzipfs

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/handle"
	"github.com/vsifs/vsifs-go/internal/vsi"
)

// Prefix is the scheme prefix of gzip files.
const Prefix = "/vsigzip/"

// Handler reads and writes single gzip files stored on any other scheme.
type Handler struct {
	vsi.UnimplementedHandler
	m      *vsi.Manager
	logger *zap.Logger
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

// New returns a /vsigzip/ handler whose files are opened through m.
func New(m *vsi.Manager, opts ...Option) *Handler {
	h := &Handler{m: m, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// underlying returns the path of the compressed file.
func (h *Handler) underlying(op, p string) (string, error) {
	rest, ok := strings.CutPrefix(p, Prefix)
	if !ok || rest == "" {
		return "", vsi.PathError(op, p, vsi.ErrInvalidPath)
	}
	if !strings.HasPrefix(rest, "/") && strings.HasPrefix(rest, "vsi") {
		for _, prefix := range h.m.Prefixes() {
			if strings.HasPrefix("/"+rest, prefix) {
				return "/" + rest, nil
			}
		}
	}
	return rest, nil
}

// CleanPath cleans the path of the compressed file embedded in p.
func (h *Handler) CleanPath(p string) string {
	name, err := h.underlying("clean", p)
	if err != nil {
		return Prefix
	}
	return Prefix + h.m.CleanPath(name)
}

// Open decompresses for reading, or compresses for O_WRONLY. Read-write and
// append access are not supported.
func (h *Handler) Open(ctx context.Context, p string, flag int) (vsi.FileHandle, error) {
	name, err := h.underlying("open", p)
	if err != nil {
		return nil, err
	}
	switch {
	case flag&(os.O_RDWR|os.O_APPEND) != 0:
		return nil, vsi.NotSupported("open", p)
	case flag&os.O_WRONLY != 0:
		base, err := h.m.Open(ctx, name, flag|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return nil, err
		}
		return handle.NewGZipWritable(p, base, false, true), nil
	}

	base, err := h.m.Open(ctx, name, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	buffered := handle.NewBufferedReader(name, base)

	// Validate the header up front so a non-gzip file fails at Open.
	if _, err := gzip.NewReader(buffered); err != nil {
		buffered.Close()
		return nil, vsi.IOError("open", p, err)
	}

	open := func() (io.ReadCloser, error) {
		if _, err := buffered.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return gzip.NewReader(buffered)
	}
	h.logger.Debug("opened gzip file", zap.String("path", name))
	return &readHandle{Stream: handle.NewStream(p, open, -1), base: buffered}, nil
}

// readHandle owns the compressed base handle behind its stream.
type readHandle struct {
	*handle.Stream
	base vsi.FileHandle
}

func (r *readHandle) Close() error {
	if r.Closed() {
		return nil
	}
	err := r.Stream.Close()
	if berr := r.base.Close(); err == nil {
		err = berr
	}
	return err
}

// Stat reports the uncompressed size when StatSize is requested. It is read
// from the gzip trailer, so it is exact for single-member files under 4 GiB.
// Without StatSize the compressed size is reported.
func (h *Handler) Stat(ctx context.Context, p string, flags vsi.StatFlag) (*vsi.FileStat, error) {
	name, err := h.underlying("stat", p)
	if err != nil {
		return nil, err
	}
	st, err := h.m.Stat(ctx, name, flags)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, vsi.PathError("stat", p, vsi.ErrIsDirectory)
	}
	if !flags.Has(vsi.StatSize) {
		return st, nil
	}

	size, err := h.uncompressedSize(ctx, name)
	if err != nil {
		return nil, err
	}
	return &vsi.FileStat{Size: size, ModTime: st.ModTime, Mode: st.Mode}, nil
}

func (h *Handler) uncompressedSize(ctx context.Context, name string) (int64, error) {
	f, err := h.m.Open(ctx, name, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, vsi.IOError("stat", name, err)
	}
	if end < 18 {
		return 0, vsi.PathError("stat", name, vsi.ErrInvalidPath)
	}
	if _, err := f.Seek(end-4, io.SeekStart); err != nil {
		return 0, vsi.IOError("stat", name, err)
	}
	var trailer [4]byte
	if _, err := io.ReadFull(f, trailer[:]); err != nil {
		return 0, vsi.IOError("stat", name, err)
	}
	return int64(binary.LittleEndian.Uint32(trailer[:])), nil
}

func (h *Handler) IsCaseSensitive(p string) bool {
	name, err := h.underlying("stat", p)
	if err != nil {
		return true
	}
	return h.m.IsCaseSensitive(name)
}
