package handle

import (
	"errors"
	"io"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// OpenFunc starts a fresh sequential read from the beginning of a stream.
type OpenFunc func() (io.ReadCloser, error)

// Stream turns a sequential, re-openable source such as a decompressor into
// a seekable read-only handle. Forward seeks skip data, backward seeks
// restart the source. A negative size is learned on the first read that
// reaches the end.
type Stream struct {
	vsi.HandleBase
	open  OpenFunc
	rc    io.ReadCloser
	rcPos int64
	pos   int64
	size  int64
	eof   bool
}

// NewStream returns a Stream over open. Pass size < 0 when it is unknown.
func NewStream(name string, open OpenFunc, size int64) *Stream {
	return &Stream{
		HandleBase: vsi.HandleBase{Name: name},
		open:       open,
		size:       size,
	}
}

// sync positions the source at s.pos. It reports false when s.pos is past
// the end.
func (s *Stream) sync() (bool, error) {
	if s.size >= 0 && s.pos >= s.size {
		return false, nil
	}
	if s.rc == nil || s.pos < s.rcPos {
		if s.rc != nil {
			s.rc.Close()
			s.rc = nil
		}
		rc, err := s.open()
		if err != nil {
			return false, vsi.IOError("open", s.Name, err)
		}
		s.rc = rc
		s.rcPos = 0
	}
	if skip := s.pos - s.rcPos; skip > 0 {
		n, err := io.CopyN(io.Discard, s.rc, skip)
		s.rcPos += n
		if errors.Is(err, io.EOF) {
			s.size = s.rcPos
			return false, nil
		}
		if err != nil {
			return false, vsi.IOError("read", s.Name, err)
		}
	}
	return true, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	if err := s.Guard("read"); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	ok, err := s.sync()
	if err != nil {
		return 0, err
	}
	if !ok {
		s.eof = true
		return 0, io.EOF
	}

	n, err := s.rc.Read(p)
	s.pos += int64(n)
	s.rcPos += int64(n)
	if errors.Is(err, io.EOF) {
		s.size = s.rcPos
		s.eof = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		return n, vsi.IOError("read", s.Name, err)
	}
	return n, nil
}

func (s *Stream) Write([]byte) (int, error) {
	if err := s.Guard("write"); err != nil {
		return 0, err
	}
	return 0, vsi.NotSupported("write", s.Name)
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if err := s.Guard("seek"); err != nil {
		return 0, err
	}
	if whence == io.SeekEnd && s.size < 0 {
		if _, err := s.Size(); err != nil {
			return s.pos, err
		}
	}
	target, err := SeekTarget(s.Name, s.pos, s.size, offset, whence)
	if err != nil {
		return s.pos, err
	}
	s.pos = target
	s.eof = false
	return target, nil
}

// Size returns the decoded length, reading the source to its end once when
// the length is not known yet.
func (s *Stream) Size() (int64, error) {
	if s.size >= 0 {
		return s.size, nil
	}
	if s.rc == nil {
		rc, err := s.open()
		if err != nil {
			return 0, vsi.IOError("open", s.Name, err)
		}
		s.rc = rc
		s.rcPos = 0
	}
	n, err := io.Copy(io.Discard, s.rc)
	s.rcPos += n
	if err != nil {
		return 0, vsi.IOError("read", s.Name, err)
	}
	s.size = s.rcPos
	return s.size, nil
}

func (s *Stream) Tell() int64 { return s.pos }

func (s *Stream) EOF() bool { return s.eof }

func (s *Stream) Close() error {
	if !s.MarkClosed() {
		return nil
	}
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}
