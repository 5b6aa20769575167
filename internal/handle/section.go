package handle

import (
	"io"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// Section exposes size bytes of base starting at off as a read-only file.
// The section owns base and closes it on Close.
type Section struct {
	vsi.HandleBase
	base vsi.FileHandle
	off  int64
	size int64
	pos  int64
	eof  bool
}

// NewSection returns a handle over [off, off+size) of base.
func NewSection(name string, base vsi.FileHandle, off, size int64) *Section {
	return &Section{
		HandleBase: vsi.HandleBase{Name: name},
		base:       base,
		off:        off,
		size:       size,
	}
}

func (s *Section) Read(p []byte) (int, error) {
	if err := s.Guard("read"); err != nil {
		return 0, err
	}
	if s.pos >= s.size {
		s.eof = true
		return 0, io.EOF
	}
	if remaining := s.size - s.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if _, err := s.base.Seek(s.off+s.pos, io.SeekStart); err != nil {
		return 0, vsi.IOError("read", s.Name, err)
	}
	n, err := io.ReadFull(s.base, p)
	s.pos += int64(n)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// The base file is shorter than the section claims.
			s.eof = true
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		return n, vsi.IOError("read", s.Name, err)
	}
	return n, nil
}

func (s *Section) Write([]byte) (int, error) {
	if err := s.Guard("write"); err != nil {
		return 0, err
	}
	return 0, vsi.NotSupported("write", s.Name)
}

func (s *Section) Seek(offset int64, whence int) (int64, error) {
	if err := s.Guard("seek"); err != nil {
		return 0, err
	}
	target, err := SeekTarget(s.Name, s.pos, s.size, offset, whence)
	if err != nil {
		return s.pos, err
	}
	s.pos = target
	s.eof = false
	return target, nil
}

func (s *Section) Tell() int64 { return s.pos }

func (s *Section) EOF() bool { return s.eof }

// Size returns the length of the section.
func (s *Section) Size() int64 { return s.size }

func (s *Section) Close() error {
	if !s.MarkClosed() {
		return nil
	}
	return s.base.Close()
}

// SeekTarget resolves a Seek call against the current position and a known
// size. Seeking past the end is allowed; reads there report EOF.
func SeekTarget(name string, pos, size, offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = pos + offset
	case io.SeekEnd:
		target = size + offset
	default:
		return 0, vsi.PathError("seek", name, vsi.ErrInvalidPath)
	}
	if target < 0 {
		return 0, vsi.PathError("seek", name, vsi.ErrInvalidPath)
	}
	return target, nil
}
