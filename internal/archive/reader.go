package archive

import (
	"fmt"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// FileOffset is a format-specific token that lets a Reader jump straight to
// a member recorded during a scan.
type FileOffset interface {
	fmt.Stringer
}

// Reader is a single-cursor iterator over the members of one archive. It is
// not safe for concurrent use.
type Reader interface {
	// GotoFirstFile positions the cursor on the first member. It returns
	// false for an empty archive.
	GotoFirstFile() (bool, error)
	// GotoNextFile advances the cursor. It returns false once exhausted.
	GotoNextFile() (bool, error)
	FileOffset() FileOffset
	FileSize() int64
	FileName() string
	// ModifiedTime is the member's modification time in Unix seconds.
	ModifiedTime() int64
	// GotoFileOffset positions the cursor on the member identified by off.
	GotoFileOffset(off FileOffset) bool
	// Open returns a read-only handle on the member under the cursor. The
	// handle stays valid until the Reader is closed.
	Open() (vsi.FileHandle, error)
	Close() error
}

// memberHandle ties the lifetime of a Reader to the member handle opened
// from it.
type memberHandle struct {
	vsi.FileHandle
	r Reader
}

func (m *memberHandle) Close() error {
	err := m.FileHandle.Close()
	if m.r != nil {
		if rerr := m.r.Close(); err == nil {
			err = rerr
		}
		m.r = nil
	}
	return err
}
