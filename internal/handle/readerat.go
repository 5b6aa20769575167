package handle

import (
	"errors"
	"io"
	"sync"

	"github.com/vsifs/vsifs-go/internal/vsi"
)

// ReaderAt adapts a FileHandle to io.ReaderAt for decoders such as zip that
// need random access. Calls are serialized because they share the handle's
// position.
type ReaderAt struct {
	mu sync.Mutex
	h  vsi.FileHandle
}

// NewReaderAt wraps h. The caller keeps ownership of h.
func NewReaderAt(h vsi.FileHandle) *ReaderAt {
	return &ReaderAt{h: h}
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.h.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r.h, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	return n, err
}

// Size returns the length of h and leaves its position unchanged.
func Size(h vsi.FileHandle) (int64, error) {
	cur := h.Tell()
	size, err := h.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := h.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}
