package types

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Attr represents object attributes
type Attr struct {
	Mode  uint32
	Size  int64
	Mtime time.Time
	Uid   uint32
	Gid   uint32
}

// Backend is a flat key/value object store. Keys never start with '/'.
// Missing keys are reported with errors wrapping os.ErrNotExist.
type Backend interface {
	// Read reads a whole object
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadRange reads length bytes at offset. A negative length reads to
	// the end. Ranges past the end are truncated, possibly to nothing.
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)

	Write(ctx context.Context, path string, data []byte) error
	WriteWithMetadata(ctx context.Context, path string, data []byte, metadata map[string]string) error
	Delete(ctx context.Context, path string) error

	// List returns every key starting with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)

	GetAttr(ctx context.Context, path string) (*Attr, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// NotFound returns the error backends report for a missing key.
func NotFound(path string) error {
	return fmt.Errorf("object not found: %s: %w", path, os.ErrNotExist)
}

// AttrFromMetadata builds attributes from the mode, uid, gid and mtime
// metadata keys, falling back to 0644, the current user and mtime.
func AttrFromMetadata(metadata map[string]string, size int64, mtime time.Time) *Attr {
	attr := &Attr{
		Mode:  0o644,
		Size:  size,
		Mtime: mtime,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
	if v, ok := metadata["mode"]; ok {
		var mode uint32
		if _, err := fmt.Sscanf(v, "%o", &mode); err == nil {
			attr.Mode = mode
		}
	}
	if v, ok := metadata["uid"]; ok {
		fmt.Sscanf(v, "%d", &attr.Uid)
	}
	if v, ok := metadata["gid"]; ok {
		fmt.Sscanf(v, "%d", &attr.Gid)
	}
	if v, ok := metadata["mtime"]; ok {
		var unix int64
		if _, err := fmt.Sscanf(v, "%d", &unix); err == nil {
			attr.Mtime = time.Unix(unix, 0)
		}
	}
	return attr
}

// SliceRange applies ReadRange semantics to an in-memory object.
func SliceRange(data []byte, offset, length int64) []byte {
	size := int64(len(data))
	if offset < 0 {
		offset = 0
	}
	if offset >= size {
		return []byte{}
	}
	end := size
	if length >= 0 && offset+length < size {
		end = offset + length
	}
	return data[offset:end]
}
