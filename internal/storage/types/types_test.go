package types

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttrFromMetadata(t *testing.T) {
	now := time.Unix(1700000000, 0)

	attr := AttrFromMetadata(nil, 12, now)
	assert.Equal(t, uint32(0o644), attr.Mode)
	assert.Equal(t, int64(12), attr.Size)
	assert.Equal(t, now, attr.Mtime)

	attr = AttrFromMetadata(map[string]string{
		"mode":  "755",
		"uid":   "1000",
		"gid":   "100",
		"mtime": "1600000000",
	}, 3, now)
	assert.Equal(t, uint32(0o755), attr.Mode)
	assert.Equal(t, uint32(1000), attr.Uid)
	assert.Equal(t, uint32(100), attr.Gid)
	assert.Equal(t, int64(1600000000), attr.Mtime.Unix())

	attr = AttrFromMetadata(map[string]string{"mode": "bogus", "mtime": "x"}, 0, now)
	assert.Equal(t, uint32(0o644), attr.Mode)
	assert.Equal(t, now, attr.Mtime)
}

func TestSliceRange(t *testing.T) {
	data := []byte("0123456789")
	tests := []struct {
		offset, length int64
		want           string
	}{
		{0, -1, "0123456789"},
		{2, 3, "234"},
		{8, 10, "89"},
		{10, 1, ""},
		{42, -1, ""},
		{-5, 2, "01"},
		{0, 0, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(SliceRange(data, tt.offset, tt.length)), "%d+%d", tt.offset, tt.length)
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("a/b")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "a/b")
}
