// Package s3backend serves a storage backend from an S3 bucket.
package s3backend

import (
	"context"
	"errors"
	"os"

	"github.com/vsifs/vsifs-go/internal/s3client"
	"github.com/vsifs/vsifs-go/internal/storage/types"
)

// Backend adapts an s3client.API to types.Backend.
type Backend struct {
	client s3client.API
}

var _ types.Backend = (*Backend)(nil)

// New returns a backend over client.
func New(client s3client.API) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Read(ctx context.Context, path string) ([]byte, error) {
	return b.client.GetObject(ctx, path)
}

func (b *Backend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 {
		offset = 0
	}
	if length == 0 {
		return []byte{}, nil
	}
	end := int64(-1)
	if length > 0 {
		end = offset + length - 1
	}
	return b.client.GetObjectRange(ctx, path, offset, end)
}

// Write uploads data, switching to multipart for large objects.
func (b *Backend) Write(ctx context.Context, path string, data []byte) error {
	return b.client.PutObjectMultipart(ctx, path, data)
}

func (b *Backend) WriteWithMetadata(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	if len(metadata) == 0 {
		return b.Write(ctx, path, data)
	}
	return b.client.PutObjectWithMetadata(ctx, path, data, metadata)
}

// Delete removes an object. S3 deletes are silent about missing keys, so
// existence is checked first.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.client.HeadObject(ctx, path); err != nil {
		return err
	}
	return b.client.DeleteObject(ctx, path)
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	return b.client.ListObjects(ctx, prefix)
}

func (b *Backend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	info, err := b.client.HeadObject(ctx, path)
	if err != nil {
		return nil, err
	}
	return types.AttrFromMetadata(info.Metadata, info.Size, info.LastModified), nil
}

// GetMetadata returns the user metadata of an object.
func (b *Backend) GetMetadata(ctx context.Context, path string) (map[string]string, error) {
	info, err := b.client.HeadObject(ctx, path)
	if err != nil {
		return nil, err
	}
	return info.Metadata, nil
}

// Rename copies server side, then deletes the source.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := b.client.CopyObjectMultipart(ctx, oldPath, newPath); err != nil {
		return err
	}
	return b.client.DeleteObject(ctx, oldPath)
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
