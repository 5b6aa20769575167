package s3client

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"
)

// MockClient is an in-memory API implementation for unit tests
type MockClient struct {
	bucket  string
	region  string
	mu      sync.RWMutex
	objects map[string]*MockObject
	calls   map[string]int
}

// MockObject represents a mock S3 object
type MockObject struct {
	Key          string
	Data         []byte
	Metadata     map[string]string
	LastModified time.Time
}

var _ API = (*MockClient)(nil)
var _ API = (*Client)(nil)

// NewMockClient creates a new mock S3 client
func NewMockClient(bucket, region string) *MockClient {
	return &MockClient{
		bucket:  bucket,
		region:  region,
		objects: make(map[string]*MockObject),
		calls:   make(map[string]int),
	}
}

// Calls reports how many times op was invoked, e.g. "GetObjectRange".
func (m *MockClient) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// count must be called with mu held for writing.
func (m *MockClient) count(op string) {
	m.calls[op]++
}

func notFound(key string) error {
	return fmt.Errorf("object %s: %w", key, os.ErrNotExist)
}

// ListObjects lists keys with the given prefix in lexical order
func (m *MockClient) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("ListObjects")

	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// GetObject retrieves a copy of an object
func (m *MockClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	return m.GetObjectRange(ctx, key, 0, -1)
}

// GetObjectRange retrieves bytes start..end inclusive, or to the end when
// end is negative
func (m *MockClient) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("GetObjectRange")

	obj, exists := m.objects[key]
	if !exists {
		return nil, notFound(key)
	}
	size := int64(len(obj.Data))
	if start < 0 {
		start = 0
	}
	if start >= size {
		return []byte{}, nil
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	if end < start {
		return nil, fmt.Errorf("invalid range: end (%d) < start (%d)", end, start)
	}
	return slices.Clone(obj.Data[start : end+1]), nil
}

// PutObject uploads an object
func (m *MockClient) PutObject(ctx context.Context, key string, data []byte) error {
	return m.PutObjectWithMetadata(ctx, key, data, nil)
}

// PutObjectWithMetadata uploads an object with metadata
func (m *MockClient) PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("PutObject")

	m.objects[key] = &MockObject{
		Key:          key,
		Data:         slices.Clone(data),
		Metadata:     cleanMetadata(metadata),
		LastModified: time.Now(),
	}
	return nil
}

// PutObjectMultipart records the call and stores the object in one piece
func (m *MockClient) PutObjectMultipart(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.count("PutObjectMultipart")
	m.mu.Unlock()
	return m.PutObject(ctx, key, data)
}

// DeleteObject deletes an object. Like S3, missing keys are not an error.
func (m *MockClient) DeleteObject(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("DeleteObject")

	delete(m.objects, key)
	return nil
}

// HeadObject retrieves object size, time and metadata
func (m *MockClient) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("HeadObject")

	obj, exists := m.objects[key]
	if !exists {
		return nil, notFound(key)
	}
	return &ObjectInfo{
		Size:         int64(len(obj.Data)),
		LastModified: obj.LastModified,
		Metadata:     maps.Clone(obj.Metadata),
	}, nil
}

// CopyObjectWithMetadata copies an object. Non-nil metadata replaces the
// source's, matching MetadataDirectiveReplace.
func (m *MockClient) CopyObjectWithMetadata(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("CopyObject")

	src, exists := m.objects[sourceKey]
	if !exists {
		return notFound(sourceKey)
	}
	meta := maps.Clone(src.Metadata)
	if metadata != nil {
		meta = cleanMetadata(metadata)
	}
	m.objects[destKey] = &MockObject{
		Key:          destKey,
		Data:         slices.Clone(src.Data),
		Metadata:     meta,
		LastModified: time.Now(),
	}
	return nil
}

// CopyObjectMultipart copies an object keeping its metadata
func (m *MockClient) CopyObjectMultipart(ctx context.Context, sourceKey, destKey string) error {
	return m.CopyObjectWithMetadata(ctx, sourceKey, destKey, nil)
}

// CreateBucket is a no-op
func (m *MockClient) CreateBucket(ctx context.Context) error {
	return nil
}
