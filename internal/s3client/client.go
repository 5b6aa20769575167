package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/vsifs/vsifs-go/internal/credentials"
)

// ObjectInfo is what HeadObject reports about an object.
type ObjectInfo struct {
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// API is the object store surface used by the blob backend. Client talks to
// S3, MockClient keeps objects in memory.
type API interface {
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte) error
	PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error
	PutObjectMultipart(ctx context.Context, key string, data []byte) error
	DeleteObject(ctx context.Context, key string) error
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	CopyObjectWithMetadata(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error
	CopyObjectMultipart(ctx context.Context, sourceKey, destKey string) error
}

// s3API is the subset of *s3.Client the Client calls.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client represents an S3 client
type Client struct {
	bucket   string
	region   string
	endpoint string
	creds    *credentials.Credentials
	s3Client s3API
}

var errNotInitialized = errors.New("S3 client not initialized")

// NewClient creates a new S3 client
func NewClient(bucket, region string, creds *credentials.Credentials) *Client {
	return NewClientWithEndpoint(bucket, region, "", creds)
}

// NewClientWithEndpoint creates a new S3 client with custom endpoint. Without
// valid credentials the client is left uninitialized and every call fails.
func NewClientWithEndpoint(bucket, region, endpoint string, creds *credentials.Credentials) *Client {
	client := &Client{
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
		creds:    creds,
	}

	if creds != nil && creds.IsValid() {
		cfgOptions := []func(*config.LoadOptions) error{
			config.WithRegion(region),
			config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
				creds.AccessKeyID,
				creds.SecretAccessKey,
				creds.SessionToken,
			)),
		}

		cfg, err := config.LoadDefaultConfig(context.Background(), cfgOptions...)
		if err == nil {
			s3Options := []func(*s3.Options){}
			if endpoint != "" {
				s3Options = append(s3Options, func(o *s3.Options) {
					o.BaseEndpoint = aws.String(endpoint)
					o.UsePathStyle = true // Required for LocalStack and MinIO
				})
			}
			client.s3Client = s3.NewFromConfig(cfg, s3Options...)
		}
	}

	return client
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// wrapErr maps missing keys to os.ErrNotExist and annotates everything else.
func wrapErr(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, key, os.ErrNotExist)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isInvalidRange(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "InvalidRange"
}

// ListObjects lists every key with the given prefix, following pagination.
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if c.s3Client == nil {
		return nil, errNotInitialized
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// GetObject retrieves a whole object
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	return c.GetObjectRange(ctx, key, 0, -1)
}

// rangeHeader builds an HTTP Range value. end is inclusive; a negative end
// reads to the end of the object.
func rangeHeader(start, end int64) string {
	if start <= 0 && end < 0 {
		return ""
	}
	if end < 0 {
		return fmt.Sprintf("bytes=%d-", start)
	}
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// GetObjectRange retrieves bytes start..end inclusive. A negative end reads
// to the end of the object. A range starting past the end yields no data.
func (c *Client) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	if c.s3Client == nil {
		return nil, errNotInitialized
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if r := rangeHeader(start, end); r != "" {
		input.Range = aws.String(r)
	}

	result, err := c.s3Client.GetObject(ctx, input)
	if isInvalidRange(err) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, wrapErr("get object", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// PutObject uploads an object to S3
func (c *Client) PutObject(ctx context.Context, key string, data []byte) error {
	return c.PutObjectWithMetadata(ctx, key, data, nil)
}

// cleanMetadata strips the x-amz-meta- prefix the SDK adds by itself.
func cleanMetadata(metadata map[string]string) map[string]string {
	const metaPrefix = "x-amz-meta-"
	clean := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clean[strings.TrimPrefix(k, metaPrefix)] = v
	}
	return clean
}

// PutObjectWithMetadata uploads an object to S3 with metadata
func (c *Client) PutObjectWithMetadata(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: cleanMetadata(metadata),
	}

	if _, err := c.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// CopyObjectWithMetadata copies an object, replacing its metadata
func (c *Client) CopyObjectWithMetadata(ctx context.Context, sourceKey, destKey string, metadata map[string]string) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(c.bucket),
		Key:               aws.String(destKey),
		CopySource:        aws.String(fmt.Sprintf("%s/%s", c.bucket, sourceKey)),
		Metadata:          cleanMetadata(metadata),
		MetadataDirective: types.MetadataDirectiveReplace,
	}

	if _, err := c.s3Client.CopyObject(ctx, input); err != nil {
		return wrapErr("copy object", sourceKey, err)
	}
	return nil
}

// DeleteObject deletes an object from S3. S3 does not report missing keys.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	if _, err := c.s3Client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HeadObject retrieves size, modification time and metadata
func (c *Client) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	if c.s3Client == nil {
		return nil, errNotInitialized
	}

	input := &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}

	result, err := c.s3Client.HeadObject(ctx, input)
	if err != nil {
		return nil, wrapErr("head object", key, err)
	}

	info := &ObjectInfo{Metadata: make(map[string]string, len(result.Metadata))}
	for k, v := range result.Metadata {
		info.Metadata[k] = v
	}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// HeadObjectSize retrieves object size without downloading
func (c *Client) HeadObjectSize(ctx context.Context, key string) (int64, error) {
	info, err := c.HeadObject(ctx, key)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// CreateBucket creates the client's bucket
func (c *Client) CreateBucket(ctx context.Context) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(c.bucket),
	}

	if _, err := c.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
