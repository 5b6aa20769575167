package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// MinMultipartSize is the smallest object sent as a multipart upload (5MB)
	MinMultipartSize = 5 * 1024 * 1024
	// DefaultPartSize is the part size for multipart uploads and copies (5MB)
	DefaultPartSize = 5 * 1024 * 1024
)

// partRange is the half-open byte range [start, end) of one part.
type partRange struct {
	number     int32
	start, end int64
}

func splitParts(size, partSize int64) []partRange {
	var parts []partRange
	for start, n := int64(0), int32(1); start < size; start, n = start+partSize, n+1 {
		end := min(start+partSize, size)
		parts = append(parts, partRange{number: n, start: start, end: end})
	}
	return parts
}

// CreateMultipartUpload initiates a multipart upload
func (c *Client) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if c.s3Client == nil {
		return "", errNotInitialized
	}

	result, err := c.s3Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	if result.UploadId == nil {
		return "", fmt.Errorf("upload ID is nil")
	}
	return *result.UploadId, nil
}

// UploadPart uploads a single part of a multipart upload
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error) {
	if c.s3Client == nil {
		return "", errNotInitialized
	}

	result, err := c.s3Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		PartNumber: aws.Int32(partNumber),
		UploadId:   aws.String(uploadID),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}
	if result.ETag == nil {
		return "", fmt.Errorf("ETag is nil for part %d", partNumber)
	}
	return *result.ETag, nil
}

// CopyPart copies bytes [start, end) of sourceKey as one part
func (c *Client) CopyPart(ctx context.Context, destKey, uploadID string, partNumber int32, sourceKey string, start, end int64) (string, error) {
	if c.s3Client == nil {
		return "", errNotInitialized
	}

	result, err := c.s3Client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(destKey),
		PartNumber:      aws.Int32(partNumber),
		UploadId:        aws.String(uploadID),
		CopySource:      aws.String(fmt.Sprintf("%s/%s", c.bucket, sourceKey)),
		CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy part %d: %w", partNumber, err)
	}
	if result.CopyPartResult == nil || result.CopyPartResult.ETag == nil {
		return "", fmt.Errorf("ETag is nil for copied part %d", partNumber)
	}
	return *result.CopyPartResult.ETag, nil
}

// CompleteMultipartUpload completes a multipart upload
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []types.CompletedPart) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	_, err := c.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// AbortMultipartUpload aborts a multipart upload
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	_, err := c.s3Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// multipart runs one upload over parts, sending each with send. The upload
// is aborted if any part or the completion fails.
func (c *Client) multipart(ctx context.Context, key string, parts []partRange, send func(uploadID string, p partRange) (string, error)) error {
	uploadID, err := c.CreateMultipartUpload(ctx, key)
	if err != nil {
		return err
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		etag, err := send(uploadID, p)
		if err != nil {
			return errors.Join(err, c.AbortMultipartUpload(ctx, key, uploadID))
		}
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(p.number),
		})
	}

	if err := c.CompleteMultipartUpload(ctx, key, uploadID, completed); err != nil {
		return errors.Join(err, c.AbortMultipartUpload(ctx, key, uploadID))
	}
	return nil
}

// PutObjectMultipart uploads data, using multipart upload from
// MinMultipartSize on.
func (c *Client) PutObjectMultipart(ctx context.Context, key string, data []byte) error {
	if c.s3Client == nil {
		return errNotInitialized
	}
	if int64(len(data)) < MinMultipartSize {
		return c.PutObject(ctx, key, data)
	}

	parts := splitParts(int64(len(data)), DefaultPartSize)
	return c.multipart(ctx, key, parts, func(uploadID string, p partRange) (string, error) {
		return c.UploadPart(ctx, key, uploadID, p.number, data[p.start:p.end])
	})
}

// CopyObjectMultipart copies an object server side, part by part when it is
// large. Metadata is carried over for small objects only.
func (c *Client) CopyObjectMultipart(ctx context.Context, sourceKey, destKey string) error {
	if c.s3Client == nil {
		return errNotInitialized
	}

	info, err := c.HeadObject(ctx, sourceKey)
	if err != nil {
		return err
	}
	if info.Size < MinMultipartSize {
		return c.CopyObjectWithMetadata(ctx, sourceKey, destKey, info.Metadata)
	}

	parts := splitParts(info.Size, DefaultPartSize)
	return c.multipart(ctx, destKey, parts, func(uploadID string, p partRange) (string, error) {
		return c.CopyPart(ctx, destKey, uploadID, p.number, sourceKey, p.start, p.end)
	})
}
