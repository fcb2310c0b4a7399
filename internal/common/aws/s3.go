// internal/common/aws/s3.go
package aws

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Client struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	maxBytes  int64
}

func NewS3Client(cfg aws.Config, bucket string, forcePathStyle bool, maxBytes int64) *S3Client {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
	})
	return &S3Client{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
		maxBytes:  maxBytes,
	}
}

// Bucket is the default bucket for bucket-relative keys.
func (c *S3Client) Bucket() string {
	return c.bucket
}

// GetObject downloads an object, refusing anything larger than the configured cap.
func (c *S3Client) GetObject(ctx context.Context, bucket, key string) ([]byte, string, error) {
	if bucket == "" {
		bucket = c.bucket
	}
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	limit := c.maxBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("s3://%s/%s exceeds %d bytes", bucket, key, limit)
	}
	return data, aws.ToString(out.ContentType), nil
}

// PresignDownload returns a time-limited GET URL for signers to review a document.
func (c *S3Client) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if bucket == "" {
		bucket = c.bucket
	}
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}
