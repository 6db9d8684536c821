package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	mc     *minio.Client
	bucket string
	prefix string
}

func New(endpoint, accessKey, secretKey string, useSSL bool, region, bucket, prefix string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (c *Client) EnsureBucket(ctx context.Context) error {
	err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	exists, existsErr := c.mc.BucketExists(ctx, c.bucket)
	if existsErr != nil || !exists {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// ObjectKey returns the key an image filename is stored under.
func (c *Client) ObjectKey(filename string) string {
	if c.prefix == "" {
		return filename
	}
	return path.Join(c.prefix, filename)
}

// PutImage uploads an image that was already written locally.
func (c *Client) PutImage(ctx context.Context, filename string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.mc.PutObject(ctx, c.bucket, c.ObjectKey(filename), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", c.bucket, c.ObjectKey(filename), err)
	}
	return nil
}
