package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore uploads dead-letter dumps to an S3-compatible backend.
type MinIOStore struct {
	Client *minio.Client
	Bucket string
	// Prefix is prepended to every key, so one bucket can be shared
	// across environments.
	Prefix string
}

// NewMinIOStore initializes a MinIO client and ensures the bucket exists.
func NewMinIOStore(endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool) (*MinIOStore, error) {
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("endpoint and bucket required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}
	return &MinIOStore{Client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Put uploads data to bucket/prefix/key.
func (m *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.Prefix != "" {
		key = path.Join(m.Prefix, key)
	}
	_, err := m.Client.PutObject(ctx, m.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
