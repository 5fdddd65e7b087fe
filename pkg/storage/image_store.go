package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultLinkExpiry is how long presigned image links stay valid.
const DefaultLinkExpiry = 24 * time.Hour

var extensionByMime = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ErrUnsupportedImageType is returned for uploads whose media type is not an
// accepted image format.
var ErrUnsupportedImageType = fmt.Errorf("unsupported image type")

// ImageStore keeps uploaded source images and hands out time-limited links
// to them.
type ImageStore interface {
	PutImage(ctx context.Context, id string, r io.Reader, size int64, contentType string) (key string, err error)
	ImageURL(ctx context.Context, key string) (string, error)
	DeleteImage(ctx context.Context, key string) error
}

// MinioImageStore stores images in a MinIO/S3 compatible bucket.
type MinioImageStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioImageStore connects to the object store and ensures the bucket
// exists.
func NewMinioImageStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioImageStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioImageStore{client: client, bucket: bucket, expiry: DefaultLinkExpiry}, nil
}

// PutImage uploads one image under images/<id>.<ext> and returns the key.
func (m *MinioImageStore) PutImage(ctx context.Context, id string, r io.Reader, size int64, contentType string) (string, error) {
	ext, ok := extensionByMime[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImageType, contentType)
	}
	key := fmt.Sprintf("images/%s.%s", id, ext)
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put image: %w", err)
	}
	return key, nil
}

// ImageURL returns a presigned GET link for a stored image.
func (m *MinioImageStore) ImageURL(ctx context.Context, key string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign image: %w", err)
	}
	return url.String(), nil
}

// DeleteImage removes a stored image.
func (m *MinioImageStore) DeleteImage(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}
