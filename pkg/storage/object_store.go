package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore provides access to media object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
	// PublicURL returns the externally reachable URL for a stored key.
	PublicURL(key string) string
	// Owns reports whether a URL already points into this store.
	Owns(url string) bool
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
// publicBaseURL is the CDN/base prefix served to clients, e.g.
// "https://media.example.com/familyart".
func NewMinioStore(endpoint, accessKey, secretKey, bucket, publicBaseURL string, useSSL bool) (*MinioStore, error) {
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
	if publicBaseURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}
	return &MinioStore{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PublicURL returns the public URL for a stored key.
func (m *MinioStore) PublicURL(key string) string {
	return m.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

// Owns reports whether the URL already points into this store.
func (m *MinioStore) Owns(url string) bool {
	return m.publicBaseURL != "" && strings.HasPrefix(url, m.publicBaseURL)
}

// NullObjectStore refuses every write; it stands in when object storage
// is not configured (simulated mode).
type NullObjectStore struct{}

func NewNullObjectStore() *NullObjectStore { return &NullObjectStore{} }

func (*NullObjectStore) Put(context.Context, string, io.Reader, int64, string) error {
	return fmt.Errorf("object storage disabled")
}

func (*NullObjectStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("object storage disabled")
}

func (*NullObjectStore) Delete(context.Context, string) error {
	return fmt.Errorf("object storage disabled")
}

func (*NullObjectStore) PublicURL(string) string { return "" }

func (*NullObjectStore) Owns(string) bool { return false }

// PutBytes uploads an in-memory payload and returns its public URL.
func PutBytes(ctx context.Context, s ObjectStore, key string, data []byte, contentType string) (string, error) {
	if err := s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}
