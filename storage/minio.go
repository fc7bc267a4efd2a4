package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"melodex/config"
	"melodex/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the durable artifact store backed by MinIO. The cache
// index persists object names produced here, never raw bytes.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore connects to MinIO and ensures the artifact bucket exists.
func NewStore(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("Created artifact bucket", logger.String("bucket", cfg.MinioBucket))
	}

	return &Store{client: client, bucket: cfg.MinioBucket}, nil
}

// StoreFile uploads a local file and returns its object name as the
// location reference.
func (s *Store) StoreFile(ctx context.Context, objectName, filePath, contentType string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, file, stat.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return objectName, nil
}

// Retrieve opens the object behind a location reference. The caller
// must close the returned reader.
func (s *Store) Retrieve(ctx context.Context, location string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", location, err)
	}
	return object, nil
}

// List walks the objects under a prefix. An empty prefix lists the
// whole bucket.
func (s *Store) List(ctx context.Context, prefix string) ([]minio.ObjectInfo, error) {
	var objects []minio.ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, object.Err)
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// Remove deletes the object behind a location reference.
func (s *Store) Remove(ctx context.Context, location string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", location, err)
	}
	return nil
}

// PresignedURL returns a short-lived download URL for an artifact.
func (s *Store) PresignedURL(ctx context.Context, location string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, location, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", location, err)
	}
	return u.String(), nil
}
