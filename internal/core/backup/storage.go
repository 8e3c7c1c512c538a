package backup

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/raisekit/opscore/pkg/errors"
)

// Storage persists finished backup artifacts. Put returns an opaque
// location string that Get and Delete accept back.
type Storage interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// LocalStorage keeps artifacts on the local filesystem.
type LocalStorage struct {
	dir string
}

// NewLocalStorage ensures the target directory exists.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to create backup directory %s", dir)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.Wrapf(err, errors.KindInternal, "failed to write backup %s", path)
	}
	return path, nil
}

func (s *LocalStorage) Get(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.KindNotFound, "backup artifact %s not found", location)
		}
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to read backup %s", location)
	}
	return data, nil
}

func (s *LocalStorage) Delete(_ context.Context, location string) error {
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to delete backup %s", location)
	}
	return nil
}

// S3Storage keeps artifacts in an S3 bucket under an optional key prefix.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage wraps an S3 client for the given bucket.
func NewS3Storage(client *s3.Client, bucket, prefix string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Storage) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Storage) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", errors.Wrapf(err, errors.KindExternalService, "failed to upload backup to s3://%s/%s", s.bucket, key)
	}
	return key, nil
}

func (s *S3Storage) Get(ctx context.Context, location string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindExternalService, "failed to fetch backup s3://%s/%s", s.bucket, location)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindExternalService, "failed to read backup body")
	}
	return data, nil
}

func (s *S3Storage) Delete(ctx context.Context, location string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return errors.Wrapf(err, errors.KindExternalService, "failed to delete backup s3://%s/%s", s.bucket, location)
	}
	return nil
}
