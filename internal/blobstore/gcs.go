package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const (
	gcsWriteTimeout  = 2 * time.Minute
	gcsDeleteTimeout = 30 * time.Second
	gcsAttrsTimeout  = 30 * time.Second
)

// GCSConfig selects the bucket and optional emulator endpoint.
type GCSConfig struct {
	Bucket       string
	EmulatorHost string
}

// GCSStore persists objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore dials the storage API (or the configured emulator).
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blobstore: gcs bucket is required")
	}
	var opts []option.ClientOption
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		opts = append(opts, option.WithEndpoint(host+"/storage/v1/"), option.WithoutAuthentication())
	} else {
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, object Object) error {
	if err := validateKey(object.Key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(object.Key).NewWriter(ctx)
	writer.ContentType = object.ContentType
	writer.ContentEncoding = object.ContentEncoding
	if _, err := writer.Write(object.Data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("blobstore: write %q to gcs: %w", object.Key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("blobstore: close gcs writer for %q: %w", object.Key, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsDeleteTimeout)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("blobstore: delete gcs object %q in bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsAttrsTimeout)
	defer cancel()

	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: fetch gcs attrs for %q: %w", key, err)
	}
	return true, nil
}

// Close releases the underlying storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
