package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"
)

// FilesystemStore keeps objects as files on an afero filesystem. It backs
// local development (OS directory) and tests (memory map).
type FilesystemStore struct {
	fs afero.Fs
}

// NewFilesystemStore stores objects beneath root on the OS filesystem.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blobstore: local directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create local directory: %w", err)
	}
	return &FilesystemStore{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}, nil
}

// NewMemoryStore keeps objects in process memory.
func NewMemoryStore() *FilesystemStore {
	return &FilesystemStore{fs: afero.NewMemMapFs()}
}

func (s *FilesystemStore) Put(ctx context.Context, object Object) error {
	if err := validateKey(object.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(object.Key), 0o755); err != nil {
		return fmt.Errorf("blobstore: create parent of %q: %w", object.Key, err)
	}
	if err := afero.WriteFile(s.fs, object.Key, object.Data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write %q: %w", object.Key, err)
	}
	return nil
}

func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("blobstore: delete %q: %w", key, err)
	}
	return nil
}

func (s *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return afero.Exists(s.fs, key)
}
