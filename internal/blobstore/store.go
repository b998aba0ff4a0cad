// Package blobstore stores raw save bytes and preview images keyed by save id.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	saveKeyPrefix    = "saves/"
	previewKeyPrefix = "previews/"
	previewKeySuffix = "_thumbnail.webp"

	// ContentTypeSave is the content type recorded for raw save uploads.
	ContentTypeSave = "application/octet-stream"
	// ContentTypePreview is the content type recorded for preview images.
	ContentTypePreview = "image/webp"
)

var (
	// ErrObjectNotFound reports that no object exists under the requested key.
	ErrObjectNotFound = errors.New("blobstore: object not found")
	// ErrInvalidKey reports an empty or malformed object key.
	ErrInvalidKey = errors.New("blobstore: invalid key")
)

// Object describes a single put request.
type Object struct {
	Key             string
	Data            []byte
	ContentType     string
	ContentEncoding string
}

// Store is the object-store contract used by the upload pipeline.
type Store interface {
	Put(ctx context.Context, object Object) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SaveKey returns the object key holding the raw bytes of a save.
func SaveKey(saveID string) string {
	return saveKeyPrefix + saveID
}

// PreviewKey returns the object key holding the preview image of a save.
func PreviewKey(saveID string) string {
	return previewKeyPrefix + saveID + previewKeySuffix
}

// KeysForSave lists every object key that may belong to a save.
func KeysForSave(saveID string) []string {
	return []string{SaveKey(saveID), PreviewKey(saveID)}
}

func validateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.Contains(trimmed, "..") || strings.HasPrefix(trimmed, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
