package saves

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Validation codes reported to callers.
const (
	CodeUploadTooLarge          = "upload_too_large"
	CodeUploadEmpty             = "upload_empty"
	CodeInvalidUser             = "invalid_user"
	CodeInvalidFilename         = "invalid_filename"
	CodeInvalidNotes            = "invalid_notes"
	CodeInvalidContentEncoding  = "invalid_content_encoding"
	CodeUnsupportedPatch        = "unsupported_patch"
	CodeSaveExists              = "save_exists"
	CodeInvalidPreview          = "invalid_preview"
	postgresUniqueViolationCode = "23505"
)

var (
	// ErrSaveExists is wrapped by the validation error returned for duplicate content.
	ErrSaveExists = errors.New("save already exists")
	// ErrForbidden reports an attempt to act on another user's save.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound reports a reference to a save that does not exist.
	ErrNotFound = errors.New("save not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingBlobStore  = errors.New("blob store is required")
	errMissingGateway    = errors.New("parsing gateway is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidMetadata   = errors.New("parser returned unusable metadata")
)

// ValidationError is a user-caused failure carrying an actionable message.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(code, message string, cause error) error {
	return &ValidationError{Code: code, Message: message, Err: cause}
}

// ServiceError is an internal failure identified by a stable code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "saves.service.new"
	opUpload        = "saves.upload"
	opGetSave       = "saves.get"
	opListUserSaves = "saves.list_user_saves"
	opDeleteSave    = "saves.delete"
	opStorePreview  = "saves.store_preview"
	opCompensate    = "saves.compensate"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// isUniqueViolation recognises unique-index failures from every supported
// store: gorm's translated error, PostgreSQL SQLSTATE 23505 and SQLite's
// constraint message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolationCode
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
