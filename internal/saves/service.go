// Package saves records uploaded saves across the object store and the
// relational store, and serves save lookups and deletions.
package saves

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/blobstore"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/parser"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/scoring"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultMaxUploadBytes  = 20 << 20
	defaultMaxPreviewBytes = 1 << 20
	defaultUploadTimeout   = 2 * time.Minute
	compensationTimeout    = 30 * time.Second

	fieldSaveID      = "save_id"
	fieldUserID      = "user_id"
	fieldContentHash = "content_hash"

	reasonMissingDatabase    = "missing_database"
	reasonHashLookupFailed   = "hash_lookup_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonParseFailed        = "parse_failed"
	reasonInvalidMetadata    = "invalid_metadata"
	reasonObjectPutFailed    = "object_put_failed"
	reasonInsertFailed       = "insert_failed"
	reasonQueryFailed        = "query_failed"
	reasonDeleteFailed       = "delete_failed"
	reasonObjectDeleteFailed = "object_delete_failed"
)

var noOpLogger = zap.NewNop()

// LeaderboardInvalidator is notified whenever the set of ranked saves changes.
type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context) error
}

// ServiceConfig describes the collaborators of the upload pipeline.
type ServiceConfig struct {
	Database         *gorm.DB
	Blobs            blobstore.Store
	Gateway          parser.Gateway
	IDProvider       IDProvider
	Clock            func() time.Time
	Logger           *zap.Logger
	Metrics          *metrics.Recorder
	Leaderboard      LeaderboardInvalidator
	LatestPatchMinor int
	MaxUploadBytes   int64
	MaxPreviewBytes  int64
	UploadTimeout    time.Duration
}

// Service coordinates uploads and owns the saves table.
type Service struct {
	db               *gorm.DB
	blobs            blobstore.Store
	gateway          parser.Gateway
	idProvider       IDProvider
	clock            func() time.Time
	logger           *zap.Logger
	metrics          *metrics.Recorder
	leaderboard      LeaderboardInvalidator
	latestPatchMinor int
	maxUploadBytes   int64
	maxPreviewBytes  int64
	uploadTimeout    time.Duration

	cleanups sync.WaitGroup
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}
	if cfg.Gateway == nil {
		return nil, newServiceError(opServiceNew, "missing_gateway", errMissingGateway)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	maxPreviewBytes := cfg.MaxPreviewBytes
	if maxPreviewBytes <= 0 {
		maxPreviewBytes = defaultMaxPreviewBytes
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}

	return &Service{
		db:               cfg.Database,
		blobs:            cfg.Blobs,
		gateway:          cfg.Gateway,
		idProvider:       cfg.IDProvider,
		clock:            clock,
		logger:           logger,
		metrics:          cfg.Metrics,
		leaderboard:      cfg.Leaderboard,
		latestPatchMinor: cfg.LatestPatchMinor,
		maxUploadBytes:   maxUploadBytes,
		maxPreviewBytes:  maxPreviewBytes,
		uploadTimeout:    uploadTimeout,
	}, nil
}

// MaxUploadBytes reports the upload size ceiling.
func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Upload records a new save and returns its id.
//
// The object write and the parse run concurrently. The relational commit is
// the single source of truth: when anything fails, the uploaded object is
// deleted by a detached cleanup task and the original cause is returned.
// The caller's cancellation is ignored once validation passes so that a
// disconnecting client never leaves an upload in flight and forgotten.
func (s *Service) Upload(ctx context.Context, request UploadRequest) (string, error) {
	started := s.clock()
	saveID, err := s.upload(ctx, request)
	s.metrics.ObserveUpload(uploadOutcome(err), s.clock().Sub(started))
	return saveID, err
}

func (s *Service) upload(ctx context.Context, request UploadRequest) (string, error) {
	if s.db == nil {
		s.logError(opUpload, reasonMissingDatabase, errMissingDatabase)
		return "", newServiceError(opUpload, reasonMissingDatabase, errMissingDatabase)
	}
	encoding, err := s.validateUpload(request)
	if err != nil {
		return "", err
	}

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	defer cancel()

	contentHash := ContentHash(request.Data)
	exists, err := s.contentHashExists(workCtx, contentHash)
	if err != nil {
		s.logError(opUpload, reasonHashLookupFailed, err, zap.String(fieldContentHash, contentHash))
		return "", newServiceError(opUpload, reasonHashLookupFailed, err)
	}
	if exists {
		return "", duplicateSaveError()
	}

	saveID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpload, reasonIDGenerationFailed, err)
		return "", newServiceError(opUpload, reasonIDGenerationFailed, err)
	}

	objectUpload, uploadCtx := errgroup.WithContext(workCtx)
	objectUpload.Go(func() error {
		return s.blobs.Put(uploadCtx, blobstore.Object{
			Key:             blobstore.SaveKey(saveID),
			Data:            request.Data,
			ContentType:     blobstore.ContentTypeSave,
			ContentEncoding: encoding,
		})
	})

	metadata, err := s.gateway.Parse(workCtx, parser.Request{Data: request.Data, ContentEncoding: encoding})
	if err != nil {
		s.compensate(saveID, objectUpload)
		var rejection *parser.RejectionError
		if errors.As(err, &rejection) && rejection.Kind == parser.RejectionKindInvalidPatch {
			return "", unsupportedPatchError(rejection)
		}
		s.logError(opUpload, reasonParseFailed, err, zap.String(fieldSaveID, saveID))
		return "", newServiceError(opUpload, reasonParseFailed, err)
	}
	if err := validateMetadata(metadata, contentHash); err != nil {
		s.compensate(saveID, objectUpload)
		s.logError(opUpload, reasonInvalidMetadata, err, zap.String(fieldSaveID, saveID))
		return "", newServiceError(opUpload, reasonInvalidMetadata, err)
	}

	if err := objectUpload.Wait(); err != nil {
		s.compensate(saveID, objectUpload)
		s.logError(opUpload, reasonObjectPutFailed, err, zap.String(fieldSaveID, saveID))
		return "", newServiceError(opUpload, reasonObjectPutFailed, err)
	}

	save := s.buildSave(saveID, contentHash, encoding, request, metadata)
	if err := s.insertSave(workCtx, save); err != nil {
		s.compensate(saveID, objectUpload)
		if isUniqueViolation(err) {
			duplicate, lookupErr := s.contentHashExists(workCtx, contentHash)
			if lookupErr == nil && duplicate {
				return "", duplicateSaveError()
			}
		}
		s.logError(opUpload, reasonInsertFailed, err,
			zap.String(fieldSaveID, saveID),
			zap.String(fieldContentHash, contentHash))
		return "", newServiceError(opUpload, reasonInsertFailed, err)
	}

	s.invalidateLeaderboard(workCtx, opUpload)
	s.logger.Info("save committed",
		zap.String(fieldSaveID, saveID),
		zap.String(fieldUserID, save.UserID),
		zap.String("playthrough_id", save.PlaythroughID),
		zap.Int64("raw_days", save.RawDays),
		zap.Int64("weighted_score", *save.WeightedScore))
	return saveID, nil
}

func (s *Service) validateUpload(request UploadRequest) (string, error) {
	userID := strings.TrimSpace(request.UserID)
	if userID == "" || len(userID) > maxIdentifierLength {
		return "", newValidationError(CodeInvalidUser, "a valid user is required to upload", nil)
	}
	if len(request.Data) == 0 {
		return "", newValidationError(CodeUploadEmpty, "upload is empty", nil)
	}
	if int64(len(request.Data)) > s.maxUploadBytes {
		return "", newValidationError(CodeUploadTooLarge,
			fmt.Sprintf("upload of %d bytes exceeds the %d byte limit", len(request.Data), s.maxUploadBytes), nil)
	}
	filename := strings.TrimSpace(request.Filename)
	if filename == "" || len(filename) > maxFilenameLength {
		return "", newValidationError(CodeInvalidFilename,
			fmt.Sprintf("filename must be between 1 and %d characters", maxFilenameLength), nil)
	}
	if len(request.Notes) > maxNotesLength {
		return "", newValidationError(CodeInvalidNotes,
			fmt.Sprintf("notes must not exceed %d characters", maxNotesLength), nil)
	}
	encoding, ok := normalizeContentEncoding(request.ContentEncoding)
	if !ok {
		return "", newValidationError(CodeInvalidContentEncoding,
			fmt.Sprintf("unsupported content encoding %q", request.ContentEncoding), nil)
	}
	return encoding, nil
}

func validateMetadata(metadata parser.Metadata, contentHash string) error {
	if reported := strings.TrimSpace(metadata.ContentHash); reported != "" && !strings.EqualFold(reported, contentHash) {
		return fmt.Errorf("%w: parser hashed %s, upload hashed %s", errInvalidMetadata, reported, contentHash)
	}
	if strings.TrimSpace(metadata.PlaythroughID) == "" {
		return fmt.Errorf("%w: missing playthrough id", errInvalidMetadata)
	}
	if len(metadata.PlaythroughID) > maxIdentifierLength {
		return fmt.Errorf("%w: playthrough id exceeds %d characters", errInvalidMetadata, maxIdentifierLength)
	}
	if metadata.RawDays < 0 {
		return fmt.Errorf("%w: negative elapsed days %d", errInvalidMetadata, metadata.RawDays)
	}
	if metadata.Patch.Major < 0 || metadata.Patch.Minor < 0 {
		return fmt.Errorf("%w: invalid patch %s", errInvalidMetadata, metadata.Patch.String())
	}
	return nil
}

func (s *Service) buildSave(saveID, contentHash, encoding string, request UploadRequest, metadata parser.Metadata) Save {
	score := scoring.WeightedScore(metadata.RawDays, metadata.Patch.Minor, s.latestPatchMinor)
	return Save{
		ID:              saveID,
		UserID:          strings.TrimSpace(request.UserID),
		Filename:        strings.TrimSpace(request.Filename),
		Notes:           request.Notes,
		ContentHash:     contentHash,
		ContentEncoding: encoding,
		SizeBytes:       int64(len(request.Data)),
		PlaythroughID:   strings.TrimSpace(metadata.PlaythroughID),
		GameDate:        metadata.Date,
		RawDays:         metadata.RawDays,
		PatchMajor:      metadata.Patch.Major,
		PatchMinor:      metadata.Patch.Minor,
		PatchPatch:      metadata.Patch.Patch,
		PatchRevision:   metadata.Patch.Revision,
		Tag:             metadata.Tag,
		Difficulty:      metadata.Difficulty,
		GameName:        metadata.GameName,
		WeightedScore:   &score,
		AchievementIDs:  uniqueAchievementIDs(metadata.AchievementIDs),
		CreatedOn:       s.clock().UTC(),
	}
}

func (s *Service) insertSave(ctx context.Context, save Save) error {
	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Create(&save).Error; err != nil {
			return err
		}
		if len(save.AchievementIDs) == 0 {
			return nil
		}
		rows := make([]SaveAchievement, 0, len(save.AchievementIDs))
		for _, achievementID := range save.AchievementIDs {
			rows = append(rows, SaveAchievement{SaveID: save.ID, AchievementID: achievementID})
		}
		return transaction.Create(&rows).Error
	})
}

func (s *Service) contentHashExists(ctx context.Context, contentHash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Save{}).
		Where("content_hash = ?", contentHash).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns the save with the provided id.
func (s *Service) Get(ctx context.Context, saveID string) (Save, error) {
	if s.db == nil {
		s.logError(opGetSave, reasonMissingDatabase, errMissingDatabase)
		return Save{}, newServiceError(opGetSave, reasonMissingDatabase, errMissingDatabase)
	}
	var save Save
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(saveID)).Take(&save).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Save{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGetSave, reasonQueryFailed, err, zap.String(fieldSaveID, saveID))
		return Save{}, newServiceError(opGetSave, reasonQueryFailed, err)
	}
	return save, nil
}

// ListUserSaves returns a user's saves, newest first.
func (s *Service) ListUserSaves(ctx context.Context, userID string) ([]Save, error) {
	if s.db == nil {
		s.logError(opListUserSaves, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListUserSaves, reasonMissingDatabase, errMissingDatabase)
	}
	var saves []Save
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_on DESC").
		Order("id DESC").
		Find(&saves).Error; err != nil {
		s.logError(opListUserSaves, reasonQueryFailed, err, zap.String(fieldUserID, userID))
		return nil, newServiceError(opListUserSaves, reasonQueryFailed, err)
	}
	return saves, nil
}

// Delete removes a save row and then its objects. Only the owner or an admin
// may delete a save.
func (s *Service) Delete(ctx context.Context, actor Actor, saveID string) error {
	save, err := s.Get(ctx, saveID)
	if err != nil {
		return err
	}
	if !actor.CanModify(save) {
		return ErrForbidden
	}

	err = s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("save_id = ?", save.ID).Delete(&SaveAchievement{}).Error; err != nil {
			return err
		}
		return transaction.Where("id = ?", save.ID).Delete(&Save{}).Error
	})
	if err != nil {
		s.logError(opDeleteSave, reasonDeleteFailed, err, zap.String(fieldSaveID, save.ID))
		return newServiceError(opDeleteSave, reasonDeleteFailed, err)
	}

	for _, key := range blobstore.KeysForSave(save.ID) {
		if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrObjectNotFound) {
			s.logError(opDeleteSave, reasonObjectDeleteFailed, err,
				zap.String(fieldSaveID, save.ID),
				zap.String("key", key))
		}
	}

	s.invalidateLeaderboard(ctx, opDeleteSave)
	s.logger.Info("save deleted",
		zap.String(fieldSaveID, save.ID),
		zap.String("actor_user_id", actor.UserID),
		zap.Bool("actor_admin", actor.Admin))
	return nil
}

// StorePreview uploads a WebP preview image for an existing save.
func (s *Service) StorePreview(ctx context.Context, actor Actor, saveID string, image []byte) error {
	save, err := s.Get(ctx, saveID)
	if err != nil {
		return err
	}
	if !actor.CanModify(save) {
		return ErrForbidden
	}
	if int64(len(image)) > s.maxPreviewBytes {
		return newValidationError(CodeInvalidPreview,
			fmt.Sprintf("preview of %d bytes exceeds the %d byte limit", len(image), s.maxPreviewBytes), nil)
	}
	if !isWebP(image) {
		return newValidationError(CodeInvalidPreview, "preview must be a WebP image", nil)
	}
	if err := s.blobs.Put(ctx, blobstore.Object{
		Key:         blobstore.PreviewKey(save.ID),
		Data:        image,
		ContentType: blobstore.ContentTypePreview,
	}); err != nil {
		s.logError(opStorePreview, reasonObjectPutFailed, err, zap.String(fieldSaveID, save.ID))
		return newServiceError(opStorePreview, reasonObjectPutFailed, err)
	}
	return nil
}

func isWebP(image []byte) bool {
	return len(image) >= 12 && string(image[0:4]) == "RIFF" && string(image[8:12]) == "WEBP"
}

func (s *Service) invalidateLeaderboard(ctx context.Context, operation string) {
	if s.leaderboard == nil {
		return
	}
	if err := s.leaderboard.Invalidate(ctx); err != nil {
		s.logger.Warn("leaderboard invalidation failed",
			zap.String("operation", operation),
			zap.Error(err))
	}
}

func duplicateSaveError() error {
	return newValidationError(CodeSaveExists, ErrSaveExists.Error(), ErrSaveExists)
}

func unsupportedPatchError(rejection *parser.RejectionError) error {
	return newValidationError(CodeUnsupportedPatch,
		fmt.Sprintf("unsupported patch: %s", rejection.PatchShorthand), rejection)
}

func uploadOutcome(err error) string {
	var validation *ValidationError
	switch {
	case err == nil:
		return metrics.UploadOutcomeCommitted
	case errors.Is(err, ErrSaveExists):
		return metrics.UploadOutcomeDuplicate
	case errors.As(err, &validation):
		return metrics.UploadOutcomeRejected
	default:
		return metrics.UploadOutcomeFailed
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("saves service error", attrs...)
}
