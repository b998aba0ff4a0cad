package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondError maps domain errors onto HTTP statuses. Unclassified failures
// are logged under a fresh error id that is also returned to the caller.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validation *saves.ValidationError
	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if errors.Is(err, saves.ErrSaveExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": validation.Code, "message": validation.Message})
	case errors.Is(err, saves.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, saves.ErrNotFound), errors.Is(err, leaderboard.ErrUnknownAchievement):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		errorID := uuid.NewString()
		fields := []zap.Field{
			zap.String("operation", operation),
			zap.String("error_id", errorID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		}
		var serviceErr interface{ Code() string }
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error("request failed", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "error_id": errorID})
	}
}
