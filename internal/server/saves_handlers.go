package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/users"
	"github.com/gin-gonic/gin"
)

const (
	multipartOverheadBytes = 1 << 20
	maxPreviewRequestBytes = 2 << 20
)

type saveResponse struct {
	SaveID          string    `json:"save_id"`
	UserID          string    `json:"user_id"`
	Filename        string    `json:"filename"`
	Notes           string    `json:"notes"`
	ContentEncoding string    `json:"content_encoding"`
	SizeBytes       int64     `json:"size_bytes"`
	PlaythroughID   string    `json:"playthrough_id"`
	GameDate        string    `json:"game_date"`
	Patch           string    `json:"patch"`
	Tag             string    `json:"tag"`
	Difficulty      string    `json:"difficulty,omitempty"`
	GameName        string    `json:"game_name,omitempty"`
	RawDays         int64     `json:"raw_days"`
	WeightedScore   *int64    `json:"weighted_score"`
	AchievementIDs  []int     `json:"achievement_ids"`
	CreatedOn       time.Time `json:"created_on"`
}

func newSaveResponse(save saves.Save) saveResponse {
	achievementIDs := []int(save.AchievementIDs)
	if achievementIDs == nil {
		achievementIDs = []int{}
	}
	return saveResponse{
		SaveID:          save.ID,
		UserID:          save.UserID,
		Filename:        save.Filename,
		Notes:           save.Notes,
		ContentEncoding: save.ContentEncoding,
		SizeBytes:       save.SizeBytes,
		PlaythroughID:   save.PlaythroughID,
		GameDate:        save.GameDate,
		Patch:           save.PatchShorthand(),
		Tag:             save.Tag,
		Difficulty:      save.Difficulty,
		GameName:        save.GameName,
		RawDays:         save.RawDays,
		WeightedScore:   save.WeightedScore,
		AchievementIDs:  achievementIDs,
		CreatedOn:       save.CreatedOn,
	}
}

func (h *httpHandler) handleUploadSave(c *gin.Context) {
	maxBytes := h.saves.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverheadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": saves.CodeUploadTooLarge, "message": "upload exceeds the size limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "multipart field \"file\" is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.respondError(c, "saves.upload.open_file", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		h.respondError(c, "saves.upload.read_file", err)
		return
	}

	filename := strings.TrimSpace(c.PostForm("filename"))
	if filename == "" {
		filename = fileHeader.Filename
	}
	contentEncoding := c.PostForm("content_encoding")
	if contentEncoding == "" {
		contentEncoding = fileHeader.Header.Get("Content-Encoding")
	}

	saveID, err := h.saves.Upload(c.Request.Context(), saves.UploadRequest{
		UserID:          c.GetString(userIDContextKey),
		Filename:        filename,
		Notes:           c.PostForm("notes"),
		ContentEncoding: contentEncoding,
		Data:            data,
	})
	if err != nil {
		h.respondError(c, "saves.upload", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"save_id": saveID})
}

func (h *httpHandler) handleGetSave(c *gin.Context) {
	save, err := h.saves.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "saves.get", err)
		return
	}
	c.JSON(http.StatusOK, newSaveResponse(save))
}

func (h *httpHandler) handleListUserSaves(c *gin.Context) {
	userID := c.Param("id")
	profile, err := h.users.Profile(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, users.ErrUnknownUser) {
		h.respondError(c, "users.profile", err)
		return
	}
	list, err := h.saves.ListUserSaves(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "saves.list_user_saves", err)
		return
	}
	response := make([]saveResponse, 0, len(list))
	for _, save := range list {
		response = append(response, newSaveResponse(save))
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":           userID,
		"user_display_name": profile.DisplayName,
		"saves":             response,
	})
}

func (h *httpHandler) handleDeleteSave(c *gin.Context) {
	if err := h.saves.Delete(c.Request.Context(), actorFromContext(c), c.Param("id")); err != nil {
		h.respondError(c, "saves.delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleStorePreview(c *gin.Context) {
	image, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPreviewRequestBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.saves.StorePreview(c.Request.Context(), actorFromContext(c), c.Param("id"), image); err != nil {
		h.respondError(c, "saves.store_preview", err)
		return
	}
	c.Status(http.StatusNoContent)
}
