package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleListAchievements(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"achievements": h.leaderboards.Achievements()})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	achievementID, err := strconv.Atoi(c.Param("id"))
	if err != nil || achievementID <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be a positive integer"})
			return
		}
	}

	board, err := h.leaderboards.Leaderboard(c.Request.Context(), achievementID, limit)
	if err != nil {
		h.respondError(c, "leaderboard.achievement", err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *httpHandler) handleMedals(c *gin.Context) {
	table, err := h.leaderboards.Medals(c.Request.Context())
	if err != nil {
		h.respondError(c, "leaderboard.medals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"medals": table})
}

type rebalanceRequestPayload struct {
	LatestPatchMinor *int `json:"latest_patch_minor"`
}

func (h *httpHandler) handleRebalance(c *gin.Context) {
	var request rebalanceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.LatestPatchMinor != nil && *request.LatestPatchMinor < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_latest_patch_minor"})
		return
	}

	report, err := h.rebalancer.Run(c.Request.Context(), request.LatestPatchMinor)
	if err != nil {
		h.respondError(c, "rebalance.run", err)
		return
	}
	h.logger.Info("rebalance requested",
		zap.String("user_id", c.GetString(userIDContextKey)),
		zap.Int("latest_patch_minor", report.LatestPatchMinor),
		zap.Int("updated", report.Updated))
	c.JSON(http.StatusOK, report)
}
