package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/achievements"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/leaderboard"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/rebalance"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/saves"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "chronicle_user_id"
	claimsContextKey = "chronicle_session_claims"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingSaveService      = errors.New("save service dependency required")
	errMissingLeaderboards     = errors.New("leaderboard service dependency required")
	errMissingRebalancer       = errors.New("rebalance job dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory maps session claims onto canonical user ids and serves
// public profiles.
type UserDirectory interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
	Profile(ctx context.Context, userID string) (users.Profile, error)
}

// SaveService is the upload coordinator surface used by the handlers.
type SaveService interface {
	Upload(ctx context.Context, request saves.UploadRequest) (string, error)
	Get(ctx context.Context, saveID string) (saves.Save, error)
	ListUserSaves(ctx context.Context, userID string) ([]saves.Save, error)
	Delete(ctx context.Context, actor saves.Actor, saveID string) error
	StorePreview(ctx context.Context, actor saves.Actor, saveID string, image []byte) error
	MaxUploadBytes() int64
}

// LeaderboardService answers ranking queries.
type LeaderboardService interface {
	Achievements() []achievements.Achievement
	Leaderboard(ctx context.Context, achievementID, limit int) (leaderboard.Board, error)
	Medals(ctx context.Context) ([]leaderboard.MedalCount, error)
}

// RebalanceRunner recomputes stored scores.
type RebalanceRunner interface {
	Run(ctx context.Context, latestPatchMinorOverride *int) (rebalance.Report, error)
}

// Dependencies lists the collaborators of the HTTP handler.
type Dependencies struct {
	SessionValidator SessionValidator
	Users            UserDirectory
	Saves            SaveService
	Leaderboards     LeaderboardService
	Rebalancer       RebalanceRunner
	Metrics          *metrics.Recorder
	Logger           *zap.Logger
	AllowedOrigins   []string
}

// NewHTTPHandler wires the API routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Saves == nil {
		return nil, errMissingSaveService
	}
	if deps.Leaderboards == nil {
		return nil, errMissingLeaderboards
	}
	if deps.Rebalancer == nil {
		return nil, errMissingRebalancer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:     deps.SessionValidator,
		users:        deps.Users,
		saves:        deps.Saves,
		leaderboards: deps.Leaderboards,
		rebalancer:   deps.Rebalancer,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.GET("/saves/:id", handler.handleGetSave)
	api.GET("/users/:id/saves", handler.handleListUserSaves)
	api.GET("/achievements", handler.handleListAchievements)
	api.GET("/achievements/:id/leaderboard", handler.handleLeaderboard)
	api.GET("/leaderboards/medals", handler.handleMedals)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/saves", handler.handleUploadSave)
	protected.DELETE("/saves/:id", handler.handleDeleteSave)
	protected.PUT("/saves/:id/preview", handler.handleStorePreview)

	admin := protected.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.POST("/rebalance", handler.handleRebalance)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Content-Encoding"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions     SessionValidator
	users        UserDirectory
	saves        SaveService
	leaderboards LeaderboardService
	rebalancer   RebalanceRunner
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.String("subject", claims.Subject), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, userID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !actorFromContext(c).Admin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func actorFromContext(c *gin.Context) saves.Actor {
	actor := saves.Actor{UserID: c.GetString(userIDContextKey)}
	if value, ok := c.Get(claimsContextKey); ok {
		if claims, ok := value.(auth.SessionClaims); ok {
			actor.Admin = claims.IsAdmin()
		}
	}
	return actor
}
