package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/achievements"
	"github.com/MarcoPoloResearchLab/chronicle/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLimit         = 100
	defaultMedalPageSize = 10

	viewAchievement = "achievement"
	viewMedals      = "medals"
)

var (
	// ErrUnknownAchievement reports a leaderboard request for an id outside the catalog.
	ErrUnknownAchievement = achievements.ErrUnknownAchievement

	errMissingDatabase = errors.New("leaderboard: database connection required")
	errMissingCatalog  = errors.New("leaderboard: achievement catalog required")
)

// ServiceConfig describes the dependencies of the leaderboard service.
type ServiceConfig struct {
	Database      *gorm.DB
	Catalog       *achievements.Catalog
	Cache         Cache
	Logger        *zap.Logger
	Metrics       *metrics.Recorder
	DefaultLimit  int
	MedalPageSize int
}

// Service answers leaderboard and medal queries.
type Service struct {
	db            *gorm.DB
	catalog       *achievements.Catalog
	cache         Cache
	logger        *zap.Logger
	metrics       *metrics.Recorder
	defaultLimit  int
	medalPageSize int
}

// Board is the ranked leaderboard of one achievement.
type Board struct {
	Achievement achievements.Achievement `json:"achievement"`
	Entries     []Entry                  `json:"entries"`
	Total       int                      `json:"total"`
}

// NewService validates the configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NopCache{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	pageSize := cfg.MedalPageSize
	if pageSize <= 0 {
		pageSize = defaultMedalPageSize
	}
	return &Service{
		db:            cfg.Database,
		catalog:       cfg.Catalog,
		cache:         cache,
		logger:        logger,
		metrics:       cfg.Metrics,
		defaultLimit:  limit,
		medalPageSize: pageSize,
	}, nil
}

// candidateRow is the projection selected for ranking.
type candidateRow struct {
	AchievementID   int       `gorm:"column:achievement_id"`
	SaveID          string    `gorm:"column:save_id"`
	UserID          string    `gorm:"column:user_id"`
	UserDisplayName string    `gorm:"column:user_display_name"`
	PlaythroughID   string    `gorm:"column:playthrough_id"`
	GameDate        string    `gorm:"column:game_date"`
	PatchMajor      int       `gorm:"column:patch_major"`
	PatchMinor      int       `gorm:"column:patch_minor"`
	PatchPatch      int       `gorm:"column:patch_patch"`
	PatchRevision   int       `gorm:"column:patch_revision"`
	Difficulty      string    `gorm:"column:difficulty"`
	Tag             string    `gorm:"column:tag"`
	WeightedScore   int64     `gorm:"column:weighted_score"`
	RawDays         int64     `gorm:"column:raw_days"`
	CreatedOn       time.Time `gorm:"column:created_on"`
}

func (r candidateRow) candidate() Candidate {
	return Candidate{
		SaveID:          r.SaveID,
		UserID:          r.UserID,
		UserDisplayName: r.UserDisplayName,
		PlaythroughID:   r.PlaythroughID,
		GameDate:        r.GameDate,
		Patch:           fmt.Sprintf("%d.%d.%d.%d", r.PatchMajor, r.PatchMinor, r.PatchPatch, r.PatchRevision),
		Difficulty:      r.Difficulty,
		Tag:             r.Tag,
		WeightedScore:   r.WeightedScore,
		RawDays:         r.RawDays,
		CreatedOn:       r.CreatedOn,
	}
}

func (s *Service) candidateQuery(ctx context.Context) *gorm.DB {
	displayNames := s.db.Table("user_identities").
		Select("user_id, MAX(user_display_name) AS user_display_name").
		Group("user_id")
	return s.db.WithContext(ctx).
		Table("save_achievements AS sa").
		Select("sa.achievement_id, s.id AS save_id, s.user_id, COALESCE(ui.user_display_name, '') AS user_display_name, " +
			"s.playthrough_id, s.game_date, s.patch_major, s.patch_minor, s.patch_patch, s.patch_revision, " +
			"s.difficulty, s.tag, s.weighted_score, s.raw_days, s.created_on").
		Joins("JOIN saves AS s ON s.id = sa.save_id").
		Joins("LEFT JOIN (?) AS ui ON ui.user_id = s.user_id", displayNames).
		Where("s.weighted_score IS NOT NULL")
}

// Achievements lists the catalog.
func (s *Service) Achievements() []achievements.Achievement {
	return s.catalog.All()
}

// Leaderboard ranks the saves of one achievement. A non-positive limit falls
// back to the configured default.
func (s *Service) Leaderboard(ctx context.Context, achievementID, limit int) (Board, error) {
	started := time.Now()
	achievement, err := s.catalog.Lookup(achievementID)
	if err != nil {
		return Board{}, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	cacheKey := "achievement:" + strconv.Itoa(achievementID)
	var entries []Entry
	hit, generation, cacheable := s.cacheGet(ctx, cacheKey, &entries)
	if !hit {
		var rows []candidateRow
		if err := s.candidateQuery(ctx).
			Where("sa.achievement_id = ?", achievementID).
			Scan(&rows).Error; err != nil {
			s.logger.Error("leaderboard query failed",
				zap.Int("achievement_id", achievementID),
				zap.Error(err))
			return Board{}, fmt.Errorf("leaderboard: query achievement %d: %w", achievementID, err)
		}
		candidates := make([]Candidate, len(rows))
		for index, row := range rows {
			candidates[index] = row.candidate()
		}
		entries = Rank(candidates)
		if cacheable {
			s.cacheSet(ctx, generation, cacheKey, entries)
		}
	}
	s.metrics.ObserveLeaderboardQuery(viewAchievement, hit, time.Since(started))

	board := Board{Achievement: achievement, Total: len(entries), Entries: entries}
	if len(board.Entries) > limit {
		board.Entries = board.Entries[:limit]
	}
	if board.Entries == nil {
		board.Entries = []Entry{}
	}
	return board, nil
}

// Medals tallies podium finishes across every catalog achievement with
// ranked saves.
func (s *Service) Medals(ctx context.Context) ([]MedalCount, error) {
	started := time.Now()
	const cacheKey = "medals"
	var table []MedalCount
	hit, generation, cacheable := s.cacheGet(ctx, cacheKey, &table)
	if !hit {
		var rows []candidateRow
		if err := s.candidateQuery(ctx).Scan(&rows).Error; err != nil {
			s.logger.Error("medal query failed", zap.Error(err))
			return nil, fmt.Errorf("leaderboard: query medals: %w", err)
		}
		grouped := make(map[int][]Candidate)
		for _, row := range rows {
			if _, err := s.catalog.Lookup(row.AchievementID); err != nil {
				continue
			}
			grouped[row.AchievementID] = append(grouped[row.AchievementID], row.candidate())
		}
		boards := make(map[int][]Entry, len(grouped))
		for achievementID, candidates := range grouped {
			boards[achievementID] = Rank(candidates)
		}
		table = TallyMedals(boards, s.medalPageSize)
		if cacheable {
			s.cacheSet(ctx, generation, cacheKey, table)
		}
	}
	s.metrics.ObserveLeaderboardQuery(viewMedals, hit, time.Since(started))
	if table == nil {
		table = []MedalCount{}
	}
	return table, nil
}

// Invalidate drops every cached view.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// cacheGet reports a hit, the generation observed and whether a computed
// view may be written back.
func (s *Service) cacheGet(ctx context.Context, key string, dest any) (bool, int64, bool) {
	hit, generation, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("leaderboard cache read failed", zap.String("key", key), zap.Error(err))
		return false, 0, false
	}
	return hit, generation, true
}

func (s *Service) cacheSet(ctx context.Context, generation int64, key string, value any) {
	if err := s.cache.Set(ctx, generation, key, value); err != nil {
		s.logger.Warn("leaderboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}
