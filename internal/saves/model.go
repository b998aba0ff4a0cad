package saves

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	maxIdentifierLength = 190
	maxFilenameLength   = 255
	maxNotesLength      = 4096

	// ContentEncodingIdentity marks uncompressed uploads.
	ContentEncodingIdentity = "identity"
	// ContentEncodingGzip marks gzip-compressed uploads.
	ContentEncodingGzip = "gzip"
)

// Save is one committed upload. Every column except WeightedScore is written
// once at commit time; WeightedScore is rewritten by rebalance runs.
type Save struct {
	ID              string                   `gorm:"column:id;primaryKey;size:64;not null"`
	UserID          string                   `gorm:"column:user_id;size:190;not null;index:idx_saves_user_created,priority:1"`
	Filename        string                   `gorm:"column:filename;size:255;not null"`
	Notes           string                   `gorm:"column:notes;type:text;not null;default:''"`
	ContentHash     string                   `gorm:"column:content_hash;size:64;not null;uniqueIndex:idx_saves_content_hash"`
	ContentEncoding string                   `gorm:"column:content_encoding;size:16;not null;default:'identity'"`
	SizeBytes       int64                    `gorm:"column:size_bytes;not null"`
	PlaythroughID   string                   `gorm:"column:playthrough_id;size:190;not null;index:idx_saves_playthrough"`
	GameDate        string                   `gorm:"column:game_date;size:32;not null"`
	RawDays         int64                    `gorm:"column:raw_days;not null"`
	PatchMajor      int                      `gorm:"column:patch_major;not null"`
	PatchMinor      int                      `gorm:"column:patch_minor;not null"`
	PatchPatch      int                      `gorm:"column:patch_patch;not null"`
	PatchRevision   int                      `gorm:"column:patch_revision;not null"`
	Tag             string                   `gorm:"column:tag;size:16;not null;default:''"`
	Difficulty      string                   `gorm:"column:difficulty;size:32;not null;default:''"`
	GameName        string                   `gorm:"column:game_name;size:64;not null;default:''"`
	WeightedScore   *int64                   `gorm:"column:weighted_score"`
	AchievementIDs  datatypes.JSONSlice[int] `gorm:"column:achievement_ids"`
	CreatedOn       time.Time                `gorm:"column:created_on;not null;index:idx_saves_user_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Save) TableName() string {
	return "saves"
}

// PatchShorthand renders the major.minor version of the save.
func (s Save) PatchShorthand() string {
	return fmt.Sprintf("%d.%d", s.PatchMajor, s.PatchMinor)
}

// SaveAchievement indexes which achievements a save satisfies so leaderboard
// queries can select by achievement without scanning JSON.
type SaveAchievement struct {
	SaveID        string `gorm:"column:save_id;primaryKey;size:64;not null"`
	AchievementID int    `gorm:"column:achievement_id;primaryKey;not null;index:idx_save_achievements_achievement"`
}

// TableName provides the explicit table binding for GORM.
func (SaveAchievement) TableName() string {
	return "save_achievements"
}

// UploadRequest is the caller-supplied input of an upload.
type UploadRequest struct {
	UserID          string
	Filename        string
	Notes           string
	ContentEncoding string
	Data            []byte
}

// Actor identifies who is acting on an existing save.
type Actor struct {
	UserID string
	Admin  bool
}

// CanModify reports whether the actor owns the save or holds admin rights.
func (a Actor) CanModify(save Save) bool {
	return a.Admin || (a.UserID != "" && a.UserID == save.UserID)
}

func normalizeContentEncoding(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ContentEncodingIdentity:
		return ContentEncodingIdentity, true
	case ContentEncodingGzip:
		return ContentEncodingGzip, true
	default:
		return "", false
	}
}

func uniqueAchievementIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
