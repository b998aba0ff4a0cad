package users

import (
	"strings"
	"time"
)

// Identity maps a provider login onto the canonical user id that owns saves.
// The display name shown on leaderboards is read from here.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the public view of a user.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"user_display_name"`
	AvatarURL   string `json:"user_avatar_url,omitempty"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
