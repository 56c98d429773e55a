package model

import "time"

// Account roles.
const (
	RolePlayer   = "player"
	RoleDirector = "director"
)

// Account is a user who can sign in to the quest tracker.
type Account struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:64;not null" json:"-"`
	DisplayName  string     `gorm:"size:64" json:"display_name"`
	Color        string     `gorm:"size:7" json:"color"` // #rrggbb
	Role         string     `gorm:"size:16;default:player" json:"role"`
	Status       int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	LastLoginIP  string     `gorm:"size:45" json:"last_login_ip"`
}

// IsDirector reports whether the account has the director role.
func (a *Account) IsDirector() bool { return a.Role == RoleDirector }
