package model

import "time"

// ChangeLog records one committed document change.
type ChangeLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Path        string    `gorm:"index:idx_changelog_path;size:128;not null" json:"path"`
	Revision    int64     `gorm:"not null" json:"revision"`
	Description string    `gorm:"size:255" json:"description"`
	Undoable    bool      `json:"undoable"`
	Actor       string    `gorm:"size:64" json:"actor"`
	ChangedAt   time.Time `json:"changed_at"`
	CreatedAt   time.Time `gorm:"index:idx_changelog_created;autoCreateTime:milli" json:"created_at"`
}
