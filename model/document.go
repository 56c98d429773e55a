package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document stores one JSON document snapshot per path.
type Document struct {
	Path      string         `gorm:"primaryKey;size:128" json:"path"`
	Payload   datatypes.JSON `json:"payload"`
	Revision  int64          `gorm:"not null;default:0" json:"revision"`
	UpdatedAt time.Time      `json:"updated_at"`
}
