package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Board represents the database model. Snapshot holds the board content at
// Serial so a join never has to replay the whole event log.
type Board struct {
	UUID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"uuid"`
	Title      string         `gorm:"not null" json:"title"`
	UserID     string         `gorm:"not null;index" json:"user_id"`
	Serial     int64          `gorm:"not null;default:0" json:"serial"`
	Snapshot   datatypes.JSON `json:"snapshot,omitempty"`
	ArchiveURL string         `json:"archive_url,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
