package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BoardEvent is one confirmed event of a board, keyed by its serial. Rows are
// never folded; FirstSerial only differs from Serial for imported or
// bootstrapped history.
type BoardEvent struct {
	BoardUUID   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"board_uuid"`
	Serial      int64          `gorm:"primaryKey;autoIncrement:false" json:"serial"`
	FirstSerial int64          `gorm:"not null" json:"first_serial"`
	Action      string         `gorm:"not null" json:"action"`
	UserID      string         `json:"user_id"`
	UserName    string         `json:"user_name"`
	AckID       string         `gorm:"index" json:"ack_id,omitempty"`
	Payload     datatypes.JSON `json:"payload"`
	CreatedAt   time.Time      `json:"created_at"`
}
