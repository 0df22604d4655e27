package models

import (
	"time"

	"github.com/google/uuid"
)

// UserPointsSummary is a denormalized per-user balance cache. The tranche set
// is authoritative; every grant/consume/expire keeps this row in sync inside
// the same transaction.
type UserPointsSummary struct {
	UserID         uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey"`
	FreePoints     int        `gorm:"column:free_points;not null;default:0"`
	PaidPoints     int        `gorm:"column:paid_points;not null;default:0"`
	LastAttendedAt *time.Time `gorm:"column:last_attended_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserPointsSummary) TableName() string {
	return "user_points_summary"
}
