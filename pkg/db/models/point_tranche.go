package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/pkg/enums"
)

// PointTranche is one discrete grant of points with its own expiration and
// remaining balance. Tranches are never deleted and never replenished; only
// the consumption engine and the expiration sweeper may lower RemainingBalance.
type PointTranche struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Kind             enums.PointKind   `gorm:"column:kind;type:point_kind_enum;not null"`
	GrantedAmount    int               `gorm:"column:granted_amount;not null"`
	RemainingBalance int               `gorm:"column:remaining_balance;not null"`
	Source           enums.PointSource `gorm:"column:source;type:point_source_enum;not null"`
	Description      *string           `gorm:"column:description"`
	PaymentRef       *string           `gorm:"column:payment_ref;unique"`
	AcquiredAt       time.Time         `gorm:"column:acquired_at;not null"`
	ExpiresAt        time.Time         `gorm:"column:expires_at;not null"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (PointTranche) TableName() string {
	return "point_tranches"
}
