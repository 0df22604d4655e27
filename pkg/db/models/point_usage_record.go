package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/pkg/enums"
)

// TrancheDebit is one line of a usage record's transaction detail.
type TrancheDebit struct {
	TrancheID     uuid.UUID `json:"tranche_id"`
	AmountDebited int       `json:"amount_debited"`
}

// PointUsageRecord is the append-only audit row written once per successful
// consumption. TransactionDetail lists the debited tranches in consumption
// order; the amounts always sum to PointsUsed.
type PointUsageRecord struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	PointsUsed        int                  `gorm:"column:points_used;not null"`
	UsageType         enums.PointUsageType `gorm:"column:usage_type;type:point_usage_type_enum;not null"`
	Description       *string              `gorm:"column:description"`
	RelatedChatID     *uuid.UUID           `gorm:"column:related_chat_id;type:uuid"`
	RelatedMessageID  *uuid.UUID           `gorm:"column:related_message_id;type:uuid"`
	RequestID         *string              `gorm:"column:request_id;unique"`
	TransactionDetail json.RawMessage      `gorm:"column:transaction_detail;type:jsonb;not null"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (PointUsageRecord) TableName() string {
	return "point_usage_history"
}

// Debits decodes the stored transaction detail.
func (r PointUsageRecord) Debits() ([]TrancheDebit, error) {
	var debits []TrancheDebit
	if len(r.TransactionDetail) == 0 {
		return debits, nil
	}
	if err := json.Unmarshal(r.TransactionDetail, &debits); err != nil {
		return nil, err
	}
	return debits, nil
}
