package payloads

import (
	"time"

	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	"github.com/google/uuid"
)

// PointsGrantedEvent is emitted when a new tranche is created.
type PointsGrantedEvent struct {
	TrancheID  uuid.UUID         `json:"trancheId"`
	UserID     uuid.UUID         `json:"userId"`
	Kind       enums.PointKind   `json:"kind"`
	Source     enums.PointSource `json:"source"`
	Amount     int               `json:"amount"`
	PaymentRef *string           `json:"paymentRef,omitempty"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// TrancheDebitEvent mirrors one entry of a usage record's transaction detail.
type TrancheDebitEvent struct {
	TrancheID     uuid.UUID `json:"trancheId"`
	AmountDebited int       `json:"amountDebited"`
}

// PointsConsumedEvent is emitted when a usage record is written.
type PointsConsumedEvent struct {
	UsageRecordID uuid.UUID            `json:"usageRecordId"`
	UserID        uuid.UUID            `json:"userId"`
	PointsUsed    int                  `json:"pointsUsed"`
	UsageType     enums.PointUsageType `json:"usageType"`
	Debits        []TrancheDebitEvent  `json:"debits"`
}

// PointsExpiredEvent is emitted when the sweep zeroes an expired tranche.
type PointsExpiredEvent struct {
	TrancheID     uuid.UUID       `json:"trancheId"`
	UserID        uuid.UUID       `json:"userId"`
	Kind          enums.PointKind `json:"kind"`
	PointsRemoved int             `json:"pointsRemoved"`
	ExpiredAt     time.Time       `json:"expiredAt"`
}
