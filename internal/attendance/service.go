package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
)

const defaultCheckInAmount = 10

// PointsGranter is the slice of the ledger the check-in flow needs.
type PointsGranter interface {
	GrantPoints(ctx context.Context, input points.GrantPointsInput) (*models.PointTranche, error)
}

// SummaryReader looks up the per-user summary that tracks the last check-in.
type SummaryReader interface {
	GetSummary(ctx context.Context, userID uuid.UUID) (*models.UserPointsSummary, error)
}

// Service grants the daily attendance reward at most once per UTC day.
type Service interface {
	CheckIn(ctx context.Context, userID uuid.UUID) (*CheckInResult, error)
}

// CheckInResult reports a successful daily check-in.
type CheckInResult struct {
	Tranche         *models.PointTranche `json:"tranche"`
	AmountGranted   int                  `json:"amount_granted"`
	NextAvailableAt time.Time            `json:"next_available_at"`
}

// Params wires the attendance service dependencies.
type Params struct {
	Points  PointsGranter
	Summary SummaryReader
	Amount  int
	Now     func() time.Time
}

type service struct {
	points  PointsGranter
	summary SummaryReader
	amount  int
	now     func() time.Time
}

// NewService validates and wires the attendance service.
func NewService(params Params) (Service, error) {
	if params.Points == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "points service required")
	}
	if params.Summary == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "summary reader required")
	}
	amount := params.Amount
	if amount <= 0 {
		amount = defaultCheckInAmount
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		points:  params.Points,
		summary: params.Summary,
		amount:  amount,
		now:     now,
	}, nil
}

func (s *service) CheckIn(ctx context.Context, userID uuid.UUID) (*CheckInResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	now := s.now().UTC()
	summary, err := s.summary.GetSummary(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load points summary")
	}
	if summary != nil && summary.LastAttendedAt != nil && sameUTCDay(*summary.LastAttendedAt, now) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "attendance already granted today")
	}

	tranche, err := s.points.GrantPoints(ctx, points.GrantPointsInput{
		UserID: userID,
		Amount: s.amount,
		Kind:   enums.PointKindFree,
		Source: enums.PointSourceAttendance,
	})
	if err != nil {
		return nil, err
	}

	return &CheckInResult{
		Tranche:         tranche,
		AmountGranted:   s.amount,
		NextAvailableAt: nextUTCDay(now),
	}, nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func nextUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
