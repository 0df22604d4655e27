package points

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/pagination"
)

// Repository manages persistence for tranches, summaries, and usage history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTranche(ctx context.Context, tranche *models.PointTranche) error
	FindTrancheByPaymentRef(ctx context.Context, paymentRef string) (*models.PointTranche, error)
	ListConsumable(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointTranche, error)
	DebitTranche(ctx context.Context, trancheID uuid.UUID, amount int) (bool, error)
	ZeroTranche(ctx context.Context, trancheID uuid.UUID, expected int) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PointTranche, error)

	UpsertSummaryDelta(ctx context.Context, userID uuid.UUID, freeDelta, paidDelta int) error
	DebitSummary(ctx context.Context, userID uuid.UUID, freeDelta, paidDelta int) (bool, error)
	GetSummary(ctx context.Context, userID uuid.UUID) (*models.UserPointsSummary, error)
	SetLastAttended(ctx context.Context, userID uuid.UUID, at time.Time) error

	CreateUsageRecord(ctx context.Context, record *models.PointUsageRecord) error
	FindUsageByRequestID(ctx context.Context, userID uuid.UUID, requestID string) (*models.PointUsageRecord, error)
	ListUsage(ctx context.Context, query ListUsageQuery) ([]models.PointUsageRecord, *pagination.Cursor, error)
}

// ListUsageQuery filters the usage history scan.
type ListUsageQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a points repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTranche(ctx context.Context, tranche *models.PointTranche) error {
	return r.db.WithContext(ctx).Create(tranche).Error
}

func (r *repository) FindTrancheByPaymentRef(ctx context.Context, paymentRef string) (*models.PointTranche, error) {
	var tranche models.PointTranche
	err := r.db.WithContext(ctx).
		Where("payment_ref = ?", paymentRef).
		First(&tranche).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tranche, nil
}

// ListConsumable returns the user's live tranches in consumption order: free
// before paid, then oldest acquisition first, tranche id as the tiebreaker.
func (r *repository) ListConsumable(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.PointTranche, error) {
	var tranches []models.PointTranche
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND remaining_balance > 0 AND expires_at > ?", userID, now).
		Order("acquired_at ASC").
		Order("id ASC").
		Find(&tranches).Error
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tranches, func(i, j int) bool {
		return tranches[i].Kind.ConsumePriority() < tranches[j].Kind.ConsumePriority()
	})
	return tranches, nil
}

// DebitTranche atomically lowers a tranche balance. The WHERE guard makes the
// debit fail instead of going negative when a concurrent writer got there first.
func (r *repository) DebitTranche(ctx context.Context, trancheID uuid.UUID, amount int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PointTranche{}).
		Where("id = ? AND remaining_balance >= ?", trancheID, amount).
		Update("remaining_balance", gorm.Expr("remaining_balance - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ZeroTranche empties an expired tranche only if its balance still matches the
// value the sweep observed.
func (r *repository) ZeroTranche(ctx context.Context, trancheID uuid.UUID, expected int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PointTranche{}).
		Where("id = ? AND remaining_balance = ?", trancheID, expected).
		Update("remaining_balance", 0)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.PointTranche, error) {
	if limit <= 0 {
		limit = 100
	}
	var tranches []models.PointTranche
	err := r.db.WithContext(ctx).
		Where("remaining_balance > 0 AND expires_at <= ?", now).
		Order("expires_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&tranches).Error
	return tranches, err
}

func (r *repository) UpsertSummaryDelta(ctx context.Context, userID uuid.UUID, freeDelta, paidDelta int) error {
	summary := models.UserPointsSummary{
		UserID:     userID,
		FreePoints: freeDelta,
		PaidPoints: paidDelta,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"free_points": gorm.Expr("user_points_summary.free_points + ?", freeDelta),
				"paid_points": gorm.Expr("user_points_summary.paid_points + ?", paidDelta),
				"updated_at":  time.Now().UTC(),
			}),
		}).
		Create(&summary).Error
}

// DebitSummary lowers the cached balances with the same guarded-update shape
// used for tranches. A false return means the cache no longer covers the debit.
func (r *repository) DebitSummary(ctx context.Context, userID uuid.UUID, freeDelta, paidDelta int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UserPointsSummary{}).
		Where("user_id = ? AND free_points >= ? AND paid_points >= ?", userID, freeDelta, paidDelta).
		Updates(map[string]any{
			"free_points": gorm.Expr("free_points - ?", freeDelta),
			"paid_points": gorm.Expr("paid_points - ?", paidDelta),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) GetSummary(ctx context.Context, userID uuid.UUID) (*models.UserPointsSummary, error) {
	var summary models.UserPointsSummary
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

func (r *repository) SetLastAttended(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.UserPointsSummary{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"last_attended_at": at,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *repository) CreateUsageRecord(ctx context.Context, record *models.PointUsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindUsageByRequestID resolves an idempotency key within a single user's
// history. Request ids are caller-chosen, so they only dedupe per user and one
// user's key can never surface another user's record.
func (r *repository) FindUsageByRequestID(ctx context.Context, userID uuid.UUID, requestID string) (*models.PointUsageRecord, error) {
	var record models.PointUsageRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND request_id = ?", userID, requestID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListUsage(ctx context.Context, query ListUsageQuery) ([]models.PointUsageRecord, *pagination.Cursor, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = pagination.LimitWithBuffer(0)
	}

	q := r.db.WithContext(ctx).
		Where("user_id = ?", query.UserID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)

	if query.Cursor != nil {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			query.Cursor.CreatedAt, query.Cursor.CreatedAt, query.Cursor.ID,
		)
	}

	var rows []models.PointUsageRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) < limit {
		return rows, nil, nil
	}

	rows = rows[:limit-1]
	last := rows[len(rows)-1]
	next := &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	return rows, next, nil
}
