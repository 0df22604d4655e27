package points

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/pointbank-backend/pkg/db"
	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
	"github.com/angelmondragon/pointbank-backend/pkg/outbox"
	"github.com/angelmondragon/pointbank-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pointbank-backend/pkg/pagination"
)

const (
	defaultConsumeRetries = 3
	defaultExpiryMonths   = 12
	expiredSweepBatch     = 100
)

// Service is the point ledger: every balance change flows through here.
type Service interface {
	GrantPoints(ctx context.Context, input GrantPointsInput) (*models.PointTranche, error)
	ConsumePoints(ctx context.Context, input ConsumePointsInput) (*models.PointUsageRecord, error)
	GetPointBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	CleanupExpiredPoints(ctx context.Context) (*CleanupResult, error)
	ListUsageHistory(ctx context.Context, params ListUsageParams) (*UsageHistoryResult, error)
}

// GrantPointsInput captures a new tranche. PaymentRef, when set, makes the
// grant replay-safe: a second call with the same ref returns the first tranche.
type GrantPointsInput struct {
	UserID      uuid.UUID
	Amount      int
	Kind        enums.PointKind
	Source      enums.PointSource
	Description *string
	PaymentRef  *string
}

// ConsumePointsInput captures one consumption request. RequestID, when set, is
// an idempotency key: replays return the stored usage record without debiting.
type ConsumePointsInput struct {
	UserID           uuid.UUID
	Amount           int
	UsageType        enums.PointUsageType
	Description      *string
	RelatedChatID    *uuid.UUID
	RelatedMessageID *uuid.UUID
	RequestID        *string
}

// BalanceDetail is one live tranche in consumption order.
type BalanceDetail struct {
	TrancheID        uuid.UUID         `json:"tranche_id"`
	Kind             enums.PointKind   `json:"kind"`
	Source           enums.PointSource `json:"source"`
	RemainingBalance int               `json:"remaining_balance"`
	AcquiredAt       time.Time         `json:"acquired_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
}

// Balance is the authoritative read computed from tranches, not the summary.
type Balance struct {
	TotalFreePoints int             `json:"total_free_points"`
	TotalPaidPoints int             `json:"total_paid_points"`
	TotalPoints     int             `json:"total_points"`
	Details         []BalanceDetail `json:"details"`
}

// CleanupResult reports one expiration sweep.
type CleanupResult struct {
	CleanedCount       int `json:"cleaned_count"`
	TotalPointsCleaned int `json:"total_points_cleaned"`
}

// ListUsageParams configures the usage history page.
type ListUsageParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor string
}

// UsageHistoryResult wraps usage records and the cursor for the next page.
type UsageHistoryResult struct {
	Items  []models.PointUsageRecord `json:"items"`
	Cursor string                    `json:"cursor"`
}

// Params wires the service dependencies.
type Params struct {
	Repo              Repository
	Tx                dbpkg.TxRunner
	Outbox            *outbox.Service
	EventingEnabled   bool
	ConsumeMaxRetries int
	ExpiryMonths      int
	Logger            *logger.Logger
	Now               func() time.Time
}

type service struct {
	repo         Repository
	tx           dbpkg.TxRunner
	outbox       *outbox.Service
	eventing     bool
	maxRetries   int
	expiryMonths int
	logg         *logger.Logger
	now          func() time.Time
}

// NewService validates and wires the point ledger service.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "points repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.EventingEnabled && params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required when eventing is enabled")
	}

	maxRetries := params.ConsumeMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultConsumeRetries
	}
	expiryMonths := params.ExpiryMonths
	if expiryMonths <= 0 {
		expiryMonths = defaultExpiryMonths
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &service{
		repo:         params.Repo,
		tx:           params.Tx,
		outbox:       params.Outbox,
		eventing:     params.EventingEnabled,
		maxRetries:   maxRetries,
		expiryMonths: expiryMonths,
		logg:         params.Logger,
		now:          now,
	}, nil
}

func (s *service) GrantPoints(ctx context.Context, input GrantPointsInput) (*models.PointTranche, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid point kind")
	}
	if !input.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid point source")
	}

	if input.PaymentRef != nil {
		existing, err := s.repo.FindTrancheByPaymentRef(ctx, *input.PaymentRef)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find tranche by payment ref")
		}
		if existing != nil {
			if err := matchGrantReplay(existing, input); err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	acquiredAt := s.now()
	tranche := &models.PointTranche{
		ID:               uuid.New(),
		UserID:           input.UserID,
		Kind:             input.Kind,
		GrantedAmount:    input.Amount,
		RemainingBalance: input.Amount,
		Source:           input.Source,
		Description:      input.Description,
		PaymentRef:       input.PaymentRef,
		AcquiredAt:       acquiredAt,
		ExpiresAt:        acquiredAt.AddDate(0, s.expiryMonths, 0),
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.CreateTranche(ctx, tranche); err != nil {
			return err
		}

		freeDelta, paidDelta := 0, 0
		if input.Kind == enums.PointKindFree {
			freeDelta = input.Amount
		} else {
			paidDelta = input.Amount
		}
		if err := txRepo.UpsertSummaryDelta(ctx, input.UserID, freeDelta, paidDelta); err != nil {
			return err
		}

		if input.Source == enums.PointSourceAttendance {
			if err := txRepo.SetLastAttended(ctx, input.UserID, acquiredAt); err != nil {
				return err
			}
		}

		return s.emitGranted(ctx, tx, tranche)
	})
	if err != nil {
		if input.PaymentRef != nil && dbpkg.IsUniqueViolation(err, "ux_point_tranches_payment_ref") {
			existing, findErr := s.repo.FindTrancheByPaymentRef(ctx, *input.PaymentRef)
			if findErr == nil && existing != nil {
				if matchErr := matchGrantReplay(existing, input); matchErr != nil {
					return nil, matchErr
				}
				return existing, nil
			}
		}
		return nil, wrapStoreError(err, "grant points")
	}

	return tranche, nil
}

func (s *service) ConsumePoints(ctx context.Context, input ConsumePointsInput) (*models.PointUsageRecord, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.UsageType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid usage type")
	}

	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if input.RequestID != nil {
			existing, err := s.repo.FindUsageByRequestID(ctx, input.UserID, *input.RequestID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find usage by request id")
			}
			if existing != nil {
				if existing.PointsUsed != input.Amount || existing.UsageType != input.UsageType {
					return nil, pkgerrors.New(pkgerrors.CodeConflict, "request id already used by a different request")
				}
				return existing, nil
			}
		}

		record, err := s.consumeOnce(ctx, input)
		if err == nil {
			return record, nil
		}
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// consumeOnce runs one guarded consumption transaction. A CodeConflict return
// means a concurrent writer invalidated the snapshot and the whole transaction
// was rolled back.
func (s *service) consumeOnce(ctx context.Context, input ConsumePointsInput) (*models.PointUsageRecord, error) {
	now := s.now()
	var record *models.PointUsageRecord

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		tranches, err := txRepo.ListConsumable(ctx, input.UserID, now)
		if err != nil {
			return err
		}

		available := 0
		for _, tranche := range tranches {
			available += tranche.RemainingBalance
		}
		if available < input.Amount {
			return pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points").
				WithDetails(map[string]int{
					"required":  input.Amount,
					"available": available,
				})
		}

		need := input.Amount
		freeUsed, paidUsed := 0, 0
		debits := make([]models.TrancheDebit, 0, len(tranches))
		for _, tranche := range tranches {
			if need == 0 {
				break
			}
			take := tranche.RemainingBalance
			if take > need {
				take = need
			}

			ok, err := txRepo.DebitTranche(ctx, tranche.ID, take)
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "tranche balance changed during consumption")
			}

			debits = append(debits, models.TrancheDebit{TrancheID: tranche.ID, AmountDebited: take})
			if tranche.Kind == enums.PointKindFree {
				freeUsed += take
			} else {
				paidUsed += take
			}
			need -= take
		}

		ok, err := txRepo.DebitSummary(ctx, input.UserID, freeUsed, paidUsed)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "summary balance changed during consumption")
		}

		detail, err := json.Marshal(debits)
		if err != nil {
			return err
		}
		record = &models.PointUsageRecord{
			ID:                uuid.New(),
			UserID:            input.UserID,
			PointsUsed:        input.Amount,
			UsageType:         input.UsageType,
			Description:       input.Description,
			RelatedChatID:     input.RelatedChatID,
			RelatedMessageID:  input.RelatedMessageID,
			RequestID:         input.RequestID,
			TransactionDetail: detail,
			CreatedAt:         now,
		}
		if err := txRepo.CreateUsageRecord(ctx, record); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_point_usage_history_user_id_request_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "duplicate request id")
			}
			return err
		}

		return s.emitConsumed(ctx, tx, record, debits)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, wrapStoreError(err, "consume points")
	}
	return record, nil
}

func (s *service) GetPointBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	tranches, err := s.repo.ListConsumable(ctx, userID, s.now())
	if err != nil {
		return nil, wrapStoreError(err, "list consumable tranches")
	}

	balance := &Balance{Details: make([]BalanceDetail, 0, len(tranches))}
	for _, tranche := range tranches {
		if tranche.Kind == enums.PointKindFree {
			balance.TotalFreePoints += tranche.RemainingBalance
		} else {
			balance.TotalPaidPoints += tranche.RemainingBalance
		}
		balance.Details = append(balance.Details, BalanceDetail{
			TrancheID:        tranche.ID,
			Kind:             tranche.Kind,
			Source:           tranche.Source,
			RemainingBalance: tranche.RemainingBalance,
			AcquiredAt:       tranche.AcquiredAt,
			ExpiresAt:        tranche.ExpiresAt,
		})
	}
	balance.TotalPoints = balance.TotalFreePoints + balance.TotalPaidPoints
	return balance, nil
}

// CleanupExpiredPoints zeroes expired tranches one transaction at a time so a
// crash mid-sweep keeps every completed tranche consistent. Re-running the
// sweep is safe: zeroed tranches no longer match the expired scan.
func (s *service) CleanupExpiredPoints(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}
	var sweepErrs []error

	for {
		now := s.now()
		expired, err := s.repo.ListExpired(ctx, now, expiredSweepBatch)
		if err != nil {
			sweepErrs = append(sweepErrs, wrapStoreError(err, "list expired tranches"))
			return result, multierr.Combine(sweepErrs...)
		}
		if len(expired) == 0 {
			return result, multierr.Combine(sweepErrs...)
		}

		progressed := false
		for _, tranche := range expired {
			cleaned, err := s.cleanupTranche(ctx, tranche, now)
			if err != nil {
				if s.logg != nil {
					logCtx := s.logg.WithFields(ctx, map[string]any{"tranche_id": tranche.ID.String()})
					s.logg.Error(logCtx, "expired tranche cleanup failed", err)
				}
				sweepErrs = append(sweepErrs, err)
				continue
			}
			if cleaned {
				progressed = true
				result.CleanedCount++
				result.TotalPointsCleaned += tranche.RemainingBalance
			}
		}

		if !progressed || len(expired) < expiredSweepBatch {
			return result, multierr.Combine(sweepErrs...)
		}
	}
}

func (s *service) cleanupTranche(ctx context.Context, tranche models.PointTranche, now time.Time) (bool, error) {
	cleaned := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		ok, err := txRepo.ZeroTranche(ctx, tranche.ID, tranche.RemainingBalance)
		if err != nil {
			return err
		}
		if !ok {
			// Balance moved since the scan; the next pass picks it up.
			return nil
		}

		freeDelta, paidDelta := 0, 0
		if tranche.Kind == enums.PointKindFree {
			freeDelta = tranche.RemainingBalance
		} else {
			paidDelta = tranche.RemainingBalance
		}
		ok, err = txRepo.DebitSummary(ctx, tranche.UserID, freeDelta, paidDelta)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "summary balance changed during expiration")
		}

		cleaned = true
		return s.emitExpired(ctx, tx, tranche, now)
	})
	if err != nil {
		return false, err
	}
	return cleaned, nil
}

func (s *service) ListUsageHistory(ctx context.Context, params ListUsageParams) (*UsageHistoryResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	query := ListUsageQuery{
		UserID: params.UserID,
		Limit:  pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListUsage(ctx, query)
	if err != nil {
		return nil, wrapStoreError(err, "list usage history")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &UsageHistoryResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) emitGranted(ctx context.Context, tx *gorm.DB, tranche *models.PointTranche) error {
	if !s.eventing || s.outbox == nil {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.OutboxEventTypePointsGranted,
		AggregateType: enums.OutboxAggregateTypePointTranche,
		AggregateID:   tranche.ID,
		Version:       1,
		Data: payloads.PointsGrantedEvent{
			TrancheID:  tranche.ID,
			UserID:     tranche.UserID,
			Kind:       tranche.Kind,
			Source:     tranche.Source,
			Amount:     tranche.GrantedAmount,
			PaymentRef: tranche.PaymentRef,
			ExpiresAt:  tranche.ExpiresAt,
		},
	})
}

func (s *service) emitConsumed(ctx context.Context, tx *gorm.DB, record *models.PointUsageRecord, debits []models.TrancheDebit) error {
	if !s.eventing || s.outbox == nil {
		return nil
	}
	eventDebits := make([]payloads.TrancheDebitEvent, 0, len(debits))
	for _, debit := range debits {
		eventDebits = append(eventDebits, payloads.TrancheDebitEvent{
			TrancheID:     debit.TrancheID,
			AmountDebited: debit.AmountDebited,
		})
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.OutboxEventTypePointsConsumed,
		AggregateType: enums.OutboxAggregateTypePointUsage,
		AggregateID:   record.ID,
		Version:       1,
		Data: payloads.PointsConsumedEvent{
			UsageRecordID: record.ID,
			UserID:        record.UserID,
			PointsUsed:    record.PointsUsed,
			UsageType:     record.UsageType,
			Debits:        eventDebits,
		},
	})
}

func (s *service) emitExpired(ctx context.Context, tx *gorm.DB, tranche models.PointTranche, now time.Time) error {
	if !s.eventing || s.outbox == nil {
		return nil
	}
	return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.OutboxEventTypePointsExpired,
		AggregateType: enums.OutboxAggregateTypePointTranche,
		AggregateID:   tranche.ID,
		Version:       1,
		Data: payloads.PointsExpiredEvent{
			TrancheID:     tranche.ID,
			UserID:        tranche.UserID,
			Kind:          tranche.Kind,
			PointsRemoved: tranche.RemainingBalance,
			ExpiredAt:     now,
		},
	})
}

// matchGrantReplay guards payment-ref replays: the stored tranche must
// describe the same grant, or the ref is being reused for a different payment.
func matchGrantReplay(existing *models.PointTranche, input GrantPointsInput) error {
	if existing.UserID != input.UserID || existing.GrantedAmount != input.Amount || existing.Kind != input.Kind {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment ref already used by a different grant")
	}
	return nil
}

func wrapStoreError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
