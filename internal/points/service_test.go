package points

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

type serviceFixture struct {
	db      *gorm.DB
	service Service
	now     *time.Time
}

func newServiceFixture(t *testing.T, eventing bool) *serviceFixture {
	t.Helper()

	db := setupPointsTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	fixture := &serviceFixture{db: db, now: &now}
	params := Params{
		Repo:            NewRepository(db),
		Tx:              gormTxRunner{db: db},
		EventingEnabled: eventing,
		ExpiryMonths:    12,
		Now:             func() time.Time { return *fixture.now },
	}
	if eventing {
		params.Outbox = outbox.NewService(outbox.NewRepository(db), nil)
	}

	svc, err := NewService(params)
	require.NoError(t, err)
	fixture.service = svc
	return fixture
}

func (f *serviceFixture) advance(d time.Duration) {
	next := f.now.Add(d)
	*f.now = next
}

func TestGrantPointsCreatesTrancheAndSummary(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	tranche, err := fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID: userID,
		Amount: 100,
		Kind:   enums.PointKindFree,
		Source: enums.PointSourceRegistration,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, tranche.GrantedAmount)
	assert.Equal(t, 100, tranche.RemainingBalance)
	assert.Equal(t, fixture.now.AddDate(0, 12, 0), tranche.ExpiresAt)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	assert.Equal(t, 100, summary.FreePoints)
	assert.Equal(t, 0, summary.PaidPoints)
	assert.Nil(t, summary.LastAttendedAt)
}

func TestGrantPointsAttendanceSetsLastAttended(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID: userID,
		Amount: 10,
		Kind:   enums.PointKindFree,
		Source: enums.PointSourceAttendance,
	})
	require.NoError(t, err)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	require.NotNil(t, summary.LastAttendedAt)
	assert.WithinDuration(t, *fixture.now, *summary.LastAttendedAt, time.Second)
}

func TestGrantPointsValidation(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: uuid.New(), Amount: 0, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: uuid.New(), Amount: -5, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.Error(t, err)

	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: uuid.New(), Amount: 5, Kind: "bonus", Source: enums.PointSourceAdminGrant})
	require.Error(t, err)
}

func TestGrantPointsPaymentRefIsReplaySafe(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()
	ref := "sq-payment-42"

	first, err := fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID:     userID,
		Amount:     500,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &ref,
	})
	require.NoError(t, err)

	second, err := fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID:     userID,
		Amount:     500,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	assert.Equal(t, 500, summary.PaidPoints, "replayed grant must not double count")

	var count int64
	require.NoError(t, fixture.db.Model(&models.PointTranche{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGrantPointsPaymentRefMismatchConflicts(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()
	ref := "sq-payment-77"

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID:     userID,
		Amount:     500,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &ref,
	})
	require.NoError(t, err)

	// Same ref for another user must not hand over the stored tranche.
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID:     uuid.New(),
		Amount:     500,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &ref,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// Same user, different amount is not a replay either.
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{
		UserID:     userID,
		Amount:     300,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &ref,
	})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	var count int64
	require.NoError(t, fixture.db.Model(&models.PointTranche{}).Where("payment_ref = ?", ref).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConsumePointsFreeBeforePaidEvenWhenPaidOlder(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 50, Kind: enums.PointKindPaid, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	fixture.advance(time.Hour)
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 100, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	fixture.advance(time.Hour)
	record, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    120,
		UsageType: enums.PointUsageTypeChat,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, record.PointsUsed)

	debits, err := record.Debits()
	require.NoError(t, err)
	require.Len(t, debits, 2)
	assert.Equal(t, 100, debits[0].AmountDebited, "free tranche exhausted first")
	assert.Equal(t, 20, debits[1].AmountDebited)

	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.TotalFreePoints)
	assert.Equal(t, 30, balance.TotalPaidPoints)
	assert.Equal(t, 30, balance.TotalPoints)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	assert.Equal(t, 0, summary.FreePoints)
	assert.Equal(t, 30, summary.PaidPoints)
}

func TestConsumePointsInsufficientIsNoOp(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 30, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    31,
		UsageType: enums.PointUsageTypeBoost,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientPoints, typed.Code())
	details, ok := typed.Details().(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 31, details["required"])
	assert.Equal(t, 30, details["available"])

	// Nothing moved.
	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 30, balance.TotalPoints)

	var count int64
	require.NoError(t, fixture.db.Model(&models.PointUsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestConsumePointsSkipsExpiredTranches(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 40, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	// Move past the first tranche's expiration, then grant a fresh one.
	fixture.advance(13 * 30 * 24 * time.Hour)
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 25, Kind: enums.PointKindPaid, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 25, balance.TotalPoints, "expired points are unusable")

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    30,
		UsageType: enums.PointUsageTypeChat,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientPoints, typed.Code())
}

func TestConsumePointsIdempotentReplay(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()
	requestID := "req-abc"

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	first, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeImageGeneration,
		RequestID: &requestID,
	})
	require.NoError(t, err)

	replay, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeImageGeneration,
		RequestID: &requestID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 30, balance.TotalPoints, "replay must not debit twice")
}

func TestConsumePointsRequestIDScopedPerUser(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()
	requestID := "req-shared"

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: alice, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: bob, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	aliceRecord, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    alice,
		Amount:    20,
		UsageType: enums.PointUsageTypeChat,
		RequestID: &requestID,
	})
	require.NoError(t, err)

	// The same request id from another user must debit that user, not replay
	// the first user's record.
	bobRecord, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    bob,
		Amount:    20,
		UsageType: enums.PointUsageTypeChat,
		RequestID: &requestID,
	})
	require.NoError(t, err)
	assert.NotEqual(t, aliceRecord.ID, bobRecord.ID)
	assert.Equal(t, bob, bobRecord.UserID)

	bobBalance, err := fixture.service.GetPointBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 30, bobBalance.TotalPoints)

	aliceBalance, err := fixture.service.GetPointBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 30, aliceBalance.TotalPoints)
}

func TestConsumePointsReplayPayloadMismatchConflicts(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()
	requestID := "req-mismatch"

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeChat,
		RequestID: &requestID,
	})
	require.NoError(t, err)

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    25,
		UsageType: enums.PointUsageTypeChat,
		RequestID: &requestID,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeBoost,
		RequestID: &requestID,
	})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 30, balance.TotalPoints, "rejected replays must not debit")
}

// contestedDebitRepo fails a fixed number of tranche debits before delegating,
// mimicking a concurrent writer draining the tranche between the snapshot read
// and the guarded update.
type contestedDebitRepo struct {
	Repository
	failures *int
}

func (r *contestedDebitRepo) WithTx(tx *gorm.DB) Repository {
	return &contestedDebitRepo{Repository: r.Repository.WithTx(tx), failures: r.failures}
}

func (r *contestedDebitRepo) DebitTranche(ctx context.Context, trancheID uuid.UUID, amount int) (bool, error) {
	if *r.failures > 0 {
		*r.failures--
		return false, nil
	}
	return r.Repository.DebitTranche(ctx, trancheID, amount)
}

func newContestedFixture(t *testing.T, failures int) (*serviceFixture, *int) {
	t.Helper()

	db := setupPointsTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	remaining := failures

	fixture := &serviceFixture{db: db, now: &now}
	svc, err := NewService(Params{
		Repo:              &contestedDebitRepo{Repository: NewRepository(db), failures: &remaining},
		Tx:                gormTxRunner{db: db},
		ConsumeMaxRetries: 3,
		ExpiryMonths:      12,
		Now:               func() time.Time { return *fixture.now },
	})
	require.NoError(t, err)
	fixture.service = svc
	return fixture, &remaining
}

func TestConsumePointsRetriesAfterContestedDebit(t *testing.T) {
	fixture, remaining := newContestedFixture(t, 1)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	record, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeChat,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, record.PointsUsed)
	assert.Zero(t, *remaining, "first attempt must hit the contested debit")

	// The failed attempt rolled back whole; only the retry's debit landed.
	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 30, balance.TotalPoints)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	assert.Equal(t, 30, summary.FreePoints)

	var count int64
	require.NoError(t, fixture.db.Model(&models.PointUsageRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestConsumePointsConflictWhenRetriesExhausted(t *testing.T) {
	fixture, _ := newContestedFixture(t, 10)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 50, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	_, err = fixture.service.ConsumePoints(ctx, ConsumePointsInput{
		UserID:    userID,
		Amount:    20,
		UsageType: enums.PointUsageTypeChat,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// Every attempt rolled back; nothing moved and nothing was recorded.
	balance, err := fixture.service.GetPointBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance.TotalPoints)

	var count int64
	require.NoError(t, fixture.db.Model(&models.PointUsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetPointBalanceUnknownUser(t *testing.T) {
	fixture := newServiceFixture(t, false)

	balance, err := fixture.service.GetPointBalance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, balance.TotalPoints)
	assert.Zero(t, balance.TotalFreePoints)
	assert.Zero(t, balance.TotalPaidPoints)
	assert.Empty(t, balance.Details)
}

func TestCleanupExpiredPoints(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 60, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 40, Kind: enums.PointKindPaid, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	fixture.advance(13 * 30 * 24 * time.Hour)
	_, err = fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 15, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	result, err := fixture.service.CleanupExpiredPoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CleanedCount)
	assert.Equal(t, 100, result.TotalPointsCleaned)

	var summary models.UserPointsSummary
	require.NoError(t, fixture.db.First(&summary, "user_id = ?", userID).Error)
	assert.Equal(t, 15, summary.FreePoints)
	assert.Equal(t, 0, summary.PaidPoints)

	// Second sweep finds nothing.
	again, err := fixture.service.CleanupExpiredPoints(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.CleanedCount)
	assert.Zero(t, again.TotalPointsCleaned)
}

func TestListUsageHistoryPaginates(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 100, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		fixture.advance(time.Minute)
		_, err := fixture.service.ConsumePoints(ctx, ConsumePointsInput{
			UserID:    userID,
			Amount:    i + 1,
			UsageType: enums.PointUsageTypeChat,
		})
		require.NoError(t, err)
	}

	page, err := fixture.service.ListUsageHistory(ctx, ListUsageParams{UserID: userID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.NotEmpty(t, page.Cursor)
	assert.Equal(t, 4, page.Items[0].PointsUsed, "newest first")

	rest, err := fixture.service.ListUsageHistory(ctx, ListUsageParams{UserID: userID, Limit: 3, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.Cursor)
	assert.Equal(t, 1, rest.Items[0].PointsUsed)
}

func TestGrantPointsEmitsOutboxEventWhenEnabled(t *testing.T) {
	fixture := newServiceFixture(t, true)
	ctx := context.Background()
	userID := uuid.New()

	tranche, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: userID, Amount: 10, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, fixture.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.OutboxEventTypePointsGranted, events[0].EventType)
	assert.Equal(t, tranche.ID, events[0].AggregateID)
}

func TestGrantPointsSkipsOutboxWhenDisabled(t *testing.T) {
	fixture := newServiceFixture(t, false)
	ctx := context.Background()

	_, err := fixture.service.GrantPoints(ctx, GrantPointsInput{UserID: uuid.New(), Amount: 10, Kind: enums.PointKindFree, Source: enums.PointSourceAdminGrant})
	require.NoError(t, err)

	var count int64
	require.NoError(t, fixture.db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}
