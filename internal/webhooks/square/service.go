package squarewebhook

import (
	"context"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/db/models"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
)

const defaultCentsPerPoint = 1

type paymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

type pointsGranter interface {
	GrantPoints(ctx context.Context, input points.GrantPointsInput) (*models.PointTranche, error)
}

type ServiceParams struct {
	SquareClient  paymentFetcher
	Points        pointsGranter
	CentsPerPoint int
	Logger        *logger.Logger
}

// Service converts completed Square payments into paid point grants.
type Service struct {
	square        paymentFetcher
	points        pointsGranter
	centsPerPoint int
	logger        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.SquareClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if params.Points == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "points service required")
	}
	centsPerPoint := params.CentsPerPoint
	if centsPerPoint <= 0 {
		centsPerPoint = defaultCentsPerPoint
	}
	return &Service{
		square:        params.SquareClient,
		points:        params.Points,
		centsPerPoint: centsPerPoint,
		logger:        params.Logger,
	}, nil
}

type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *SquareWebhookPayment `json:"payment"`
}

type SquareWebhookPayment struct {
	ID string `json:"id"`
}

// HandleEvent processes Square payment events. The delivered payload is only
// trusted for the payment id; the payment itself is re-fetched from Square.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		paymentID := s.paymentID(event)
		if paymentID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment id missing")
		}
		return s.creditPayment(ctx, paymentID)
	default:
		return nil
	}
}

func (s *Service) paymentID(event *SquareWebhookEvent) string {
	if event.Data.Object.Payment != nil && event.Data.Object.Payment.ID != "" {
		return event.Data.Object.Payment.ID
	}
	return event.Data.ID
}

func (s *Service) creditPayment(ctx context.Context, paymentID string) error {
	payment, err := s.square.GetPayment(ctx, paymentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch square payment")
	}
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "square payment not found")
	}

	status := stringValue(payment.GetStatus())
	if !strings.EqualFold(status, "COMPLETED") {
		s.log(ctx, "square payment not completed, ignoring", map[string]any{
			"payment_id": paymentID,
			"status":     status,
		})
		return nil
	}

	userID, err := buyerUserID(payment)
	if err != nil {
		return err
	}

	amountCents := int64(0)
	if money := payment.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		amountCents = *money.GetAmount()
	}
	grantAmount := int(amountCents) / s.centsPerPoint
	if grantAmount <= 0 {
		s.log(ctx, "square payment below point threshold, ignoring", map[string]any{
			"payment_id":   paymentID,
			"amount_cents": amountCents,
		})
		return nil
	}

	paymentRef := stringValue(payment.GetID())
	if paymentRef == "" {
		paymentRef = paymentID
	}
	tranche, err := s.points.GrantPoints(ctx, points.GrantPointsInput{
		UserID:     userID,
		Amount:     grantAmount,
		Kind:       enums.PointKindPaid,
		Source:     enums.PointSourcePurchase,
		PaymentRef: &paymentRef,
	})
	if err != nil {
		return err
	}

	s.log(ctx, "square payment credited", map[string]any{
		"payment_id": paymentID,
		"user_id":    userID.String(),
		"tranche_id": tranche.ID.String(),
		"points":     grantAmount,
	})
	return nil
}

// buyerUserID resolves the purchasing user from the payment reference id,
// which checkout sets to the user's uuid.
func buyerUserID(payment *sq.Payment) (uuid.UUID, error) {
	ref := strings.TrimSpace(stringValue(payment.GetReferenceID()))
	if ref == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference id missing")
	}
	userID, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment reference id")
	}
	return userID, nil
}

func (s *Service) log(ctx context.Context, msg string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(s.logger.WithFields(ctx, fields), msg)
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
