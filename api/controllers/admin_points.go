package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/api/responses"
	"github.com/angelmondragon/pointbank-backend/api/validators"
	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
)

type AdminGrantPointsBody struct {
	UserID      string  `json:"user_id" validate:"required"`
	Amount      int     `json:"amount" validate:"required,min=1"`
	Kind        string  `json:"kind" validate:"required"`
	Source      string  `json:"source,omitempty"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	PaymentRef  *string `json:"payment_ref,omitempty" validate:"omitempty,max=255"`
}

// AdminGrantPoints credits an arbitrary user. Admin only.
func AdminGrantPoints(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		var body AdminGrantPointsBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(body.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		kind, err := enums.ParsePointKind(body.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid point kind"))
			return
		}

		source := enums.PointSourceAdminGrant
		if body.Source != "" {
			source, err = enums.ParsePointSource(body.Source)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid point source"))
				return
			}
		}

		input := points.GrantPointsInput{
			UserID:      userID,
			Amount:      body.Amount,
			Kind:        kind,
			Source:      source,
			Description: body.Description,
			PaymentRef:  body.PaymentRef,
		}

		tranche, err := svc.GrantPoints(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, tranche)
	}
}

// AdminUserPointBalance returns any user's balance. Admin only.
func AdminUserPointBalance(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		userID, err := uuid.Parse(chi.URLParam(r, "userId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		balance, err := svc.GetPointBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// AdminCleanupExpiredPoints runs an expiration sweep on demand. Admin only.
func AdminCleanupExpiredPoints(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		result, err := svc.CleanupExpiredPoints(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
