package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/pointbank-backend/api/middleware"
	"github.com/angelmondragon/pointbank-backend/api/responses"
	"github.com/angelmondragon/pointbank-backend/api/validators"
	"github.com/angelmondragon/pointbank-backend/internal/points"
	"github.com/angelmondragon/pointbank-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// PointBalance returns the caller's live balance computed from tranches.
func PointBalance(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
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

type ConsumePointsBody struct {
	Amount           int     `json:"amount" validate:"required,min=1"`
	UsageType        string  `json:"usage_type" validate:"required"`
	Description      *string `json:"description,omitempty" validate:"omitempty,max=500"`
	RelatedChatID    *string `json:"related_chat_id,omitempty"`
	RelatedMessageID *string `json:"related_message_id,omitempty"`
	RequestID        *string `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// ConsumePoints debits the caller's balance. A request id, supplied either in
// the body or via the X-Request-Id header, makes the call replay-safe.
func ConsumePoints(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body ConsumePointsBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		usageType, err := enums.ParsePointUsageType(body.UsageType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid usage type"))
			return
		}

		input := points.ConsumePointsInput{
			UserID:    userID,
			Amount:    body.Amount,
			UsageType: usageType,
		}
		if body.Description != nil {
			desc := validators.SanitizeString(*body.Description, 500)
			if desc != "" {
				input.Description = &desc
			}
		}
		if input.RelatedChatID, err = parseOptionalUUID(body.RelatedChatID, "related_chat_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if input.RelatedMessageID, err = parseOptionalUUID(body.RelatedMessageID, "related_message_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		requestID := ""
		if body.RequestID != nil {
			requestID = strings.TrimSpace(*body.RequestID)
		}
		if requestID == "" {
			requestID = strings.TrimSpace(r.Header.Get(requestIDHeader))
		}
		if requestID != "" {
			input.RequestID = &requestID
		}

		record, err := svc.ConsumePoints(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// PointUsageHistory returns the caller's usage records, newest first.
func PointUsageHistory(svc points.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "points service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ListUsageHistory(r.Context(), points.ListUsageParams{
			UserID: userID,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return userID, nil
}

func parseOptionalUUID(raw *string, field string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid uuid").WithDetails(map[string]any{"field": field})
	}
	return &id, nil
}
