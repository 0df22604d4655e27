package controllers

import (
	"net/http"

	"github.com/angelmondragon/pointbank-backend/api/responses"
	"github.com/angelmondragon/pointbank-backend/internal/attendance"
	pkgerrors "github.com/angelmondragon/pointbank-backend/pkg/errors"
	"github.com/angelmondragon/pointbank-backend/pkg/logger"
)

// AttendanceCheckIn grants the daily attendance reward to the caller.
func AttendanceCheckIn(svc attendance.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "attendance service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CheckIn(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
