package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/handlers/middleware"
	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/logger"
)

// Map service error to response. Unexpected errors are logged and hidden behind 500
// Order matters: unauthenticated wraps token and user lookup errors
func renderError(w http.ResponseWriter, err error, l logger.Logger) {
	switch {
	case errors.Is(err, apperrors.ErrUnauthenticated):
		middleware.Unauthorized(w, "Could not validate credentials")
	case errors.Is(err, apperrors.ErrInvalidCredentials):
		middleware.Unauthorized(w, "Incorrect email or password")
	case errors.Is(err, apperrors.ErrInvalidToken):
		middleware.Unauthorized(w, "Invalid refresh token")
	case errors.Is(err, apperrors.ErrAccountDisabled):
		render.ServiceError(w, "Inactive user", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrSelfDemotionForbidden):
		render.ServiceError(w, "Admin can not revoke own admin status", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrPermissionDenied):
		render.ServiceError(w, "Not enough permissions", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrDuplicateIdentity):
		render.ServiceError(w, "User with this email or username already exists", http.StatusConflict)
	case errors.Is(err, apperrors.ErrHasDependents):
		render.ServiceError(w, "User has dependent records and can not be deleted", http.StatusConflict)
	case errors.Is(err, apperrors.ErrWeakPassword),
		errors.Is(err, apperrors.ErrNoChange),
		errors.Is(err, apperrors.ErrInvalidPagination):
		render.ServiceError(w, capitalize(err.Error()), http.StatusBadRequest)
	default:
		l.Error("request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
