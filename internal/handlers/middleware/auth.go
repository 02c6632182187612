package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/handlers/userctx"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
)

type authenticator interface {
	Authenticate(ctx context.Context, uow repository.Storage, accessToken string) (models.User, error)
}

type errorLogger interface {
	Error(msg string, args ...any)
}

// Get token from 'Authorization: Bearer <token>' header. Empty if header absent or has other scheme
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Unauthorized response with bearer challenge
func Unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	render.ServiceError(w, message, http.StatusUnauthorized)
}

// Resolve active user by access token and put it to request context
func AuthMiddleware(a authenticator, storage repository.Storage, l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				Unauthorized(w, "Not authenticated")
				return
			}

			user, err := a.Authenticate(r.Context(), storage, token)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrAccountDisabled):
				render.ServiceError(w, "Inactive user", http.StatusForbidden)
				return
			case errors.Is(err, apperrors.ErrUnauthenticated):
				Unauthorized(w, "Could not validate credentials")
				return
			default:
				l.Error("authentication failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
