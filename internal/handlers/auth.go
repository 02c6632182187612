package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/handlers/middleware"
	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/metrics"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
)

const refreshTokenHeader = "X-Refresh-Token"

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		TokenType:    "bearer",
	}
}

// Token from X-Refresh-Token header, 'Bearer ' prefix is optional
func refreshToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get(refreshTokenHeader))
	if scheme, token, ok := strings.Cut(value, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return value
}

// Login with form fields 'username' (email) and 'password'
func handleLogin(authService authService, storage repository.Storage, m metrics.MetricsCollector, l logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			render.ServiceError(w, "Failed to parse form", http.StatusBadRequest)
			return
		}

		data := request{
			Username: r.PostForm.Get("username"),
			Password: r.PostForm.Get("password"),
		}
		if err := render.Validate(w, data); err != nil {
			return
		}

		var pair models.TokenPair
		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			pair, err = authService.Login(r.Context(), tx, data.Username, data.Password)
			return err
		})

		switch {
		case err == nil:
			m.RecordLogin(metrics.ResultSuccess)
			render.JSON(w, newTokenResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			m.RecordLogin(metrics.ResultRejected)
			renderError(w, err, l)
		case errors.Is(err, apperrors.ErrAccountDisabled):
			m.RecordLogin(metrics.ResultDisabled)
			renderError(w, err, l)
		default:
			m.RecordLogin(metrics.ResultError)
			renderError(w, err, l)
		}
	})
}

func handleRefresh(authService authService, storage repository.Storage, m metrics.MetricsCollector, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := refreshToken(r)
		if token == "" {
			m.RecordRefresh(metrics.ResultRejected)
			middleware.Unauthorized(w, "Refresh token missing")
			return
		}

		var pair models.TokenPair
		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			var err error
			pair, err = authService.Refresh(r.Context(), tx, token)
			return err
		})

		switch {
		case err == nil:
			m.RecordRefresh(metrics.ResultSuccess)
			render.JSON(w, newTokenResponse(pair))
		case errors.Is(err, apperrors.ErrInvalidToken):
			m.RecordRefresh(metrics.ResultRejected)
			renderError(w, err, l)
		case errors.Is(err, apperrors.ErrAccountDisabled):
			m.RecordRefresh(metrics.ResultDisabled)
			renderError(w, err, l)
		default:
			m.RecordRefresh(metrics.ResultError)
			renderError(w, err, l)
		}
	})
}

// Always 204, whatever tokens are presented
func handleLogout(authService authService, storage repository.Storage, m metrics.MetricsCollector, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access := middleware.BearerToken(r)
		refresh := refreshToken(r)

		err := storage.InTx(r.Context(), func(tx repository.Storage) error {
			authService.Logout(r.Context(), tx, access, refresh)
			return nil
		})
		if err != nil {
			l.Warn("logout transaction failed", "error", err)
		}

		m.RecordLogout()
		w.WriteHeader(http.StatusNoContent)
	})
}
