package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/handlers/userctx"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
)

// Allow to use a function as authenticator
type authFunc func(ctx context.Context, token string) (models.User, error)

func (f authFunc) Authenticate(ctx context.Context, _ repository.Storage, token string) (models.User, error) {
	return f(ctx, token)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header   string
		expected string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			require.Equal(t, tt.expected, BearerToken(r))
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	// Simple handler that try to get user from context
	// If ok write it username to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set user to response or write error to response
		user, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(user.Username))
		require.NoError(t, err, "should write username to response")
	})

	get := func(t *testing.T, a authenticator, header string) (*http.Response, string) {
		srv := httptest.NewServer(AuthMiddleware(a, nil, logger.NewNoOpLogger())(handler))
		t.Cleanup(srv.Close)

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		defer resp.Body.Close() // nolint:errcheck
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")

		return resp, string(body)
	}

	t.Run("auth ok", func(t *testing.T) {
		// Middleware that always return ok
		a := authFunc(func(ctx context.Context, token string) (models.User, error) {
			require.Equal(t, "good-token", token)
			return models.User{Username: "test-user"}, nil
		})

		resp, body := get(t, a, "Bearer good-token")

		require.Equalf(t, http.StatusOK, resp.StatusCode, "should return status OK. Resp: %s", body)
		require.Equal(t, "test-user", body, "should return username in response")
	})

	t.Run("no token", func(t *testing.T) {
		a := authFunc(func(ctx context.Context, token string) (models.User, error) {
			t.Fatal("authenticator must not be called without token")
			return models.User{}, nil
		})

		resp, body := get(t, a, "")

		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
		require.JSONEq(t, `{"error": "service_error", "message": "Not authenticated"}`, body)
	})

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"unauthenticated", fmt.Errorf("%w: bad token", apperrors.ErrUnauthenticated), http.StatusUnauthorized},
		{"disabled", apperrors.ErrAccountDisabled, http.StatusForbidden},
		{"internal", errors.New("db is down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Middleware that always fails
			a := authFunc(func(ctx context.Context, token string) (models.User, error) {
				return models.User{}, tt.err
			})

			resp, body := get(t, a, "Bearer token")

			require.Equalf(t, tt.expectedStatus, resp.StatusCode, "Resp: %s", body)
			require.Contains(t, body, `"error":"service_error"`)
		})
	}
}
