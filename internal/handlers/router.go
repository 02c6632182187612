package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nkiryanov/authhub/internal/handlers/middleware"
	"github.com/nkiryanov/authhub/internal/handlers/render"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/metrics"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/service/user"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type Deps struct {
	Auth  authService
	Users userService
	Guard guardService

	// Base storage. Every request opens its own transaction on it
	Storage repository.Storage

	// Database to ping on health check
	DB pinger

	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// Limits login attempts per client. No limit if nil
	LoginLimiter *middleware.RateLimiter

	Logger logger.Logger
}

func NewRouter(deps Deps) http.Handler {
	l := deps.Logger
	storage := deps.Storage

	withAuth := middleware.AuthMiddleware(deps.Guard, storage, l)

	loginHandler := handleLogin(deps.Auth, storage, deps.Metrics, l)
	if deps.LoginLimiter != nil {
		loginHandler = deps.LoginLimiter.Middleware()(loginHandler)
	}

	mux := http.NewServeMux()

	mux.Handle("POST /auth/token", loginHandler)
	mux.Handle("POST /auth/refresh", handleRefresh(deps.Auth, storage, deps.Metrics, l))
	mux.Handle("POST /auth/logout", handleLogout(deps.Auth, storage, deps.Metrics, l))

	mux.Handle("POST /users/{$}", handleCreateUser(deps.Users, storage, l))
	mux.Handle("GET /users/{$}", withAuth(handleListUsers(deps.Users, storage, l)))
	mux.Handle("GET /users/me", withAuth(handleUserMe()))
	mux.Handle("GET /users/{id}", withAuth(handleGetUser(deps.Users, storage, l)))
	mux.Handle("PATCH /users/{id}", withAuth(handleUpdateUser(deps.Users, storage, l)))
	mux.Handle("DELETE /users/{id}", withAuth(handleDeleteUser(deps.Users, storage, l)))
	mux.Handle("PATCH /users/{id}/password", withAuth(handleChangePassword(deps.Users, storage, l)))
	mux.Handle("PATCH /users/{id}/deactivate", withAuth(handleDeactivateUser(deps.Users, storage, l)))
	mux.Handle("PATCH /users/{id}/admin", withAuth(handleSetAdmin(deps.Users, storage, l)))

	mux.Handle("GET /healthz", handleHealth(deps.DB, l))
	mux.Handle("GET /metrics", metrics.Handler(deps.Gatherer))

	// Recover is the innermost, so panics are still logged and counted as 500
	handler := chain(mux,
		middleware.LoggerMiddleware(l),
		middleware.MetricsMiddleware(deps.Metrics),
		middleware.RecoverMiddleware(l),
	)

	return handler
}

func handleHealth(db pinger, l logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			l.Warn("health check failed", "error", err)
			render.JSONWithStatus(w, response{Status: "unavailable"}, http.StatusServiceUnavailable)
			return
		}

		render.JSON(w, response{Status: "ok"})
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

type guardService interface {
	Authenticate(ctx context.Context, uow repository.Storage, accessToken string) (models.User, error)
}

type authService interface {
	// Has to return apperrors.ErrInvalidCredentials for unknown email or wrong password
	// and apperrors.ErrAccountDisabled for inactive user
	Login(ctx context.Context, uow repository.Storage, email string, password string) (models.TokenPair, error)

	// Has to return apperrors.ErrInvalidToken if token is invalid, expired, revoked or already used
	Refresh(ctx context.Context, uow repository.Storage, refreshToken string) (models.TokenPair, error)

	// Revoke tokens if they could be decoded. Never fails
	Logout(ctx context.Context, uow repository.Storage, accessToken string, refreshToken string)
}

type userService interface {
	Create(ctx context.Context, uow repository.Storage, params user.CreateParams) (models.User, error)
	Get(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) (models.User, error)
	UpdateProfile(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, params user.UpdateProfileParams) (models.User, error)
	ChangePassword(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, current string, newPassword string) error
	Deactivate(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) (models.User, error)
	Delete(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) error
	SetAdmin(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, isAdmin bool) (models.User, error)
	List(ctx context.Context, uow repository.Storage, actor models.User, skip int, limit int) ([]models.User, error)
}
