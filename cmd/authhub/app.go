package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/db"
	"github.com/nkiryanov/authhub/internal/handlers"
	"github.com/nkiryanov/authhub/internal/handlers/middleware"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/metrics"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/repository/postgres"
	"github.com/nkiryanov/authhub/internal/repository/redis"
	"github.com/nkiryanov/authhub/internal/service/auth"
	"github.com/nkiryanov/authhub/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authhub/internal/service/guard"
	"github.com/nkiryanov/authhub/internal/service/user"
	"github.com/nkiryanov/authhub/internal/worker/cleanup"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	pool    *pgxpool.Pool
	rdb     *goredis.Client
	limiter *middleware.RateLimiter

	// Nil when revocations live in Redis
	cleanup *cleanup.Job
}

func NewServerApp(ctx context.Context, c Config) (*ServerApp, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app := &ServerApp{
		ListenAddr: c.ListenAddr,
		logger:     l,
		pool:       pool,
	}

	storage := postgres.NewStorage(pool)

	if c.RedisURL != "" {
		rdb, err := connectRedis(ctx, c.RedisURL)
		if err != nil {
			app.close()
			return nil, err
		}
		app.rdb = rdb
		storage = redis.NewStorage(storage, rdb, redis.DefaultPrefix)
		l.Info("Revoked tokens are kept in Redis")
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// Initialize services
	tokens, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:  c.AccessSecret,
		RefreshSecret: c.RefreshSecret,
		Alg:           c.JWTAlgorithm,
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
	})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	g := guard.New(tokens)
	userService := user.NewService(auth.DefaultHasher)
	authService, err := auth.NewService(auth.Config{Logger: l.WithGroup("auth")}, tokens, g)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	if c.CreateAdmin != "" {
		seed, err := c.AdminSeed()
		if err == nil {
			err = seedAdmin(ctx, storage, userService, seed, l)
		}
		if err != nil {
			app.close()
			return nil, fmt.Errorf("error while creating admin. Err: %w", err)
		}
	}

	if c.RedisURL == "" {
		app.cleanup = cleanup.New(storage, c.CleanupInterval, l.WithGroup("cleanup"), collector)
	}

	app.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		PerMinute: c.LoginRatePerMinute,
		OnLimited: func(r *http.Request) {
			collector.RecordLogin(metrics.ResultRateLimited)
		},
	})

	app.Handler = handlers.NewRouter(handlers.Deps{
		Auth:         authService,
		Users:        userService,
		Guard:        g,
		Storage:      storage,
		DB:           pool,
		Metrics:      collector,
		Gatherer:     registry,
		LoginLimiter: app.limiter,
		Logger:       l,
	})

	return app, nil
}

func connectRedis(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url. Err: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
	}

	return rdb, nil
}

// Create administrator or promote existing user with the same email
func seedAdmin(ctx context.Context, storage repository.Storage, users *user.UserService, seed AdminSeed, l logger.Logger) error {
	isAdmin := true

	return storage.InTx(ctx, func(tx repository.Storage) error {
		existing, err := tx.User().GetUserByEmail(ctx, seed.Email)
		switch {
		case err == nil && existing.IsAdmin:
			l.Info("Admin already exists", "email", seed.Email)
			return nil
		case err == nil:
			_, err = tx.User().UpdateUser(ctx, existing.ID, repository.UpdateUserParams{IsAdmin: &isAdmin})
			if err == nil {
				l.Info("User promoted to admin", "email", seed.Email)
			}
			return err
		case !errors.Is(err, apperrors.ErrUserNotFound):
			return err
		}

		created, err := users.Create(ctx, tx, user.CreateParams{
			Email:    seed.Email,
			Username: seed.Username,
			Password: seed.Password,
		})
		if err != nil {
			return err
		}

		_, err = tx.User().UpdateUser(ctx, created.ID, repository.UpdateUserParams{IsAdmin: &isAdmin})
		if err == nil {
			l.Info("Admin created", "email", seed.Email)
		}
		return err
	})
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	var cleanupStopped <-chan struct{}
	if s.cleanup != nil {
		cleanupStopped = s.cleanup.Run(srvCtx)
	}

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	if cleanupStopped != nil {
		<-cleanupStopped
	}

	return err
}

func (s *ServerApp) close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	s.pool.Close()
}
