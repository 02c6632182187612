package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/repository/postgres"
	redisrepo "github.com/nkiryanov/authhub/internal/repository/redis"
	"github.com/nkiryanov/authhub/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authhub/internal/service/guard"
	"github.com/nkiryanov/authhub/internal/testutil"
)

// Storage with revocation repository failing on every write
type failingRevocationStorage struct {
	repository.Storage
}

func (s failingRevocationStorage) Revocation() repository.RevocationRepo {
	return failingRevocationRepo{s.Storage.Revocation()}
}

func (s failingRevocationStorage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return s.Storage.InTx(ctx, func(tx repository.Storage) error {
		return fn(failingRevocationStorage{tx})
	})
}

type failingRevocationRepo struct {
	repository.RevocationRepo
}

func (r failingRevocationRepo) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	return false, errors.New("revocation store is down")
}

// Storage whose revocation check always answers "not revoked".
// Models the window where concurrent refresh revoked the token after this one checked it
type staleCheckStorage struct {
	repository.Storage
}

func (s staleCheckStorage) Revocation() repository.RevocationRepo {
	return staleCheckRepo{s.Storage.Revocation()}
}

type staleCheckRepo struct {
	repository.RevocationRepo
}

func (r staleCheckRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return false, nil
}

type account struct {
	Email    string
	Username string
	Password string
}

// Insert account with real password hash and log it in
func signUp(ctx context.Context, s *AuthService, uow repository.Storage, a account) (models.User, models.TokenPair, error) {
	hash, err := s.hasher.Hash(a.Password)
	if err != nil {
		return models.User{}, models.TokenPair{}, err
	}

	user, err := uow.User().CreateUser(ctx, repository.CreateUserParams{
		Email:          a.Email,
		Username:       a.Username,
		HashedPassword: hash,
	})
	if err != nil {
		return user, models.TokenPair{}, err
	}

	pair, err := s.Login(ctx, uow, a.Email, a.Password)
	return user, pair, err
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	hasher := BcryptHasher{Cost: bcrypt.MinCost}

	params := account{Email: "nk@example.com", Username: "nkiryanov", Password: "password1"}

	newService := func(t *testing.T, clock func() time.Time) (*AuthService, *tokenmanager.TokenManager) {
		tokens, err := tokenmanager.New(tokenmanager.Config{
			AccessSecret:  "test-access-secret",
			RefreshSecret: "test-refresh-secret",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			Now:           clock,
		})
		require.NoError(t, err, "token manager should be created without errors")

		s, err := NewService(Config{Hasher: hasher}, tokens, guard.New(tokens))
		require.NoError(t, err, "auth service could't be started")

		return s, tokens
	}

	// Begin new db transaction and create new AuthService
	// Rollback transaction when test stops
	withTx := func(t *testing.T, fn func(s *AuthService, uow repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s, _ := newService(t, time.Now)
			fn(s, postgres.NewStorage(tx))
		})
	}

	t.Run("new auth service defaults", func(t *testing.T) {
		tokens, err := tokenmanager.New(tokenmanager.Config{AccessSecret: "a", RefreshSecret: "r"})
		require.NoError(t, err)

		s, err := NewService(Config{}, tokens, guard.New(tokens))

		require.NoError(t, err, "auth service should be created without errors")
		require.Equal(t, DefaultHasher, s.hasher, "default hasher should be set to BcryptHasher")
		require.NotNil(t, s.logger)
	})

	t.Run("new auth service requires dependencies", func(t *testing.T) {
		_, err := NewService(Config{}, nil, nil)
		require.Error(t, err)
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, _, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), uow, "nk@example.com", "password1")

				require.NoError(t, err)
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")

				claims, err := s.tokens.Decode(pair.Access.Value, models.TokenKindAccess)
				require.NoError(t, err)
				assert.Equal(t, user.ID, claims.Subject)
				assert.Equal(t, models.RoleUser, claims.Role)
				assert.Equal(t, 15*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt))
			})
		})

		t.Run("admin gets admin role", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, _, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)
				_, err = uow.User().UpdateUser(t.Context(), user.ID, repository.UpdateUserParams{IsAdmin: ptr(true)})
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), uow, "nk@example.com", "password1")
				require.NoError(t, err)

				claims, err := s.tokens.Decode(pair.Access.Value, models.TokenKindAccess)
				require.NoError(t, err)
				assert.Equal(t, models.RoleAdmin, claims.Role)
			})
		})

		tests := []struct {
			name        string
			login       string
			password    string
			expectedErr error
		}{
			{
				name:        "login fail if wrong password",
				login:       "nk@example.com",
				password:    "wrong-password1",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
			{
				name:        "login fail if user not exists",
				login:       "not-existed@example.com",
				password:    "password1",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(t, func(s *AuthService, uow repository.Storage) {
					_, _, err := signUp(t.Context(), s, uow, params)
					require.NoError(t, err)

					_, err = s.Login(t.Context(), uow, tt.login, tt.password)

					require.Error(t, err)
					require.ErrorIs(t, err, tt.expectedErr)
				})
			})
		}

		t.Run("disabled account", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, _, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)
				_, err = uow.User().UpdateUser(t.Context(), user.ID, repository.UpdateUserParams{IsActive: ptr(false)})
				require.NoError(t, err)

				_, err = s.Login(t.Context(), uow, "nk@example.com", "password1")
				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)
			})
		})

		t.Run("disabled account with wrong password is bad credentials", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, _, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)
				_, err = uow.User().UpdateUser(t.Context(), user.ID, repository.UpdateUserParams{IsActive: ptr(false)})
				require.NoError(t, err)

				_, err = s.Login(t.Context(), uow, "nk@example.com", "wrong-password1")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "disabled status is not disclosed without password")
				require.NotErrorIs(t, err, apperrors.ErrAccountDisabled)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("refresh once ok", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				// Sign up and get initial token pair
				_, initialPair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				// Use refresh token to get new token pair
				newPair, err := s.Refresh(t.Context(), uow, initialPair.Refresh.Value)

				require.NoError(t, err)
				require.NotEqual(t, initialPair.Access.Value, newPair.Access.Value, "new access token should be different")
				require.NotEqual(t, initialPair.Refresh.Value, newPair.Refresh.Value, "new refresh token should be different")

				revoked, err := uow.Revocation().IsRevoked(t.Context(), initialPair.Refresh.ID)
				require.NoError(t, err)
				require.True(t, revoked, "used refresh token has to be revoked")

				revoked, err = uow.Revocation().IsRevoked(t.Context(), initialPair.Access.ID)
				require.NoError(t, err)
				require.False(t, revoked, "old access token lives until expiry")
			})
		})

		t.Run("fail if used once", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				// Sign up and get token pair
				_, initialPair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				// Use refresh token once - should work
				_, err = s.Refresh(t.Context(), uow, initialPair.Refresh.Value)
				require.NoError(t, err)

				// Try to use same refresh token again - should fail
				_, err = s.Refresh(t.Context(), uow, initialPair.Refresh.Value)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrInvalidToken, "should return error if token already used")
			})
		})

		t.Run("revocation insert decides the winner", func(t *testing.T) {
			mr := miniredis.RunT(t)
			rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })

			stores := []struct {
				name string
				wrap func(tx pgx.Tx) repository.Storage
			}{
				{"postgres", func(tx pgx.Tx) repository.Storage { return postgres.NewStorage(tx) }},
				{"redis", func(tx pgx.Tx) repository.Storage {
					return redisrepo.NewStorage(postgres.NewStorage(tx), rdb, "auth-test:")
				}},
			}

			for _, store := range stores {
				t.Run(store.name, func(t *testing.T) {
					testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
						s, _ := newService(t, time.Now)
						uow := store.wrap(tx)
						_, pair, err := signUp(t.Context(), s, uow, params)
						require.NoError(t, err)

						_, err = s.Refresh(t.Context(), uow, pair.Refresh.Value)
						require.NoError(t, err)

						// Revocation check passes, so only the insert result can reject the token
						_, err = s.Refresh(t.Context(), staleCheckStorage{uow}, pair.Refresh.Value)

						require.ErrorIs(t, err, apperrors.ErrInvalidToken)
						require.ErrorContains(t, err, "already used")
					})
				})
			}
		})

		t.Run("concurrent refresh only one wins", func(t *testing.T) {
			s, _ := newService(t, time.Now)
			racer := account{Email: "racer@example.com", Username: "racer", Password: "password1"}

			// Committed, so both transactions see the user
			user, pair, err := signUp(t.Context(), s, postgres.NewStorage(pg.Pool), racer)
			require.NoError(t, err)
			t.Cleanup(func() {
				_, _ = pg.Pool.Exec(context.Background(), `DELETE FROM revoked_tokens WHERE jti = $1`, pair.Refresh.ID)
				_, _ = pg.Pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
			})

			first, err := pg.Pool.Begin(t.Context())
			require.NoError(t, err)
			defer first.Rollback(context.Background()) // nolint:errcheck

			second, err := pg.Pool.Begin(t.Context())
			require.NoError(t, err)
			defer second.Rollback(context.Background()) // nolint:errcheck

			_, err = s.Refresh(t.Context(), postgres.NewStorage(first), pair.Refresh.Value)
			require.NoError(t, err, "first refresh keeps revocation row uncommitted")

			lost := make(chan error, 1)
			go func() {
				_, err := s.Refresh(t.Context(), postgres.NewStorage(second), pair.Refresh.Value)
				lost <- err
			}()

			// Second refresh saw the token as not revoked and now waits for the first one's row
			require.Eventually(t, func() bool {
				var waiting int
				err := pg.Pool.QueryRow(t.Context(),
					`SELECT count(*) FROM pg_stat_activity WHERE datname = current_database() AND wait_event_type = 'Lock'`,
				).Scan(&waiting)
				return err == nil && waiting > 0
			}, 5*time.Second, 10*time.Millisecond)

			require.NoError(t, first.Commit(t.Context()))

			select {
			case err := <-lost:
				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
				require.ErrorContains(t, err, "already used")
			case <-time.After(5 * time.Second):
				t.Fatal("second refresh is still blocked")
			}
		})

		t.Run("fail if access token used", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), uow, pair.Access.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("fail if expired", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				now := time.Now()
				var mu sync.Mutex
				clock := func() time.Time {
					mu.Lock()
					defer mu.Unlock()
					return now
				}
				s, _ := newService(t, clock)
				uow := postgres.NewStorage(tx)

				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				// Move time forward to make sure refresh token is expired
				mu.Lock()
				now = now.Add(25 * time.Hour)
				mu.Unlock()

				_, err = s.Refresh(t.Context(), uow, pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidToken, "should return error if token expired")
			})
		})

		t.Run("fail if account disabled", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)
				_, err = uow.User().UpdateUser(t.Context(), user.ID, repository.UpdateUserParams{IsActive: ptr(false)})
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), uow, pair.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)
			})
		})

		t.Run("role follows current admin flag", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				user, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)
				_, err = uow.User().UpdateUser(t.Context(), user.ID, repository.UpdateUserParams{IsAdmin: ptr(true)})
				require.NoError(t, err)

				newPair, err := s.Refresh(t.Context(), uow, pair.Refresh.Value)
				require.NoError(t, err)

				claims, err := s.tokens.Decode(newPair.Access.Value, models.TokenKindAccess)
				require.NoError(t, err)
				assert.Equal(t, models.RoleAdmin, claims.Role)
			})
		})

		t.Run("fail if revocation not stored", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), failingRevocationStorage{uow}, pair.Refresh.Value)

				require.Error(t, err)
				require.NotErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("revoke both tokens", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				s.Logout(t.Context(), uow, pair.Access.Value, pair.Refresh.Value)

				_, err = s.guard.ResolveIdentity(t.Context(), uow, pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrUnauthenticated, "access token must be revoked")

				_, err = s.Refresh(t.Context(), uow, pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidToken, "refresh token must be revoked")
			})
		})

		t.Run("any combination of tokens", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				tests := []struct {
					name    string
					access  string
					refresh string
				}{
					{"nothing", "", ""},
					{"garbage", "garbage", "garbage"},
					{"swapped", pair.Refresh.Value, pair.Access.Value},
					{"only access", pair.Access.Value, ""},
					{"only refresh", "", pair.Refresh.Value},
					{"twice", pair.Access.Value, pair.Refresh.Value},
				}

				for _, tt := range tests {
					t.Run(tt.name, func(t *testing.T) {
						require.NotPanics(t, func() {
							s.Logout(t.Context(), uow, tt.access, tt.refresh)
						})
					})
				}
			})
		})

		t.Run("expired tokens are revoked as well", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				now := time.Now()
				s, _ := newService(t, func() time.Time { return now })
				uow := postgres.NewStorage(tx)
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				now = now.Add(time.Hour)
				s.Logout(t.Context(), uow, pair.Access.Value, "")

				revoked, err := uow.Revocation().IsRevoked(t.Context(), pair.Access.ID)
				require.NoError(t, err)
				require.True(t, revoked)
			})
		})

		t.Run("store failure is swallowed", func(t *testing.T) {
			withTx(t, func(s *AuthService, uow repository.Storage) {
				_, pair, err := signUp(t.Context(), s, uow, params)
				require.NoError(t, err)

				require.NotPanics(t, func() {
					s.Logout(t.Context(), failingRevocationStorage{uow}, pair.Access.Value, pair.Refresh.Value)
				})

				// Outer transaction is still usable after failed savepoints
				_, err = uow.User().GetUserByEmail(t.Context(), params.Email)
				require.NoError(t, err)
			})
		})
	})

	t.Run("scenario login refresh refresh-old", func(t *testing.T) {
		withTx(t, func(s *AuthService, uow repository.Storage) {
			_, _, err := signUp(t.Context(), s, uow, params)
			require.NoError(t, err)

			first, err := s.Login(t.Context(), uow, params.Email, params.Password)
			require.NoError(t, err)

			second, err := s.Refresh(t.Context(), uow, first.Refresh.Value)
			require.NoError(t, err)
			require.NotEqual(t, first.Refresh.Value, second.Refresh.Value)

			_, err = s.Refresh(t.Context(), uow, first.Refresh.Value)
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)

			_, err = s.Refresh(t.Context(), uow, second.Refresh.Value)
			require.NoError(t, err, "new refresh token is still usable")
		})
	})
}

func ptr[T any](v T) *T {
	return &v
}
