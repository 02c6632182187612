package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/logger"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authhub/internal/service/guard"
)

type Config struct {
	// Hasher to use during user registration or login process
	// DefaultHasher if not set
	Hasher PasswordHasher

	// NoOp logger if not set
	Logger logger.Logger
}

// Auth service: session lifecycle on top of token manager and revocation store
type AuthService struct {
	// Manager to issue and decode token pairs (access and refresh)
	tokens *tokenmanager.TokenManager

	// Gate to resolve token owners
	guard *guard.Guard

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	logger logger.Logger

	// Hash compared against when user not found, so unknown email costs the same time as wrong password
	dummyHash func() (string, error)
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, g *guard.Guard) (*AuthService, error) {
	if tokens == nil || g == nil {
		return nil, errors.New("token manager and guard must not be nil")
	}

	// Set default bcrypt hasher if not provided by user
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	l := cfg.Logger
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		tokens: tokens,
		guard:  g,
		hasher: hasher,
		logger: l,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("dummy-password-to-compare-with1")
		}),
	}, nil
}

// Exchange email and password for a fresh token pair
// Unknown email and wrong password are indistinguishable: both are apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, uow repository.Storage, email string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := uow.User().GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, hashErr := s.dummyHash(); hashErr == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return pair, apperrors.ErrInvalidCredentials
	case err != nil:
		return pair, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return pair, apperrors.ErrInvalidCredentials
	}

	// Checked after password, so disabled status is not disclosed to someone without password
	if _, err := guard.RequireActive(user); err != nil {
		return pair, err
	}

	pair, err = s.tokens.IssuePair(user)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// Rotate refresh token: revoke the presented one and issue a new pair
// Refresh token may be used once. Of concurrent refreshes only one wins
func (s *AuthService) Refresh(ctx context.Context, uow repository.Storage, refreshToken string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, claims, err := s.guard.ResolveRefreshIdentity(ctx, uow, refreshToken)
	if err != nil {
		return pair, err
	}

	if _, err := guard.RequireActive(user); err != nil {
		return pair, err
	}

	created, err := uow.Revocation().Revoke(ctx, claims.ID, claims.ExpiresAt)
	switch {
	case err != nil:
		return pair, fmt.Errorf("refresh token could not be revoked: %w", err)
	case !created:
		return pair, fmt.Errorf("%w: token already used", apperrors.ErrInvalidToken)
	}

	// Role is taken from the current user record, not from the old token
	pair, err = s.tokens.IssuePair(user)
	if err != nil {
		return pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return pair, nil
}

// Revoke presented tokens. Never fails: missing, invalid or expired tokens are skipped
// Every revocation runs in its own nested transaction, so one failure does not discard the other
func (s *AuthService) Logout(ctx context.Context, uow repository.Storage, accessToken string, refreshToken string) {
	tokens := []struct {
		value string
		kind  models.TokenKind
	}{
		{accessToken, models.TokenKindAccess},
		{refreshToken, models.TokenKindRefresh},
	}

	for _, t := range tokens {
		if t.value == "" {
			continue
		}

		claims, err := s.tokens.Decode(t.value, t.kind, tokenmanager.SkipExpiry())
		if err != nil {
			s.logger.Debug("logout skips token", "kind", t.kind, "error", err)
			continue
		}

		err = uow.InTx(ctx, func(tx repository.Storage) error {
			_, err := tx.Revocation().Revoke(ctx, claims.ID, claims.ExpiresAt)
			return err
		})
		if err != nil {
			s.logger.Warn("logout could not revoke token", "kind", t.kind, "jti", claims.ID, "error", err)
		}
	}
}
