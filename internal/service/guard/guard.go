// Package guard resolves the caller identity from session tokens and checks permissions.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/service/auth/tokenmanager"
)

type Guard struct {
	tokens *tokenmanager.TokenManager
}

func New(tokens *tokenmanager.TokenManager) *Guard {
	return &Guard{tokens: tokens}
}

// Resolve user by access token
// Bad or revoked token and unknown user are apperrors.ErrUnauthenticated
// Storage failures are returned as is
func (g *Guard) ResolveIdentity(ctx context.Context, uow repository.Storage, accessToken string) (models.User, error) {
	user, _, err := g.resolve(ctx, uow, accessToken, models.TokenKindAccess)
	if isRejected(err) {
		return user, fmt.Errorf("%w: %w", apperrors.ErrUnauthenticated, err)
	}

	return user, err
}

// Resolve user by refresh token, returns decoded claims as well
// Bad or revoked token and unknown user are apperrors.ErrInvalidToken
func (g *Guard) ResolveRefreshIdentity(ctx context.Context, uow repository.Storage, refreshToken string) (models.User, models.Claims, error) {
	user, claims, err := g.resolve(ctx, uow, refreshToken, models.TokenKindRefresh)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		err = fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}

	return user, claims, err
}

func isRejected(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidToken) || errors.Is(err, apperrors.ErrUserNotFound)
}

func (g *Guard) resolve(ctx context.Context, uow repository.Storage, token string, kind models.TokenKind) (models.User, models.Claims, error) {
	var user models.User

	claims, err := g.tokens.Decode(token, kind)
	if err != nil {
		return user, claims, err
	}

	revoked, err := uow.Revocation().IsRevoked(ctx, claims.ID)
	switch {
	case err != nil:
		return user, claims, fmt.Errorf("revocation check failed: %w", err)
	case revoked:
		return user, claims, fmt.Errorf("%w: token revoked", apperrors.ErrInvalidToken)
	}

	user, err = uow.User().GetUserByID(ctx, claims.Subject)
	if err != nil {
		return user, claims, err
	}

	return user, claims, nil
}

// Access token resolved to active user
func (g *Guard) Authenticate(ctx context.Context, uow repository.Storage, accessToken string) (models.User, error) {
	user, err := g.ResolveIdentity(ctx, uow, accessToken)
	if err != nil {
		return user, err
	}

	return RequireActive(user)
}

func RequireActive(user models.User) (models.User, error) {
	if !user.IsActive {
		return user, apperrors.ErrAccountDisabled
	}
	return user, nil
}

func RequireAdmin(user models.User) (models.User, error) {
	if !user.IsAdmin {
		return user, apperrors.ErrPermissionDenied
	}
	return user, nil
}

func RequireSelfOrAdmin(targetID uuid.UUID, user models.User) (models.User, error) {
	if user.ID != targetID && !user.IsAdmin {
		return user, apperrors.ErrPermissionDenied
	}
	return user, nil
}
