package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authhub/internal/models"
)

// Storage is the unit of work handed to services
// Repositories returned by a storage created inside InTx share the same transaction
type Storage interface {
	User() UserRepo
	Revocation() RevocationRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	// Calling InTx on transactional storage starts nested transaction (savepoint)
	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Email          string
	Username       string
	HashedPassword string
	ProfileImage   *string
	IsAdmin        bool
}

// Changes to apply to user. Nil fields are left untouched
type UpdateUserParams struct {
	Username       *string
	HashedPassword *string
	ProfileImage   *string
	IsActive       *bool
	IsAdmin        *bool
}

func (p UpdateUserParams) IsEmpty() bool {
	return p.Username == nil && p.HashedPassword == nil && p.ProfileImage == nil && p.IsActive == nil && p.IsAdmin == nil
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email or username exists already has to return error apperrors.ErrDuplicateIdentity
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// List users ordered by creation time, newest first
	ListUsers(ctx context.Context, offset int, limit int) ([]models.User, error)

	// Update user and refresh its updated_at
	// Must return apperrors.ErrDuplicateIdentity on username conflict and apperrors.ErrUserNotFound if user not exists
	UpdateUser(ctx context.Context, userID uuid.UUID, arg UpdateUserParams) (models.User, error)

	// Delete user permanently
	// Must return apperrors.ErrHasDependents if other records reference the user
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// Revocation (token blocklist) repository interface
type RevocationRepo interface {
	// Revoke token identifier until expiresAt
	// Idempotent: revoking already revoked token is not an error, created is false then
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (created bool, err error)

	// Token is revoked if entry exists, no matter whether the entry is expired
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// Delete entries expired before the time, returns number of deleted entries
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
