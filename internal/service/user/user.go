package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
	"github.com/nkiryanov/authhub/internal/service/auth"
	"github.com/nkiryanov/authhub/internal/service/guard"
)

const MaxListLimit = 100

type CreateParams struct {
	Email        string
	Username     string
	Password     string
	ProfileImage *string
}

// Nil fields are left untouched. Empty profile image removes it
type UpdateProfileParams struct {
	Username     *string
	ProfileImage *string
}

// User directory. Every operation except Create is performed on behalf of the actor
// Permissions are checked before the target lookup, so forbidden calls can't probe for existence
type UserService struct {
	hasher auth.PasswordHasher
}

func NewService(hasher auth.PasswordHasher) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher: hasher,
	}
}

func (s *UserService) Create(ctx context.Context, uow repository.Storage, params CreateParams) (models.User, error) {
	var user models.User

	if err := auth.ValidatePassword(params.Password); err != nil {
		return user, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = uow.User().CreateUser(ctx, repository.CreateUserParams{
		Email:          params.Email,
		Username:       params.Username,
		HashedPassword: hash,
		ProfileImage:   params.ProfileImage,
	})
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) Get(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) (models.User, error) {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return models.User{}, err
	}

	if _, err := guard.RequireSelfOrAdmin(targetID, actor); err != nil {
		return models.User{}, err
	}

	return uow.User().GetUserByID(ctx, targetID)
}

func (s *UserService) UpdateProfile(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, params UpdateProfileParams) (models.User, error) {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return models.User{}, err
	}

	if _, err := guard.RequireSelfOrAdmin(targetID, actor); err != nil {
		return models.User{}, err
	}

	target, err := uow.User().GetUserByID(ctx, targetID)
	if err != nil {
		return target, err
	}

	// Keep only real changes
	var update repository.UpdateUserParams
	if params.Username != nil && *params.Username != target.Username {
		update.Username = params.Username
	}
	if params.ProfileImage != nil && *params.ProfileImage != valueOf(target.ProfileImage) {
		update.ProfileImage = params.ProfileImage
	}

	if update.IsEmpty() {
		return target, nil
	}

	return uow.User().UpdateUser(ctx, targetID, update)
}

// Change password of the target. Current password is required even when admin acts on other user
func (s *UserService) ChangePassword(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, current string, newPassword string) error {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return err
	}

	if _, err := guard.RequireSelfOrAdmin(targetID, actor); err != nil {
		return err
	}

	target, err := uow.User().GetUserByID(ctx, targetID)
	if err != nil {
		return err
	}

	if err := s.hasher.Compare(target.HashedPassword, current); err != nil {
		return apperrors.ErrInvalidCredentials
	}

	if err := s.hasher.Compare(target.HashedPassword, newPassword); err == nil {
		return apperrors.ErrNoChange
	}

	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	_, err = uow.User().UpdateUser(ctx, targetID, repository.UpdateUserParams{HashedPassword: &hash})
	return err
}

// Idempotent: deactivating inactive user is ok
func (s *UserService) Deactivate(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) (models.User, error) {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return models.User{}, err
	}

	if _, err := guard.RequireSelfOrAdmin(targetID, actor); err != nil {
		return models.User{}, err
	}

	target, err := uow.User().GetUserByID(ctx, targetID)
	if err != nil || !target.IsActive {
		return target, err
	}

	inactive := false
	return uow.User().UpdateUser(ctx, targetID, repository.UpdateUserParams{IsActive: &inactive})
}

func (s *UserService) Delete(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID) error {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return err
	}

	if _, err := guard.RequireAdmin(actor); err != nil {
		return err
	}

	err = uow.User().DeleteUser(ctx, targetID)
	if errors.Is(err, apperrors.ErrHasDependents) {
		return fmt.Errorf("user can't be deleted: %w", err)
	}

	return err
}

// Grant or revoke admin status. Admin can't revoke it's own status
func (s *UserService) SetAdmin(ctx context.Context, uow repository.Storage, actor models.User, targetID uuid.UUID, isAdmin bool) (models.User, error) {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return models.User{}, err
	}

	if _, err := guard.RequireAdmin(actor); err != nil {
		return models.User{}, err
	}

	if actor.ID == targetID && !isAdmin {
		return models.User{}, apperrors.ErrSelfDemotionForbidden
	}

	target, err := uow.User().GetUserByID(ctx, targetID)
	if err != nil || target.IsAdmin == isAdmin {
		return target, err
	}

	return uow.User().UpdateUser(ctx, targetID, repository.UpdateUserParams{IsAdmin: &isAdmin})
}

// List users, newest first
func (s *UserService) List(ctx context.Context, uow repository.Storage, actor models.User, skip int, limit int) ([]models.User, error) {
	actor, err := currentActor(ctx, uow, actor)
	if err != nil {
		return nil, err
	}

	if _, err := guard.RequireAdmin(actor); err != nil {
		return nil, err
	}

	if skip < 0 || limit < 1 || limit > MaxListLimit {
		return nil, apperrors.ErrInvalidPagination
	}

	return uow.User().ListUsers(ctx, skip, limit)
}

// Actor resolved by authentication is read before the request transaction starts.
// Permission checks use the record as this transaction sees it
func currentActor(ctx context.Context, uow repository.Storage, actor models.User) (models.User, error) {
	current, err := uow.User().GetUserByID(ctx, actor.ID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return current, apperrors.ErrUnauthenticated
	case err != nil:
		return current, err
	}

	return guard.RequireActive(current)
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
