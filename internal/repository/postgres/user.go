package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authhub/internal/apperrors"
	"github.com/nkiryanov/authhub/internal/models"
	"github.com/nkiryanov/authhub/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, email, username, password_hash, profile_image, is_active, is_admin, created_at, updated_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, username, password_hash, profile_image, is_admin)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), arg.Email, arg.Username, arg.HashedPassword, arg.ProfileImage, arg.IsAdmin)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		return user, mapWriteError(err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + ` FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + ` FROM users
ORDER BY created_at DESC, id
OFFSET $1
LIMIT $2
`

func (r *UserRepo) ListUsers(ctx context.Context, offset int, limit int) ([]models.User, error) {
	rows, _ := r.DB.Query(ctx, listUsers, offset, limit)
	users, err := pgx.CollectRows(rows, rowToUser)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return users, nil
}

// COALESCE keeps the current value for parameters passed as NULL
// profile_image uses explicit flag cause NULL is the valid value to set
const updateUser = `-- name: UpdateUser
UPDATE users SET
	username      = COALESCE($2, username),
	password_hash = COALESCE($3, password_hash),
	profile_image = CASE WHEN $4::boolean THEN $5 ELSE profile_image END,
	is_active     = COALESCE($6, is_active),
	is_admin      = COALESCE($7, is_admin),
	updated_at    = now()
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) UpdateUser(ctx context.Context, id uuid.UUID, arg repository.UpdateUserParams) (models.User, error) {
	setImage := arg.ProfileImage != nil
	var image *string
	if setImage && *arg.ProfileImage != "" {
		image = arg.ProfileImage
	}

	rows, _ := r.DB.Query(ctx, updateUser, id, arg.Username, arg.HashedPassword, setImage, image, arg.IsActive, arg.IsAdmin)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, mapWriteError(err)
	}
}

const deleteUser = `-- name: DeleteUser
DELETE FROM users
WHERE id = $1
`

func (r *UserRepo) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, deleteUser, id)
	if err != nil {
		return mapWriteError(err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}

	return nil
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

// Translate constraint violations to well known errors
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return apperrors.ErrDuplicateIdentity
		case pgerrcode.ForeignKeyViolation, pgerrcode.RestrictViolation:
			return fmt.Errorf("%w: %s", apperrors.ErrHasDependents, pgErr.ConstraintName)
		}
	}

	return fmt.Errorf("db error: %w", err)
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.HashedPassword, &u.ProfileImage, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
