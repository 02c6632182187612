package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// WithTx runs fn inside a transaction that is always rolled back, so tests never see each other's rows
func WithTx(db beginner, t *testing.T, fn func(tx pgx.Tx)) {
	tx, err := db.Begin(t.Context())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, tx.Rollback(context.Background()))
	}()

	fn(tx)
}

// CreateUser inserts an active user directly. Password hash is fake, so such user can't log in
func CreateUser(t *testing.T, tx pgx.Tx, email string, username string, isAdmin bool) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := tx.QueryRow(t.Context(),
		`INSERT INTO users (id, email, username, password_hash, is_admin) VALUES ($1, $2, $3, 'not-a-real-hash', $4) RETURNING id`,
		uuid.New(), email, username, isAdmin,
	).Scan(&id)
	require.NoError(t, err, "user %s not created", email)

	return id
}

// SetCreatedAt overrides creation time. now() is the same for the whole transaction, so listing order needs it
func SetCreatedAt(t *testing.T, tx pgx.Tx, id uuid.UUID, at time.Time) {
	t.Helper()

	tag, err := tx.Exec(t.Context(), `UPDATE users SET created_at = $2 WHERE id = $1`, id, at)
	require.NoError(t, err)
	require.EqualValues(t, 1, tag.RowsAffected(), "user %s not found", id)
}
