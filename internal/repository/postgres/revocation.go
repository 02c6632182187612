package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type RevocationRepo struct {
	DB DBTX
}

// xmax is zero only for freshly inserted tuples, so it tells whether the entry was created by this call
// Stored expiry is never moved backwards
const revokeToken = `-- name: RevokeToken
INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
VALUES ($1, $2, now())
ON CONFLICT (jti) DO UPDATE
SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
RETURNING (xmax = 0) AS created
`

func (r *RevocationRepo) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	rows, _ := r.DB.Query(ctx, revokeToken, tokenID, expiresAt)
	created, err := pgx.CollectOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

const isRevoked = `-- name: IsRevoked
SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)
`

func (r *RevocationRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	rows, _ := r.DB.Query(ctx, isRevoked, tokenID)
	revoked, err := pgx.CollectOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return revoked, nil
}

const deleteExpired = `-- name: DeleteExpiredRevocations
DELETE FROM revoked_tokens
WHERE expires_at < $1
`

func (r *RevocationRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected(), nil
}
