package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authhub/internal/repository"
)

// DBTX is what both *pgxpool.Pool and pgx.Tx provide. Begin on pgx.Tx opens a savepoint
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Storage binds users and revocations to one connection, pool or transaction
type Storage struct {
	db          DBTX
	users       *UserRepo
	revocations *RevocationRepo
}

var _ repository.Storage = (*Storage)(nil)

func NewStorage(db DBTX) repository.Storage {
	return &Storage{
		db:          db,
		users:       &UserRepo{DB: db},
		revocations: &RevocationRepo{DB: db},
	}
}

func (s *Storage) User() repository.UserRepo             { return s.users }
func (s *Storage) Revocation() repository.RevocationRepo { return s.revocations }

// InTx commits when fn returns nil and rolls back otherwise, panics included
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transaction not started: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(NewStorage(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transaction not committed: %w", err)
	}
	committed = true

	return nil
}
