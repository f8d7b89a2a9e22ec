package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/praxis/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the repositories care about
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgRaiseException      = "P0001"
)

// MapPostgresError translates driver errors into model sentinels. Unique
// violations keep the constraint name so callers can tell which column clashed.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation, pgNotNullViolation:
			return models.ErrBadRequest
		case pgRaiseException:
			// Raised by the append-only audit trigger
			return models.ErrForbidden
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction, committing when it returns nil
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
