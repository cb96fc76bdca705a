package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Run binds a Queries value to a new transaction and hands it to fn. The transaction
// commits when fn succeeds and rolls back otherwise; fn's error is returned as is so
// callers can still match store sentinels with errors.Is.
func Run[T any](
	ctx context.Context,
	db *sql.DB,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(newQueries(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
