package db

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/apod-desktop/apod/pkg/errors"
)

type txKey struct{}

// executor is the query surface shared by *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// exec returns the transaction carried by ctx, or the database itself.
func (r *Repository) exec(ctx context.Context) executor {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return r.db
}

// RunInTransaction runs fn inside a transaction. Repository calls made with
// the context passed to fn join it. A transaction already present in ctx is
// reused and left for the outer caller to commit or roll back.
func (r *Repository) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed_to_rollback_transaction", "error", rbErr)
			return errors.Wrap(err, "rollback failed: "+rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
