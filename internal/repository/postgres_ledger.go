package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the scan helpers
// are shared between the read repositories and the ledger transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresLedger struct {
	db *pgxpool.Pool
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{
		db: db,
	}
}

func (l *PostgresLedger) RunInTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return runInTx(ctx, l.db, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// ledgerTx implements domain.LedgerTx. Its methods live next to the
// repository of the table they write.
type ledgerTx struct {
	tx pgx.Tx
}

func runInTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	var txOptions pgx.TxOptions

	tx, err := db.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		return tx.Commit(ctx)
	}

	rollbackErr := tx.Rollback(ctx)
	if rollbackErr != nil {
		return errors.Join(err, rollbackErr)
	}

	return err
}

var _ domain.Ledger = (*PostgresLedger)(nil)
var _ domain.LedgerTx = (*ledgerTx)(nil)
