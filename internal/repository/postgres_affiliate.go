package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

const ledgerEntryColumns = `id, referrer_id, payment_id, kind, amount, currency, rate, status, created_at, updated_at`

type PostgresAffiliateRepository struct {
	db *pgxpool.Pool
}

func NewPostgresAffiliateRepository(db *pgxpool.Pool) *PostgresAffiliateRepository {
	return &PostgresAffiliateRepository{
		db: db,
	}
}

func (p *PostgresAffiliateRepository) GetByCode(ctx context.Context, code string) (*domain.Affiliate, error) {
	query := `SELECT code, referrer_id, owner_id, active FROM affiliates WHERE code = $1`

	var affiliate domain.Affiliate

	err := p.db.QueryRow(ctx, query, code).Scan(
		&affiliate.Code,
		&affiliate.ReferrerID,
		&affiliate.OwnerID,
		&affiliate.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	return &affiliate, nil
}

func (p *PostgresAffiliateRepository) GetBalance(
	ctx context.Context,
	referrerID int,
	currency string) (*domain.ReferrerBalance, error) {

	query := `
		SELECT referrer_id, currency, pending, paid
		FROM affiliate_balances
		WHERE referrer_id = $1 AND currency = $2
	`

	var balance domain.ReferrerBalance

	err := p.db.QueryRow(ctx, query, referrerID, currency).Scan(
		&balance.ReferrerID,
		&balance.Currency,
		&balance.Pending,
		&balance.Paid,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.ReferrerBalance{ReferrerID: referrerID, Currency: currency}, nil
		}

		return nil, err
	}

	return &balance, nil
}

func (p *PostgresAffiliateRepository) ListEntriesByPayment(
	ctx context.Context,
	paymentID uuid.UUID) ([]domain.AffiliateLedgerEntry, error) {

	query := `SELECT ` + ledgerEntryColumns + ` FROM affiliate_ledger WHERE payment_id = $1 ORDER BY id`

	return queryLedgerEntries(ctx, p.db, query, paymentID)
}

func (t *ledgerTx) InsertCommission(ctx context.Context, e *domain.AffiliateLedgerEntry) (bool, error) {
	query := `
		INSERT INTO affiliate_ledger (referrer_id, payment_id, kind, amount, currency, rate, status, created_at, updated_at)
		VALUES ($1, $2, 'commission', $3, $4, $5, $6, $7, $7)
		ON CONFLICT (payment_id) WHERE kind = 'commission' DO NOTHING
		RETURNING id
	`

	err := t.tx.QueryRow(
		ctx,
		query,
		e.ReferrerID,
		e.PaymentID,
		e.Amount,
		e.Currency,
		e.Rate,
		e.Status,
		e.CreatedAt,
	).Scan(&e.ID)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, err
	}

	e.Kind = domain.LedgerEntryCommission
	e.UpdatedAt = e.CreatedAt

	return true, nil
}

func (t *ledgerTx) InsertClawback(ctx context.Context, e *domain.AffiliateLedgerEntry) error {
	query := `
		INSERT INTO affiliate_ledger (referrer_id, payment_id, kind, amount, currency, rate, status, created_at, updated_at)
		VALUES ($1, $2, 'clawback', $3, $4, $5, $6, $7, $7)
		RETURNING id
	`

	e.Kind = domain.LedgerEntryClawback
	e.UpdatedAt = e.CreatedAt

	return t.tx.QueryRow(
		ctx,
		query,
		e.ReferrerID,
		e.PaymentID,
		e.Amount,
		e.Currency,
		e.Rate,
		e.Status,
		e.CreatedAt,
	).Scan(&e.ID)
}

func (t *ledgerTx) ListEntriesByPayment(
	ctx context.Context,
	paymentID uuid.UUID) ([]domain.AffiliateLedgerEntry, error) {

	query := `SELECT ` + ledgerEntryColumns + ` FROM affiliate_ledger WHERE payment_id = $1 ORDER BY id FOR UPDATE`

	return queryLedgerEntries(ctx, t.tx, query, paymentID)
}

func (t *ledgerTx) ListPayableEntries(ctx context.Context, referrerID int) ([]domain.AffiliateLedgerEntry, error) {
	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM affiliate_ledger
		WHERE referrer_id = $1
			AND ((kind = 'commission' AND status = 'confirmed') OR (kind = 'clawback' AND status = 'pending'))
		ORDER BY id
		FOR UPDATE
	`

	return queryLedgerEntries(ctx, t.tx, query, referrerID)
}

func (t *ledgerTx) SetEntryStatus(
	ctx context.Context,
	ids []int,
	status domain.LedgerEntryStatus,
	at time.Time) error {

	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE affiliate_ledger SET status = $2, updated_at = $3 WHERE id = ANY($1)`

	_, err := t.tx.Exec(ctx, query, ids, status, at)
	return err
}

func (t *ledgerTx) ConfirmMaturedEntries(ctx context.Context, createdBefore time.Time) (int, error) {
	query := `
		UPDATE affiliate_ledger
		SET status = 'confirmed', updated_at = NOW()
		WHERE kind = 'commission' AND status = 'pending' AND created_at < $1
	`

	tag, err := t.tx.Exec(ctx, query, createdBefore)
	if err != nil {
		return 0, err
	}

	return int(tag.RowsAffected()), nil
}

func (t *ledgerTx) AdjustReferrerBalance(
	ctx context.Context,
	referrerID int,
	currency string,
	pendingDelta, paidDelta int64) error {

	query := `
		INSERT INTO affiliate_balances (referrer_id, currency, pending, paid)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (referrer_id, currency) DO UPDATE
		SET pending = affiliate_balances.pending + EXCLUDED.pending,
			paid = affiliate_balances.paid + EXCLUDED.paid
	`

	_, err := t.tx.Exec(ctx, query, referrerID, currency, pendingDelta, paidDelta)
	return err
}

func queryLedgerEntries(ctx context.Context, q querier, query string, args ...any) ([]domain.AffiliateLedgerEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AffiliateLedgerEntry, 0)

	for rows.Next() {
		var e domain.AffiliateLedgerEntry

		err := rows.Scan(
			&e.ID,
			&e.ReferrerID,
			&e.PaymentID,
			&e.Kind,
			&e.Amount,
			&e.Currency,
			&e.Rate,
			&e.Status,
			&e.CreatedAt,
			&e.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
