package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	id, user_id, item_kind, item_id, owner_id, amount, currency,
	external_id, payment_ref, subscription_ref, status, refunded_amount,
	affiliate_code, referrer_id, affiliate_rate, attributed_at,
	failure_reason, created_at, updated_at, completed_at, refunded_at`

type PostgresPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPostgresPaymentRepository(db *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{
		db: db,
	}
}

func (p *PostgresPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id,
			user_id,
			item_kind,
			item_id,
			owner_id,
			amount,
			currency,
			status,
			affiliate_code,
			referrer_id,
			affiliate_rate,
			attributed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	var (
		code         *string
		referrerID   *int
		rate         decimal.NullDecimal
		attributedAt *time.Time
	)

	if a := payment.Attribution; a != nil {
		code = &a.Code
		referrerID = &a.ReferrerID
		rate = decimal.NewNullDecimal(a.Rate)
		attributedAt = &a.AttributedAt
	}

	err := p.db.QueryRow(
		ctx,
		query,
		payment.ID,
		payment.UserID,
		payment.Item.Kind,
		payment.Item.ID,
		payment.OwnerID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		code,
		referrerID,
		rate,
		attributedAt,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)

	return err
}

func (p *PostgresPaymentRepository) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	query := `
		UPDATE payments
		SET external_id = $2, updated_at = NOW()
		WHERE id = $1 AND (external_id IS NULL OR external_id = $2)
	`

	tag, err := p.db.Exec(ctx, query, id, externalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrStoreConflict
		}

		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrStoreConflict
	}

	return nil
}

func (p *PostgresPaymentRepository) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE payments
		SET status = 'canceled', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	_, err := p.db.Exec(ctx, query, id, reason)
	return err
}

func (p *PostgresPaymentRepository) GetById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return getPayment(ctx, p.db, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (p *PostgresPaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return getPayment(ctx, p.db, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID)
}

func (p *PostgresPaymentRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Payment, error) {
	return getPayment(ctx, p.db, `SELECT `+paymentColumns+` FROM payments WHERE payment_ref = $1`, paymentRef)
}

func (t *ledgerTx) TransitionPayment(
	ctx context.Context,
	id uuid.UUID,
	from domain.PaymentStatus,
	c domain.Completion) (*domain.Payment, error) {

	query := `
		UPDATE payments
		SET status = $3,
			external_id = COALESCE(external_id, NULLIF($4, '')),
			payment_ref = COALESCE(NULLIF($5, ''), payment_ref),
			subscription_ref = COALESCE(NULLIF($6, ''), subscription_ref),
			failure_reason = NULLIF($7, ''),
			completed_at = CASE WHEN $3 = 'completed' THEN $8 ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + paymentColumns

	payment, err := getPayment(
		ctx,
		t.tx,
		query,
		id,
		from,
		c.To,
		c.ExternalID,
		c.PaymentRef,
		c.SubscriptionRef,
		c.FailureReason,
		c.At,
	)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrStoreConflict
	}

	return payment, err
}

func (t *ledgerTx) RecordRefund(ctx context.Context, id uuid.UUID, r domain.Refund) (*domain.Payment, error) {
	query := `
		UPDATE payments
		SET refunded_amount = $3,
			status = CASE WHEN $4::boolean THEN 'refunded' ELSE status END,
			refunded_at = CASE WHEN $4::boolean THEN $5 ELSE refunded_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'completed' AND refunded_amount = $2
		RETURNING ` + paymentColumns

	payment, err := getPayment(ctx, t.tx, query, id, r.PreviousAmount, r.NewAmount, r.Full, r.At)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, domain.ErrStoreConflict
	}

	return payment, err
}

func (t *ledgerTx) FindCompletedPayment(
	ctx context.Context,
	userID int,
	item domain.ItemRef,
	exclude uuid.UUID) (*domain.Payment, error) {

	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1 AND item_kind = $2 AND item_id = $3
			AND status = 'completed' AND id <> $4
		ORDER BY completed_at, id
		LIMIT 1
		FOR UPDATE`

	return getPayment(ctx, t.tx, query, userID, item.Kind, item.ID, exclude)
}

func getPayment(ctx context.Context, q querier, query string, args ...any) (*domain.Payment, error) {
	payment, err := scanPayment(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	return payment, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		payment      domain.Payment
		code         *string
		referrerID   *int
		rate         decimal.NullDecimal
		attributedAt *time.Time
	)

	err := row.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.Item.Kind,
		&payment.Item.ID,
		&payment.OwnerID,
		&payment.Amount,
		&payment.Currency,
		&payment.ExternalID,
		&payment.PaymentRef,
		&payment.SubscriptionRef,
		&payment.Status,
		&payment.RefundedAmount,
		&code,
		&referrerID,
		&rate,
		&attributedAt,
		&payment.FailureReason,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&payment.CompletedAt,
		&payment.RefundedAt,
	)
	if err != nil {
		return nil, err
	}

	if code != nil && referrerID != nil && rate.Valid && attributedAt != nil {
		payment.Attribution = &domain.Attribution{
			Code:         *code,
			ReferrerID:   *referrerID,
			OwnerID:      payment.OwnerID,
			Rate:         rate.Decimal,
			AttributedAt: *attributedAt,
		}
	}

	return &payment, nil
}
