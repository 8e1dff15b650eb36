package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

const subscriptionColumns = `
	id, user_id, item_kind, item_id, external_id, tier, effective_tier, status,
	current_period_start, current_period_end, cancel_at_period_end, past_due_since,
	source_payment_id, synced_at, created_at, updated_at`

type PostgresSubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSubscriptionRepository(db *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db: db,
	}
}

func (p *PostgresSubscriptionRepository) GetByExternalID(
	ctx context.Context,
	externalID string) (*domain.Subscription, error) {

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_id = $1`

	return getSubscription(ctx, p.db, query, externalID)
}

func (p *PostgresSubscriptionRepository) ListNonTerminal(ctx context.Context, limit int) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status <> 'canceled'
		ORDER BY synced_at ASC
		LIMIT $1
	`

	rows, err := p.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscriptions := make([]domain.Subscription, 0)

	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}

		subscriptions = append(subscriptions, *s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return subscriptions, nil
}

func (t *ledgerTx) GetSubscriptionForUpdate(ctx context.Context, externalID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE external_id = $1 FOR UPDATE`

	return getSubscription(ctx, t.tx, query, externalID)
}

func (t *ledgerTx) UpsertSubscription(ctx context.Context, s *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id,
			item_kind,
			item_id,
			external_id,
			tier,
			effective_tier,
			status,
			current_period_start,
			current_period_end,
			cancel_at_period_end,
			past_due_since,
			source_payment_id,
			synced_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (external_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			effective_tier = EXCLUDED.effective_tier,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			past_due_since = EXCLUDED.past_due_since,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	return t.tx.QueryRow(
		ctx,
		query,
		s.UserID,
		s.Item.Kind,
		s.Item.ID,
		s.ExternalID,
		s.Tier,
		s.EffectiveTier,
		s.Status,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
		s.PastDueSince,
		s.SourcePaymentID,
		s.SyncedAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func getSubscription(ctx context.Context, q querier, query string, args ...any) (*domain.Subscription, error) {
	s, err := scanSubscription(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	return s, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Item.Kind,
		&s.Item.ID,
		&s.ExternalID,
		&s.Tier,
		&s.EffectiveTier,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.PastDueSince,
		&s.SourcePaymentID,
		&s.SyncedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &s, nil
}
