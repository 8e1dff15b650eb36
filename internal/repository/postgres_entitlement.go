package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

const entitlementColumns = `id, user_id, item_kind, item_id, tier, source_payment_id, granted_at, revoked_at`

type PostgresEntitlementRepository struct {
	db *pgxpool.Pool
}

func NewPostgresEntitlementRepository(db *pgxpool.Pool) *PostgresEntitlementRepository {
	return &PostgresEntitlementRepository{
		db: db,
	}
}

func (p *PostgresEntitlementRepository) ListActiveByUser(ctx context.Context, userID int) ([]domain.Entitlement, error) {
	query := `
		SELECT ` + entitlementColumns + `
		FROM entitlements
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY granted_at DESC
	`

	return queryEntitlements(ctx, p.db, query, userID)
}

func (p *PostgresEntitlementRepository) HasActive(ctx context.Context, userID int, item domain.ItemRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM entitlements
			WHERE user_id = $1 AND item_kind = $2 AND item_id = $3 AND revoked_at IS NULL
		)
	`

	var exists bool
	err := p.db.QueryRow(ctx, query, userID, item.Kind, item.ID).Scan(&exists)

	return exists, err
}

// UpsertEntitlement re-activates a revoked grant but never steals an active
// grant that came from a different payment.
func (t *ledgerTx) UpsertEntitlement(ctx context.Context, e *domain.Entitlement) error {
	query := `
		INSERT INTO entitlements (user_id, item_kind, item_id, tier, source_payment_id, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, item_kind, item_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			source_payment_id = EXCLUDED.source_payment_id,
			granted_at = EXCLUDED.granted_at,
			revoked_at = NULL
		WHERE entitlements.revoked_at IS NOT NULL
			OR entitlements.source_payment_id = EXCLUDED.source_payment_id
		RETURNING id
	`

	err := t.tx.QueryRow(
		ctx,
		query,
		e.UserID,
		e.Item.Kind,
		e.Item.ID,
		e.Tier,
		e.SourcePaymentID,
		e.GrantedAt,
	).Scan(&e.ID)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}

	return err
}

func (t *ledgerTx) RevokeEntitlements(ctx context.Context, paymentID uuid.UUID, at time.Time) ([]domain.Entitlement, error) {
	query := `
		UPDATE entitlements
		SET revoked_at = $2
		WHERE source_payment_id = $1 AND revoked_at IS NULL
		RETURNING ` + entitlementColumns

	return queryEntitlements(ctx, t.tx, query, paymentID, at)
}

func (t *ledgerTx) TransferEntitlements(ctx context.Context, from, to uuid.UUID) (int, error) {
	query := `
		UPDATE entitlements
		SET source_payment_id = $2
		WHERE source_payment_id = $1 AND revoked_at IS NULL
	`

	tag, err := t.tx.Exec(ctx, query, from, to)
	if err != nil {
		return 0, err
	}

	return int(tag.RowsAffected()), nil
}

func (t *ledgerTx) GrantAccess(ctx context.Context, g domain.AccessGrant) error {
	switch g.Item.Kind {
	case domain.ItemKindCourse:
		query := `
			INSERT INTO course_rosters (course_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`
		_, err := t.tx.Exec(ctx, query, g.Item.ID, g.UserID)
		return err
	case domain.ItemKindCommunity:
		query := `
			INSERT INTO community_members (community_id, user_id, tier)
			VALUES ($1, $2, $3)
			ON CONFLICT (community_id, user_id) DO UPDATE
			SET tier = EXCLUDED.tier, updated_at = NOW()
		`
		_, err := t.tx.Exec(ctx, query, g.Item.ID, g.UserID, g.Tier)
		return err
	case domain.ItemKindPlatform:
		query := `
			INSERT INTO user_tiers (user_id, tier)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET tier = EXCLUDED.tier, updated_at = NOW()
		`
		_, err := t.tx.Exec(ctx, query, g.UserID, g.Tier)
		return err
	}

	return fmt.Errorf("unsupported item kind %q", g.Item.Kind)
}

func (t *ledgerTx) RevokeAccess(ctx context.Context, g domain.AccessGrant) error {
	switch g.Item.Kind {
	case domain.ItemKindCourse:
		_, err := t.tx.Exec(ctx, `DELETE FROM course_rosters WHERE course_id = $1 AND user_id = $2`, g.Item.ID, g.UserID)
		return err
	case domain.ItemKindCommunity:
		_, err := t.tx.Exec(ctx, `DELETE FROM community_members WHERE community_id = $1 AND user_id = $2`, g.Item.ID, g.UserID)
		return err
	case domain.ItemKindPlatform:
		query := `UPDATE user_tiers SET tier = $2, updated_at = NOW() WHERE user_id = $1`
		_, err := t.tx.Exec(ctx, query, g.UserID, domain.TierFree)
		return err
	}

	return fmt.Errorf("unsupported item kind %q", g.Item.Kind)
}

func queryEntitlements(ctx context.Context, q querier, query string, args ...any) ([]domain.Entitlement, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entitlements := make([]domain.Entitlement, 0)

	for rows.Next() {
		var e domain.Entitlement

		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Item.Kind,
			&e.Item.ID,
			&e.Tier,
			&e.SourcePaymentID,
			&e.GrantedAt,
			&e.RevokedAt,
		)
		if err != nil {
			return nil, err
		}

		entitlements = append(entitlements, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entitlements, nil
}
