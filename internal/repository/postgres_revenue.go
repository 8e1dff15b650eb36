package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

type PostgresRevenueRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRevenueRepository(db *pgxpool.Pool) *PostgresRevenueRepository {
	return &PostgresRevenueRepository{
		db: db,
	}
}

func (p *PostgresRevenueRepository) Get(
	ctx context.Context,
	ownerID int,
	currency, bucket string) (*domain.RevenueAggregate, error) {

	query := `
		SELECT owner_id, currency, bucket, gross, refunded, net
		FROM revenue_aggregates
		WHERE owner_id = $1 AND currency = $2 AND bucket = $3
	`

	var agg domain.RevenueAggregate

	err := p.db.QueryRow(ctx, query, ownerID, currency, bucket).Scan(
		&agg.OwnerID,
		&agg.Currency,
		&agg.Bucket,
		&agg.Gross,
		&agg.Refunded,
		&agg.Net,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.RevenueAggregate{OwnerID: ownerID, Currency: currency, Bucket: bucket}, nil
		}

		return nil, err
	}

	return &agg, nil
}

func (t *ledgerTx) AdjustRevenue(ctx context.Context, d domain.RevenueDelta) error {
	query := `
		INSERT INTO revenue_aggregates (owner_id, currency, bucket, gross, refunded)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, currency, bucket) DO UPDATE
		SET gross = revenue_aggregates.gross + EXCLUDED.gross,
			refunded = revenue_aggregates.refunded + EXCLUDED.refunded
	`

	batch := &pgx.Batch{}
	for _, bucket := range []string{domain.RevenueBucketTotal, domain.RevenueBucket(d.At)} {
		batch.Queue(query, d.OwnerID, d.Currency, bucket, d.Gross, d.Refunded)
	}

	return t.tx.SendBatch(ctx, batch).Close()
}

// RebuildRevenue recomputes an owner's aggregates from the payments table.
// Monthly buckets follow the completion month of each payment.
func (t *ledgerTx) RebuildRevenue(ctx context.Context, ownerID int) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM revenue_aggregates WHERE owner_id = $1`, ownerID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO revenue_aggregates (owner_id, currency, bucket, gross, refunded)
		SELECT owner_id, currency, 'total', SUM(amount), SUM(refunded_amount)
		FROM payments
		WHERE owner_id = $1 AND status IN ('completed', 'refunded')
		GROUP BY owner_id, currency
		UNION ALL
		SELECT owner_id, currency, to_char(completed_at AT TIME ZONE 'UTC', 'YYYY-MM'), SUM(amount), SUM(refunded_amount)
		FROM payments
		WHERE owner_id = $1 AND status IN ('completed', 'refunded')
		GROUP BY owner_id, currency, to_char(completed_at AT TIME ZONE 'UTC', 'YYYY-MM')
	`

	_, err = t.tx.Exec(ctx, query, ownerID)
	return err
}
