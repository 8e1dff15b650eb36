package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/coursehub/internal/domain"
)

type PostgresCatalogRepository struct {
	db *pgxpool.Pool
}

func NewPostgresCatalogRepository(db *pgxpool.Pool) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{
		db: db,
	}
}

func (p *PostgresCatalogRepository) GetItem(ctx context.Context, ref domain.ItemRef) (*domain.CatalogItem, error) {
	query := `
		SELECT kind, id, owner_id, title, price, currency, purchasable, billing_interval, tier, affiliate_rate
		FROM catalog_items
		WHERE kind = $1 AND id = $2
	`

	var item domain.CatalogItem

	err := p.db.QueryRow(ctx, query, ref.Kind, ref.ID).Scan(
		&item.Ref.Kind,
		&item.Ref.ID,
		&item.OwnerID,
		&item.Title,
		&item.Price,
		&item.Currency,
		&item.Purchasable,
		&item.Interval,
		&item.Tier,
		&item.AffiliateRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}

		return nil, err
	}

	return &item, nil
}
