package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/metinatakli/coursehub/internal/domain"
)

// RebuildRevenue recomputes an owner's aggregates from the payments table,
// discarding whatever the incremental updates had accumulated.
func (s *Service) RebuildRevenue(ctx context.Context, ownerID int) error {
	err := s.ledger.RunInTx(ctx, func(tx domain.LedgerTx) error {
		return tx.RebuildRevenue(ctx, ownerID)
	})
	if err != nil {
		return fmt.Errorf("rebuilding revenue for owner %d: %w", ownerID, err)
	}

	s.logger.Info("revenue aggregates rebuilt", "owner_id", ownerID)

	return nil
}

// Revenue reads one aggregate bucket; an empty bucket means the running total.
func (s *Service) Revenue(ctx context.Context, ownerID int, currency, bucket string) (*domain.RevenueAggregate, error) {
	if bucket == "" {
		bucket = domain.RevenueBucketTotal
	}

	return s.revenue.Get(ctx, ownerID, strings.ToUpper(currency), bucket)
}

func (s *Service) Entitlements(ctx context.Context, userID int) ([]domain.Entitlement, error) {
	return s.entitlements.ListActiveByUser(ctx, userID)
}
