package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/metinatakli/coursehub/internal/domain"
)

// grant writes the access a completed payment buys. Every write is an upsert
// keyed on (user, item) so a replayed grant changes nothing.
func (s *Service) grant(ctx context.Context, tx domain.LedgerTx, payment *domain.Payment, item *domain.CatalogItem) error {
	tier := item.GrantedTier()
	now := s.now()

	err := tx.UpsertEntitlement(ctx, &domain.Entitlement{
		UserID:          payment.UserID,
		Item:            payment.Item,
		Tier:            tier,
		SourcePaymentID: payment.ID,
		GrantedAt:       now,
	})
	if err != nil {
		return fmt.Errorf("upserting entitlement: %w", err)
	}

	err = tx.GrantAccess(ctx, domain.AccessGrant{Item: payment.Item, UserID: payment.UserID, Tier: tier})
	if err != nil {
		return fmt.Errorf("granting access: %w", err)
	}

	if payment.Item.Kind == domain.ItemKindCourse || payment.SubscriptionRef == nil {
		return nil
	}

	err = tx.UpsertSubscription(ctx, &domain.Subscription{
		UserID:          payment.UserID,
		Item:            payment.Item,
		ExternalID:      *payment.SubscriptionRef,
		Tier:            tier,
		EffectiveTier:   tier,
		Status:          domain.SubscriptionActive,
		SourcePaymentID: payment.ID,
		SyncedAt:        now,
	})
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", err)
	}

	return nil
}

// revoke undoes grant for a fully reversed payment. When another completed
// payment of the same user still covers the item, the grant moves to it and
// access is kept. A subscription bought by the payment is canceled locally;
// the processor cancels its own side.
func (s *Service) revoke(ctx context.Context, tx domain.LedgerTx, payment *domain.Payment) (int, error) {
	now := s.now()

	var revoked []domain.Entitlement

	successor, err := tx.FindCompletedPayment(ctx, payment.UserID, payment.Item, payment.ID)
	switch {
	case err == nil:
		moved, err := tx.TransferEntitlements(ctx, payment.ID, successor.ID)
		if err != nil {
			return 0, fmt.Errorf("transferring entitlements: %w", err)
		}

		s.logger.Info("entitlement kept by another payment",
			"payment_id", payment.ID, "successor_id", successor.ID, "moved", moved)
	case errors.Is(err, domain.ErrRecordNotFound):
		revoked, err = tx.RevokeEntitlements(ctx, payment.ID, now)
		if err != nil {
			return 0, fmt.Errorf("revoking entitlements: %w", err)
		}

		for _, e := range revoked {
			err = tx.RevokeAccess(ctx, domain.AccessGrant{Item: e.Item, UserID: e.UserID, Tier: e.Tier})
			if err != nil {
				return 0, fmt.Errorf("revoking access: %w", err)
			}
		}
	default:
		return 0, fmt.Errorf("looking up covering payment: %w", err)
	}

	if payment.SubscriptionRef == nil {
		return len(revoked), nil
	}

	sub, err := tx.GetSubscriptionForUpdate(ctx, *payment.SubscriptionRef)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return len(revoked), nil
		}

		return 0, fmt.Errorf("loading subscription: %w", err)
	}

	if sub.Status.Terminal() {
		return len(revoked), nil
	}

	sub.Status = domain.SubscriptionCanceled
	sub.EffectiveTier = domain.TierFree
	sub.SyncedAt = now

	err = tx.UpsertSubscription(ctx, sub)
	if err != nil {
		return 0, fmt.Errorf("canceling subscription: %w", err)
	}

	return len(revoked), nil
}
