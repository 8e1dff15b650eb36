package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metinatakli/coursehub/internal/domain"
)

// SyncSubscription re-reads a subscription from the processor and mirrors it
// locally. Because every signal triggers a fresh read, the order in which
// subscription events arrive does not matter.
func (s *Service) SyncSubscription(ctx context.Context, externalID string) (Outcome, error) {
	logger := s.logger.With("subscription_ref", externalID)

	local, err := s.subscriptions.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			logger.Warn("subscription event for untracked subscription")
			return OutcomeUnknownTransaction, domain.ErrUnknownTransaction
		}

		return OutcomeError, fmt.Errorf("loading subscription: %w", err)
	}

	if local.Status.Terminal() {
		return OutcomeAlreadySettled, domain.ErrAlreadySettled
	}

	remote, err := s.processor.GetSubscription(ctx, externalID)
	if err != nil {
		return OutcomeError, fmt.Errorf("fetching subscription: %w", err)
	}

	err = s.mirror(ctx, remote)
	if err != nil {
		outcome := OutcomeOf(err)
		if outcome == OutcomeError {
			logger.Error("failed to mirror subscription", "error", err)
		}

		return outcome, err
	}

	return OutcomeSynced, nil
}

type tierChange int

const (
	tierUnchanged tierChange = iota
	tierDemoted
	tierRestored
	tierRevoked
)

// mirror overwrites the local record with the processor's view and moves the
// access lists to the resulting effective tier, all in one transaction.
func (s *Service) mirror(ctx context.Context, remote *domain.ProcessorSubscription) error {
	var change tierChange
	var sub *domain.Subscription

	err := s.ledger.RunInTx(ctx, func(tx domain.LedgerTx) error {
		var err error

		sub, err = tx.GetSubscriptionForUpdate(ctx, remote.ExternalID)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return domain.ErrUnknownTransaction
			}

			return err
		}

		if sub.Status.Terminal() {
			return domain.ErrAlreadySettled
		}

		change = s.apply(sub, remote, s.now())

		err = s.applyAccess(ctx, tx, sub, change)
		if err != nil {
			return err
		}

		return tx.UpsertSubscription(ctx, sub)
	})
	if err != nil {
		return err
	}

	logger := s.logger.With("subscription_ref", sub.ExternalID, "user_id", sub.UserID, "status", sub.Status)

	switch change {
	case tierDemoted:
		logger.Info("subscription lapsed past grace period, demoted to free tier")
		s.metrics.tierChanged(ctx, "demoted")
	case tierRestored:
		logger.Info("subscription restored", "tier", sub.Tier)
		s.metrics.tierChanged(ctx, "restored")
	case tierRevoked:
		logger.Info("subscription canceled, access revoked")
		s.metrics.tierChanged(ctx, "revoked")
	}

	return nil
}

// apply folds the processor view into sub and returns how the effective
// tier moved.
func (s *Service) apply(sub *domain.Subscription, remote *domain.ProcessorSubscription, now time.Time) tierChange {
	previous := sub.EffectiveTier

	sub.Status = remote.Status
	sub.CurrentPeriodStart = remote.CurrentPeriodStart
	sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	sub.SyncedAt = now

	switch {
	case remote.Status.Paying():
		sub.PastDueSince = nil
		sub.EffectiveTier = sub.Tier

	case remote.Status.Terminal():
		sub.EffectiveTier = domain.TierFree
		return tierRevoked

	default:
		if sub.PastDueSince == nil {
			since := now
			sub.PastDueSince = &since
		}

		if now.Sub(*sub.PastDueSince) > s.cfg.GracePeriod {
			sub.EffectiveTier = domain.TierFree
		}
	}

	switch {
	case previous == sub.EffectiveTier:
		return tierUnchanged
	case sub.EffectiveTier == domain.TierFree:
		return tierDemoted
	default:
		return tierRestored
	}
}

func (s *Service) applyAccess(ctx context.Context, tx domain.LedgerTx, sub *domain.Subscription, change tierChange) error {
	switch change {
	case tierDemoted, tierRestored:
		return tx.GrantAccess(ctx, domain.AccessGrant{Item: sub.Item, UserID: sub.UserID, Tier: sub.EffectiveTier})

	case tierRevoked:
		revoked, err := tx.RevokeEntitlements(ctx, sub.SourcePaymentID, s.now())
		if err != nil {
			return fmt.Errorf("revoking entitlements: %w", err)
		}

		for _, e := range revoked {
			err = tx.RevokeAccess(ctx, domain.AccessGrant{Item: e.Item, UserID: e.UserID, Tier: e.Tier})
			if err != nil {
				return fmt.Errorf("revoking access: %w", err)
			}
		}
	}

	return nil
}

type SweepResult struct {
	Synced int
	Failed int
}

// SweepSubscriptions re-syncs every non-terminal subscription, oldest sync
// first. When the processor cannot be reached the local status is re-applied
// so the grace period still expires without any incoming event.
func (s *Service) SweepSubscriptions(ctx context.Context) (*SweepResult, error) {
	subs, err := s.subscriptions.ListNonTerminal(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}

	result := &SweepResult{}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		remote, err := s.processor.GetSubscription(ctx, sub.ExternalID)
		if err != nil {
			s.logger.Warn("subscription fetch failed during sweep, applying local status",
				"subscription_ref", sub.ExternalID, "error", err)

			remote = &domain.ProcessorSubscription{
				ExternalID:         sub.ExternalID,
				Status:             sub.Status,
				CurrentPeriodStart: sub.CurrentPeriodStart,
				CurrentPeriodEnd:   sub.CurrentPeriodEnd,
				CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			}
		}

		err = s.mirror(ctx, remote)
		if err != nil && !settledNoop(err) {
			s.logger.Error("failed to sync subscription", "subscription_ref", sub.ExternalID, "error", err)
			result.Failed++
			continue
		}

		result.Synced++
	}

	return result, nil
}
