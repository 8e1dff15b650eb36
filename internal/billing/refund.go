package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metinatakli/coursehub/internal/domain"
)

// refundAttempts bounds how often a refund is re-evaluated after losing a
// conditional update to a concurrent refund of the same payment.
const refundAttempts = 3

// ApplyRefund moves a completed payment's cumulative refunded amount forward
// and reverses revenue, commission and, on a full refund, access. Refund
// signals carry the processor's cumulative total, so duplicates and stale
// deliveries compare at or below the stored amount and change nothing.
func (s *Service) ApplyRefund(ctx context.Context, ev *domain.ProcessorEvent) (Outcome, error) {
	kind := string(ev.Type)
	logger := s.logger.With("event_id", ev.ID, "payment_ref", ev.PaymentRef, "kind", kind)

	var (
		outcome Outcome
		err     error
	)

	for range refundAttempts {
		outcome, err = s.applyRefund(ctx, ev)
		if !errors.Is(err, domain.ErrStoreConflict) {
			break
		}
	}

	if err != nil {
		outcome = OutcomeOf(err)

		switch outcome {
		case OutcomeAlreadySettled:
			logger.Info("refund already applied")
		case OutcomeUnknownTransaction:
			logger.Warn("refund for untracked transaction")
		case OutcomeInvalidTarget, OutcomeAmountMismatch:
			logger.Warn("refund rejected", "error", err)
		default:
			logger.Error("failed to apply refund", "error", err)
		}
	} else {
		logger.Info("refund applied", "outcome", outcome)
	}

	s.metrics.refunded(ctx, kind, outcome)

	return outcome, err
}

func (s *Service) applyRefund(ctx context.Context, ev *domain.ProcessorEvent) (Outcome, error) {
	payment, err := s.lookupRefundTarget(ctx, ev)
	if err != nil {
		return OutcomeError, err
	}

	switch payment.Status {
	case domain.PaymentStatusCompleted:
	case domain.PaymentStatusRefunded:
		return OutcomeAlreadySettled, domain.ErrAlreadySettled
	default:
		return OutcomeInvalidTarget, domain.ErrInvalidRefundTarget
	}

	if ev.Currency != "" && !strings.EqualFold(ev.Currency, payment.Currency) {
		return OutcomeAmountMismatch, domain.ErrAmountMismatch
	}

	refunded := ev.RefundedAmount
	if ev.Type == domain.EventChargeback || refunded > payment.Amount {
		refunded = payment.Amount
	}

	if refunded <= payment.RefundedAmount {
		return OutcomeAlreadySettled, domain.ErrAlreadySettled
	}

	delta := refunded - payment.RefundedAmount
	full := refunded == payment.Amount
	now := s.now()

	completedAt := now
	if payment.CompletedAt != nil {
		completedAt = *payment.CompletedAt
	}

	var clawedBack bool

	err = s.ledger.RunInTx(ctx, func(tx domain.LedgerTx) error {
		updated, err := tx.RecordRefund(ctx, payment.ID, domain.Refund{
			PreviousAmount: payment.RefundedAmount,
			NewAmount:      refunded,
			Full:           full,
			At:             now,
		})
		if err != nil {
			return err
		}

		// Refunds are booked against the month the revenue was recognized in,
		// so a rebuild from payments lands on the same buckets.
		err = tx.AdjustRevenue(ctx, domain.RevenueDelta{
			OwnerID:  updated.OwnerID,
			Currency: updated.Currency,
			Refunded: delta,
			At:       completedAt,
		})
		if err != nil {
			return fmt.Errorf("adjusting revenue: %w", err)
		}

		clawedBack, err = s.reverseCommission(ctx, tx, updated, full)
		if err != nil {
			return err
		}

		if full {
			_, err = s.revoke(ctx, tx, updated)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return OutcomeError, err
	}

	if clawedBack {
		s.metrics.commission(ctx, string(domain.LedgerEntryClawback))
	}

	if full {
		return OutcomeRefunded, nil
	}

	return OutcomePartiallyRefunded, nil
}

func (s *Service) lookupRefundTarget(ctx context.Context, ev *domain.ProcessorEvent) (*domain.Payment, error) {
	var (
		payment *domain.Payment
		err     = domain.ErrRecordNotFound
	)

	if ev.ExternalID != "" {
		payment, err = s.payments.GetByExternalID(ctx, ev.ExternalID)
	}

	if errors.Is(err, domain.ErrRecordNotFound) && ev.PaymentRef != "" {
		payment, err = s.payments.GetByPaymentRef(ctx, ev.PaymentRef)
	}

	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrUnknownTransaction
		}

		return nil, fmt.Errorf("loading payment: %w", err)
	}

	return payment, nil
}
