package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/metinatakli/coursehub/internal/domain"
)

const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
)

type VerifyResult struct {
	Payment      *domain.Payment
	Entitlements []domain.Entitlement
}

// Verify is the client path: after the redirect back from the hosted page the
// client asks for the outcome, and the processor's answer is reconciled
// exactly like a webhook would be.
func (s *Service) Verify(ctx context.Context, userID int, sessionID string) (*VerifyResult, error) {
	payment, err := s.payments.GetByExternalID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}

		return nil, fmt.Errorf("loading payment: %w", err)
	}

	if payment.UserID != userID {
		return nil, domain.ErrPaymentNotFound
	}

	if payment.Status == domain.PaymentStatusPending {
		tx, err := s.processor.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("fetching checkout session: %w", err)
		}

		_, err = s.settle(ctx, payment, tx, SourceVerify)
		if err != nil && !settledNoop(err) {
			return nil, err
		}

		payment, err = s.payments.GetById(ctx, payment.ID)
		if err != nil {
			return nil, fmt.Errorf("reloading payment: %w", err)
		}
	}

	entitlements, err := s.entitlements.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing entitlements: %w", err)
	}

	granted := make([]domain.Entitlement, 0, 1)
	for _, e := range entitlements {
		if e.Item == payment.Item {
			granted = append(granted, e)
		}
	}

	return &VerifyResult{Payment: payment, Entitlements: granted}, nil
}

// settledNoop reports errors that mean another signal got there first, or
// that a conflict was recorded. The verify caller still reads back the
// current state.
func settledNoop(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindAlreadySettled, domain.KindStoreConflict, domain.KindConflict:
		return true
	}

	return false
}

// HandleEvent applies a verified processor event. No-op outcomes such as a
// duplicate delivery come back as errors of kind AlreadySettled or
// UnknownTransaction; callers acknowledge those.
func (s *Service) HandleEvent(ctx context.Context, ev *domain.ProcessorEvent) (Outcome, error) {
	switch ev.Type {
	case domain.EventCheckoutSettled:
		return s.reconcileCheckout(ctx, ev)
	case domain.EventRefund, domain.EventChargeback:
		return s.ApplyRefund(ctx, ev)
	case domain.EventSubscriptionChanged:
		return s.SyncSubscription(ctx, ev.SubscriptionRef)
	default:
		return OutcomeIgnored, nil
	}
}

func (s *Service) reconcileCheckout(ctx context.Context, ev *domain.ProcessorEvent) (Outcome, error) {
	tx := ev.Transaction
	if tx == nil {
		return OutcomeIgnored, nil
	}

	logger := s.logger.With("external_id", tx.ExternalID, "event_id", ev.ID)

	payment, err := s.lookupAttempt(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransaction) {
			logger.Warn("checkout event for untracked transaction")
			s.metrics.reconciled(ctx, SourceWebhook, OutcomeUnknownTransaction)
		}

		return OutcomeOf(err), err
	}

	return s.settle(ctx, payment, tx, SourceWebhook)
}

// lookupAttempt finds the payment a processor transaction belongs to. The
// attempt id carried in the session covers the window between session
// creation and recording its id locally.
func (s *Service) lookupAttempt(ctx context.Context, tx *domain.ProcessorTransaction) (*domain.Payment, error) {
	payment, err := s.payments.GetByExternalID(ctx, tx.ExternalID)
	if err == nil {
		return payment, nil
	}

	if !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading payment: %w", err)
	}

	if tx.AttemptID == nil {
		return nil, domain.ErrUnknownTransaction
	}

	payment, err = s.payments.GetById(ctx, *tx.AttemptID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrUnknownTransaction
		}

		return nil, fmt.Errorf("loading payment: %w", err)
	}

	if payment.ExternalID != nil && *payment.ExternalID != tx.ExternalID {
		return nil, domain.ErrUnknownTransaction
	}

	return payment, nil
}

// settle merges one processor report into the ledger. Only the caller whose
// conditional transition succeeds writes the fan-out, and it does so in the
// same transaction.
func (s *Service) settle(
	ctx context.Context,
	payment *domain.Payment,
	tx *domain.ProcessorTransaction,
	source string) (Outcome, error) {

	logger := s.logger.With("attempt_id", payment.ID, "external_id", tx.ExternalID, "source", source)

	outcome, err := s.transition(ctx, payment, tx, logger)

	if err != nil {
		outcome = OutcomeOf(err)

		switch outcome {
		case OutcomeAlreadySettled:
			logger.Info("transaction already settled")
		case OutcomeAmountMismatch:
			logger.Warn("processor amount does not match payment",
				"amount", payment.Amount,
				"currency", payment.Currency,
				"reported_amount", tx.Amount,
				"reported_currency", tx.Currency,
			)
		default:
			logger.Error("failed to settle transaction", "error", err)
		}
	}

	s.metrics.reconciled(ctx, source, outcome)

	return outcome, err
}

func (s *Service) transition(
	ctx context.Context,
	payment *domain.Payment,
	tx *domain.ProcessorTransaction,
	logger *slog.Logger) (Outcome, error) {

	if payment.Status != domain.PaymentStatusPending {
		return OutcomeAlreadySettled, domain.ErrAlreadySettled
	}

	switch tx.State {
	case domain.TransactionOpen:
		return OutcomePending, nil

	case domain.TransactionFailed:
		reason := tx.FailureReason
		if reason == "" {
			reason = "payment failed"
		}

		err := s.ledger.RunInTx(ctx, func(ltx domain.LedgerTx) error {
			_, err := ltx.TransitionPayment(ctx, payment.ID, domain.PaymentStatusPending, domain.Completion{
				To:            domain.PaymentStatusFailed,
				ExternalID:    tx.ExternalID,
				FailureReason: reason,
				At:            s.now(),
			})
			return err
		})
		if err != nil {
			return OutcomeError, asSettled(err)
		}

		logger.Info("payment failed", "reason", reason)

		return OutcomeFailed, nil
	}

	if tx.Amount != payment.Amount || !strings.EqualFold(tx.Currency, payment.Currency) {
		return OutcomeAmountMismatch, domain.ErrAmountMismatch
	}

	item, err := s.catalogItemFor(ctx, payment)
	if err != nil {
		return OutcomeError, err
	}

	var (
		completed *domain.Payment
		credited  bool
	)

	err = s.ledger.RunInTx(ctx, func(ltx domain.LedgerTx) error {
		var err error

		completed, err = ltx.TransitionPayment(ctx, payment.ID, domain.PaymentStatusPending, domain.Completion{
			To:              domain.PaymentStatusCompleted,
			ExternalID:      tx.ExternalID,
			PaymentRef:      tx.PaymentRef,
			SubscriptionRef: tx.SubscriptionRef,
			At:              s.now(),
		})
		if err != nil {
			return err
		}

		err = s.grant(ctx, ltx, completed, item)
		if err != nil {
			return err
		}

		credited, err = s.creditCommission(ctx, ltx, completed, logger)
		if err != nil {
			return err
		}

		return ltx.AdjustRevenue(ctx, domain.RevenueDelta{
			OwnerID:  completed.OwnerID,
			Currency: completed.Currency,
			Gross:    completed.Amount,
			At:       *completed.CompletedAt,
		})
	})
	if err != nil {
		return OutcomeError, asSettled(err)
	}

	logger.Info("payment completed", "item", completed.Item.String(), "amount", completed.Amount, "commission", credited)

	s.metrics.recognized(ctx, completed.Currency, completed.Amount)
	if credited {
		s.metrics.commission(ctx, string(domain.LedgerEntryCommission))
	}

	s.sendReceipt(ctx, completed, item, tx.CustomerEmail)

	return OutcomeCompleted, nil
}

// catalogItemFor reads the purchased item outside the ledger transaction. An
// item removed from the catalog after checkout still grants the default tier.
func (s *Service) catalogItemFor(ctx context.Context, payment *domain.Payment) (*domain.CatalogItem, error) {
	item, err := s.catalog.GetItem(ctx, payment.Item)
	if err == nil {
		return item, nil
	}

	if errors.Is(err, domain.ErrRecordNotFound) {
		return &domain.CatalogItem{Ref: payment.Item, OwnerID: payment.OwnerID, Title: payment.Item.String()}, nil
	}

	return nil, fmt.Errorf("loading catalog item %s: %w", payment.Item, err)
}

// asSettled maps a lost conditional update to AlreadySettled.
func asSettled(err error) error {
	if errors.Is(err, domain.ErrStoreConflict) {
		return domain.ErrAlreadySettled
	}

	return err
}
