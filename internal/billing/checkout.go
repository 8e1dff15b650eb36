package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
)

type CheckoutInput struct {
	UserID        int
	Item          domain.ItemRef
	AffiliateCode string
	Currency      string
}

type CheckoutResult struct {
	AttemptID   uuid.UUID
	RedirectURL string
	ExpiresAt   time.Time
}

// StartCheckout records a pending payment and opens a processor session for
// it. The attempt id doubles as the processor idempotency key.
func (s *Service) StartCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	item, err := s.catalog.GetItem(ctx, in.Item)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrItemNotFound
		}

		return nil, fmt.Errorf("loading catalog item %s: %w", in.Item, err)
	}

	if !item.Purchasable {
		return nil, domain.ErrItemNotPurchasable
	}

	if in.Currency != "" && !strings.EqualFold(in.Currency, item.Currency) {
		return nil, domain.ErrCurrencyMismatch
	}

	owned, err := s.entitlements.HasActive(ctx, in.UserID, item.Ref)
	if err != nil {
		return nil, fmt.Errorf("checking entitlement: %w", err)
	}

	if owned {
		return nil, domain.ErrAlreadyOwned
	}

	attribution := s.resolveAttribution(ctx, in.UserID, item, in.AffiliateCode)

	payment := &domain.Payment{
		ID:          uuid.New(),
		UserID:      in.UserID,
		Item:        item.Ref,
		OwnerID:     item.OwnerID,
		Amount:      item.Price,
		Currency:    strings.ToUpper(item.Currency),
		Status:      domain.PaymentStatusPending,
		Attribution: attribution,
		CreatedAt:   s.now(),
	}

	err = s.payments.Create(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("creating pending payment: %w", err)
	}

	logger := s.logger.With("attempt_id", payment.ID, "item", item.Ref.String(), "user_id", in.UserID)

	session, err := s.processor.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		IdempotencyKey: payment.ID.String(),
		AttemptID:      payment.ID,
		UserID:         in.UserID,
		Item:           *item,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	})
	if err != nil {
		s.abandon(ctx, logger, payment.ID, "checkout session could not be created")

		if domain.KindOf(err) == domain.KindProcessorUnavailable {
			return nil, err
		}

		return nil, fmt.Errorf("creating checkout session: %w", err)
	}

	err = s.payments.SetExternalID(ctx, payment.ID, session.ID)
	if err != nil {
		s.abandon(ctx, logger, payment.ID, "checkout session could not be recorded")
		return nil, fmt.Errorf("recording checkout session %s: %w", session.ID, err)
	}

	logger.Info("checkout session created", "external_id", session.ID, "attributed", attribution != nil)

	return &CheckoutResult{
		AttemptID:   payment.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// abandon cancels a pending attempt so that a late confirmation for it can
// never complete.
func (s *Service) abandon(ctx context.Context, logger *slog.Logger, id uuid.UUID, reason string) {
	err := s.payments.Cancel(context.WithoutCancel(ctx), id, reason)
	if err != nil {
		logger.Error("failed to cancel abandoned payment", "error", err)
	}
}
