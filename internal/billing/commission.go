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
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// commissionFor applies a percentage rate to an amount in minor units,
// rounding down so the platform never pays out a fraction it did not earn.
func commissionFor(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Floor().IntPart()
}

// proportionalReversal is the cumulative commission reversal after refunded
// out of amount has been returned: floor(commission * refunded / amount).
func proportionalReversal(commission, refunded, amount int64) int64 {
	if amount <= 0 {
		return commission
	}

	return decimal.NewFromInt(commission).
		Mul(decimal.NewFromInt(refunded)).
		Div(decimal.NewFromInt(amount)).
		Floor().
		IntPart()
}

type Referral struct {
	Attribution domain.Attribution
	ExpiresAt   time.Time
}

// CaptureReferral remembers a referral click for the item's owner. The owner's
// current rate for the item is pinned now, and the most recent click wins.
func (s *Service) CaptureReferral(ctx context.Context, userID int, code string, ref domain.ItemRef) (*Referral, error) {
	affiliate, err := s.affiliates.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrReferralCodeNotFound
		}

		return nil, fmt.Errorf("loading affiliate %q: %w", code, err)
	}

	if !affiliate.Active {
		return nil, domain.ErrReferralCodeNotFound
	}

	item, err := s.catalog.GetItem(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrItemNotFound
		}

		return nil, fmt.Errorf("loading catalog item %s: %w", ref, err)
	}

	if item.OwnerID != affiliate.OwnerID {
		return nil, domain.ErrReferralCodeNotFound
	}

	if affiliate.ReferrerID == userID {
		return nil, domain.ErrSelfReferral
	}

	now := s.now()
	attribution := domain.Attribution{
		Code:         affiliate.Code,
		ReferrerID:   affiliate.ReferrerID,
		OwnerID:      affiliate.OwnerID,
		Rate:         item.AffiliateRate,
		AttributedAt: now,
	}

	err = s.attributions.Save(ctx, userID, attribution, s.cfg.AttributionWindow)
	if err != nil {
		return nil, fmt.Errorf("saving attribution: %w", err)
	}

	return &Referral{
		Attribution: attribution,
		ExpiresAt:   now.Add(s.cfg.AttributionWindow),
	}, nil
}

// resolveAttribution decides which referrer, if any, a new checkout is
// credited to. Attribution problems never block a purchase; they are logged
// and the checkout proceeds unattributed.
func (s *Service) resolveAttribution(
	ctx context.Context,
	userID int,
	item *domain.CatalogItem,
	code string) *domain.Attribution {

	logger := s.logger.With("user_id", userID, "owner_id", item.OwnerID)
	now := s.now()

	stored, err := s.attributions.Get(ctx, userID, item.OwnerID)
	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		logger.Warn("failed to read stored attribution", "error", err)
	}

	if stored != nil && !stored.ValidAt(now, s.cfg.AttributionWindow) {
		stored = nil
	}

	code = strings.TrimSpace(code)
	if code == "" {
		if stored != nil && stored.ReferrerID != userID {
			return stored
		}

		return nil
	}

	if stored != nil && stored.Code == code && stored.ReferrerID != userID {
		return stored
	}

	affiliate, err := s.affiliates.GetByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			logger.Warn("failed to load affiliate", "code", code, "error", err)
		}

		return nil
	}

	if !affiliate.Active || affiliate.OwnerID != item.OwnerID || affiliate.ReferrerID == userID {
		logger.Info("referral code ignored at checkout", "code", code)
		return nil
	}

	return &domain.Attribution{
		Code:         affiliate.Code,
		ReferrerID:   affiliate.ReferrerID,
		OwnerID:      affiliate.OwnerID,
		Rate:         item.AffiliateRate,
		AttributedAt: now,
	}
}

// creditCommission writes the commission for a payment that has just
// completed. It runs inside the winning transaction.
func (s *Service) creditCommission(ctx context.Context, tx domain.LedgerTx, payment *domain.Payment, logger *slog.Logger) (bool, error) {
	a := payment.Attribution
	if a == nil {
		return false, nil
	}

	if !a.ValidAt(payment.CreatedAt, s.cfg.AttributionWindow) {
		logger.Info("attribution expired before checkout", "referrer_id", a.ReferrerID)
		return false, nil
	}

	if a.ReferrerID == payment.UserID {
		return false, nil
	}

	amount := commissionFor(payment.Amount, a.Rate)
	if amount <= 0 {
		return false, nil
	}

	inserted, err := tx.InsertCommission(ctx, &domain.AffiliateLedgerEntry{
		ReferrerID: a.ReferrerID,
		PaymentID:  payment.ID,
		Kind:       domain.LedgerEntryCommission,
		Amount:     amount,
		Currency:   payment.Currency,
		Rate:       a.Rate,
		Status:     domain.LedgerEntryPending,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("inserting commission: %w", err)
	}

	if !inserted {
		return false, nil
	}

	err = tx.AdjustReferrerBalance(ctx, a.ReferrerID, payment.Currency, amount, 0)
	if err != nil {
		return false, fmt.Errorf("crediting referrer balance: %w", err)
	}

	return true, nil
}

// reverseCommission brings the commission of a payment in line with its
// cumulative refunded amount. Paid entries are never touched: what has been
// paid out is reversed with negative clawback entries.
func (s *Service) reverseCommission(
	ctx context.Context,
	tx domain.LedgerTx,
	payment *domain.Payment,
	full bool) (bool, error) {

	entries, err := tx.ListEntriesByPayment(ctx, payment.ID)
	if err != nil {
		return false, fmt.Errorf("listing ledger entries: %w", err)
	}

	var commission *domain.AffiliateLedgerEntry
	var reversed int64

	for i := range entries {
		switch entries[i].Kind {
		case domain.LedgerEntryCommission:
			commission = &entries[i]
		case domain.LedgerEntryClawback:
			if entries[i].Status != domain.LedgerEntryRefunded {
				reversed -= entries[i].Amount
			}
		}
	}

	if commission == nil || commission.Status == domain.LedgerEntryRefunded {
		return false, nil
	}

	now := s.now()

	if full && commission.Status != domain.LedgerEntryPaid {
		ids := make([]int, 0, len(entries))
		var unpaid int64

		for _, e := range entries {
			if e.Status == domain.LedgerEntryPaid || e.Status == domain.LedgerEntryRefunded {
				continue
			}

			ids = append(ids, e.ID)
			unpaid += e.Amount
		}

		err = tx.SetEntryStatus(ctx, ids, domain.LedgerEntryRefunded, now)
		if err != nil {
			return false, fmt.Errorf("refunding ledger entries: %w", err)
		}

		err = tx.AdjustReferrerBalance(ctx, commission.ReferrerID, commission.Currency, -unpaid, 0)
		if err != nil {
			return false, fmt.Errorf("debiting referrer balance: %w", err)
		}

		return true, nil
	}

	target := commission.Amount
	if !full {
		target = proportionalReversal(commission.Amount, payment.RefundedAmount, payment.Amount)
	}

	delta := target - reversed
	if delta <= 0 {
		return false, nil
	}

	err = tx.InsertClawback(ctx, &domain.AffiliateLedgerEntry{
		ReferrerID: commission.ReferrerID,
		PaymentID:  payment.ID,
		Kind:       domain.LedgerEntryClawback,
		Amount:     -delta,
		Currency:   commission.Currency,
		Rate:       commission.Rate,
		Status:     domain.LedgerEntryPending,
		CreatedAt:  now,
	})
	if err != nil {
		return false, fmt.Errorf("inserting clawback: %w", err)
	}

	err = tx.AdjustReferrerBalance(ctx, commission.ReferrerID, commission.Currency, -delta, 0)
	if err != nil {
		return false, fmt.Errorf("debiting referrer balance: %w", err)
	}

	return true, nil
}

// ConfirmMatured moves commissions past the hold period from pending to
// confirmed, making them eligible for payout.
func (s *Service) ConfirmMatured(ctx context.Context) (int, error) {
	var confirmed int

	err := s.ledger.RunInTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		confirmed, err = tx.ConfirmMaturedEntries(ctx, s.now().Add(-s.cfg.CommissionHold))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("confirming matured commissions: %w", err)
	}

	if confirmed > 0 {
		s.logger.Info("confirmed matured commissions", "count", confirmed)
	}

	return confirmed, nil
}

type Payout struct {
	ReferrerID int
	Entries    int
	// Amounts is the net paid out per currency.
	Amounts map[string]int64
}

// Payout marks the referrer's confirmed commissions paid together with the
// clawbacks that offset them. A currency whose net is not positive is left
// for a later payout so the referrer is never charged.
func (s *Service) Payout(ctx context.Context, referrerID int) (*Payout, error) {
	out := &Payout{ReferrerID: referrerID, Amounts: make(map[string]int64)}

	err := s.ledger.RunInTx(ctx, func(tx domain.LedgerTx) error {
		payable, err := tx.ListPayableEntries(ctx, referrerID)
		if err != nil {
			return err
		}

		commissions := make(map[uuid.UUID]bool)
		for _, e := range payable {
			if e.Kind == domain.LedgerEntryCommission {
				commissions[e.PaymentID] = true
			}
		}

		commissionPaid := make(map[uuid.UUID]bool)
		byCurrency := make(map[string][]domain.AffiliateLedgerEntry)

		for _, e := range payable {
			if e.Kind == domain.LedgerEntryClawback && !commissions[e.PaymentID] {
				paid, ok := commissionPaid[e.PaymentID]
				if !ok {
					paid, err = s.commissionIsPaid(ctx, tx, e.PaymentID)
					if err != nil {
						return err
					}
					commissionPaid[e.PaymentID] = paid
				}

				if !paid {
					continue
				}
			}

			byCurrency[e.Currency] = append(byCurrency[e.Currency], e)
		}

		now := s.now()

		for currency, entries := range byCurrency {
			var net int64
			ids := make([]int, 0, len(entries))

			for _, e := range entries {
				net += e.Amount
				ids = append(ids, e.ID)
			}

			if net <= 0 {
				continue
			}

			err = tx.SetEntryStatus(ctx, ids, domain.LedgerEntryPaid, now)
			if err != nil {
				return err
			}

			err = tx.AdjustReferrerBalance(ctx, referrerID, currency, -net, net)
			if err != nil {
				return err
			}

			out.Entries += len(ids)
			out.Amounts[currency] = net
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("paying out referrer %d: %w", referrerID, err)
	}

	s.logger.Info("referrer payout recorded", "referrer_id", referrerID, "entries", out.Entries, "amounts", out.Amounts)

	return out, nil
}

func (s *Service) commissionIsPaid(ctx context.Context, tx domain.LedgerTx, paymentID uuid.UUID) (bool, error) {
	entries, err := tx.ListEntriesByPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e.Kind == domain.LedgerEntryCommission {
			return e.Status == domain.LedgerEntryPaid, nil
		}
	}

	return false, nil
}

func (s *Service) Balance(ctx context.Context, referrerID int, currency string) (*domain.ReferrerBalance, error) {
	return s.affiliates.GetBalance(ctx, referrerID, strings.ToUpper(currency))
}
