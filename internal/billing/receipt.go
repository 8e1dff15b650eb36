package billing

import (
	"context"

	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/shopspring/decimal"
)

const receiptTemplate = "payment_receipt.tmpl"

// sendReceipt mails the buyer after the ledger transaction has committed.
// Delivery is best effort and never affects the payment.
func (s *Service) sendReceipt(ctx context.Context, payment *domain.Payment, item *domain.CatalogItem, email string) {
	if s.mailer == nil || email == "" {
		return
	}

	data := map[string]any{
		"paymentID": payment.ID.String(),
		"itemTitle": item.Title,
		"amount":    decimal.New(payment.Amount, -2).StringFixed(2),
		"currency":  payment.Currency,
		"recurring": item.Recurring(),
	}

	s.background(ctx, "payment receipt", func(ctx context.Context) error {
		err := s.mailer.Send(email, receiptTemplate, data)
		if err != nil {
			return err
		}

		s.logger.Info("payment receipt sent", "attempt_id", payment.ID)

		return nil
	})
}
