package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	metadataAttemptID = "attempt_id"
	metadataUserID    = "user_id"
	metadataItem      = "item"
)

const DefaultWebhookTolerance = 5 * time.Minute

type StripeProcessor struct {
	successUrl       string
	cancelUrl        string
	webhookSecret    string
	webhookTolerance time.Duration
}

func NewStripeProcessor(successUrl, cancelUrl, webhookSecret string, webhookTolerance time.Duration) *StripeProcessor {
	if webhookTolerance <= 0 {
		webhookTolerance = DefaultWebhookTolerance
	}

	return &StripeProcessor{
		successUrl:       successUrl,
		cancelUrl:        cancelUrl,
		webhookSecret:    webhookSecret,
		webhookTolerance: webhookTolerance,
	}
}

func (s *StripeProcessor) CreateCheckoutSession(
	ctx context.Context,
	req domain.CheckoutRequest) (*domain.CheckoutSession, error) {

	metadata := map[string]string{
		metadataAttemptID: req.AttemptID.String(),
		metadataUserID:    strconv.Itoa(req.UserID),
		metadataItem:      req.Item.Ref.String(),
	}

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(req.Amount),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(req.Item.Title),
		},
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(s.successUrl),
		CancelURL:         stripe.String(s.cancelUrl),
		ClientReferenceID: stripe.String(req.AttemptID.String()),
		Metadata:          metadata,
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	if req.Item.Recurring() {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(req.Item.Interval),
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		}
	}

	params.LineItems = []*stripe.CheckoutSessionLineItemParams{
		{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		},
	}

	cs, err := session.New(params)
	if err != nil {
		return nil, err
	}

	return &domain.CheckoutSession{
		ID:          cs.ID,
		RedirectURL: cs.URL,
		ExpiresAt:   time.Unix(cs.ExpiresAt, 0).UTC(),
	}, nil
}

func (s *StripeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.ProcessorTransaction, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := session.Get(sessionID, params)
	if err != nil {
		return nil, err
	}

	return toTransaction(cs), nil
}

func (s *StripeProcessor) GetSubscription(ctx context.Context, externalID string) (*domain.ProcessorSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := subscription.Get(externalID, params)
	if err != nil {
		return nil, err
	}

	return toSubscription(sub), nil
}

func (s *StripeProcessor) ParseEvent(payload []byte, signatureHeader string) (*domain.ProcessorEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
		}

		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	return translateEvent(event)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func translateEvent(event stripe.Event) (*domain.ProcessorEvent, error) {
	out := &domain.ProcessorEvent{
		ID:         event.ID,
		Type:       domain.EventIgnored,
		RawType:    string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:

		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}

		tx := toTransaction(&cs)
		if event.Type == stripe.EventTypeCheckoutSessionAsyncPaymentFailed {
			tx.State = domain.TransactionFailed
			tx.FailureReason = "async payment failed"
		}

		out.Type = domain.EventCheckoutSettled
		out.Transaction = tx
		out.ExternalID = tx.ExternalID

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}

		out.Type = domain.EventRefund
		out.RefundedAmount = charge.AmountRefunded
		out.Currency = strings.ToUpper(string(charge.Currency))
		if charge.PaymentIntent != nil {
			out.PaymentRef = charge.PaymentIntent.ID
		}

	case stripe.EventTypeChargeDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}

		out.Type = domain.EventChargeback
		out.RefundedAmount = dispute.Amount
		out.Currency = strings.ToUpper(string(dispute.Currency))
		if dispute.PaymentIntent != nil {
			out.PaymentRef = dispute.PaymentIntent.ID
		}

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionPaused,
		stripe.EventTypeCustomerSubscriptionResumed:

		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}

		out.Type = domain.EventSubscriptionChanged
		out.SubscriptionRef = sub.ID
	}

	return out, nil
}

func toTransaction(cs *stripe.CheckoutSession) *domain.ProcessorTransaction {
	tx := &domain.ProcessorTransaction{
		ExternalID: cs.ID,
		State:      domain.TransactionOpen,
		Amount:     cs.AmountTotal,
		Currency:   strings.ToUpper(string(cs.Currency)),
	}

	switch cs.Status {
	case stripe.CheckoutSessionStatusComplete:
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			tx.State = domain.TransactionSucceeded
		}
	case stripe.CheckoutSessionStatusExpired:
		tx.State = domain.TransactionFailed
		tx.FailureReason = "checkout session expired"
	}

	if cs.PaymentIntent != nil {
		tx.PaymentRef = cs.PaymentIntent.ID
	}

	tx.CustomerEmail = cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		tx.CustomerEmail = cs.CustomerDetails.Email
	}

	if cs.Subscription != nil {
		tx.SubscriptionRef = cs.Subscription.ID
	}

	attempt := cs.ClientReferenceID
	if attempt == "" {
		attempt = cs.Metadata[metadataAttemptID]
	}

	if id, err := uuid.Parse(attempt); err == nil {
		tx.AttemptID = &id
	}

	return tx
}

func toSubscription(sub *stripe.Subscription) *domain.ProcessorSubscription {
	out := &domain.ProcessorSubscription{
		ExternalID:        sub.ID,
		Status:            toSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]

		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			out.CurrentPeriodStart = &start
		}

		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}

	return out
}

// toSubscriptionStatus folds the processor's statuses into the local set.
// Unpaid behaves like past_due, a paused subscription grants nothing and
// incomplete_expired never becomes active again.
func toSubscriptionStatus(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return domain.SubscriptionPastDue
	case stripe.SubscriptionStatusIncomplete:
		return domain.SubscriptionIncomplete
	default:
		return domain.SubscriptionCanceled
	}
}

var _ domain.PaymentProcessor = (*StripeProcessor)(nil)
