package payment

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string, object map[string]any, ts time.Time) ([]byte, string) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        eventType,
		"created":     ts.Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: ts,
		Scheme:    "v1",
	})

	return signed.Payload, signed.Header
}

func TestParseEvent(t *testing.T) {
	attemptID := uuid.New()
	now := time.Now()

	tests := []struct {
		name      string
		eventType string
		object    map[string]any
		want      func(t *testing.T, ev *domain.ProcessorEvent)
	}{
		{
			name:      "completed paid checkout session settles the transaction",
			eventType: "checkout.session.completed",
			object: map[string]any{
				"id":                  "cs_1",
				"object":              "checkout.session",
				"status":              "complete",
				"payment_status":      "paid",
				"amount_total":        10000,
				"currency":            "usd",
				"payment_intent":      "pi_1",
				"client_reference_id": attemptID.String(),
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.EventCheckoutSettled, ev.Type)
				require.NotNil(t, ev.Transaction)
				assert.Equal(t, "cs_1", ev.ExternalID)
				assert.Equal(t, domain.TransactionSucceeded, ev.Transaction.State)
				assert.Equal(t, int64(10000), ev.Transaction.Amount)
				assert.Equal(t, "USD", ev.Transaction.Currency)
				assert.Equal(t, "pi_1", ev.Transaction.PaymentRef)
				require.NotNil(t, ev.Transaction.AttemptID)
				assert.Equal(t, attemptID, *ev.Transaction.AttemptID)
			},
		},
		{
			name:      "completed but unpaid session stays open",
			eventType: "checkout.session.completed",
			object: map[string]any{
				"id":             "cs_2",
				"object":         "checkout.session",
				"status":         "complete",
				"payment_status": "unpaid",
				"amount_total":   10000,
				"currency":       "usd",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.TransactionOpen, ev.Transaction.State)
			},
		},
		{
			name:      "async payment failure fails the transaction",
			eventType: "checkout.session.async_payment_failed",
			object: map[string]any{
				"id":             "cs_3",
				"object":         "checkout.session",
				"status":         "complete",
				"payment_status": "unpaid",
				"metadata":       map[string]any{"attempt_id": attemptID.String()},
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.TransactionFailed, ev.Transaction.State)
				assert.Equal(t, "async payment failed", ev.Transaction.FailureReason)
				require.NotNil(t, ev.Transaction.AttemptID)
				assert.Equal(t, attemptID, *ev.Transaction.AttemptID)
			},
		},
		{
			name:      "expired session fails the transaction",
			eventType: "checkout.session.expired",
			object: map[string]any{
				"id":     "cs_4",
				"object": "checkout.session",
				"status": "expired",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.TransactionFailed, ev.Transaction.State)
			},
		},
		{
			name:      "refunded charge carries the cumulative amount",
			eventType: "charge.refunded",
			object: map[string]any{
				"id":              "ch_1",
				"object":          "charge",
				"amount":          10000,
				"amount_refunded": 2500,
				"currency":        "usd",
				"payment_intent":  "pi_1",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.EventRefund, ev.Type)
				assert.Equal(t, "pi_1", ev.PaymentRef)
				assert.Equal(t, int64(2500), ev.RefundedAmount)
				assert.Equal(t, "USD", ev.Currency)
			},
		},
		{
			name:      "dispute becomes a chargeback",
			eventType: "charge.dispute.created",
			object: map[string]any{
				"id":             "dp_1",
				"object":         "dispute",
				"amount":         10000,
				"currency":       "usd",
				"payment_intent": "pi_1",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.EventChargeback, ev.Type)
				assert.Equal(t, "pi_1", ev.PaymentRef)
			},
		},
		{
			name:      "subscription update only carries the reference",
			eventType: "customer.subscription.updated",
			object: map[string]any{
				"id":     "sub_1",
				"object": "subscription",
				"status": "past_due",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.EventSubscriptionChanged, ev.Type)
				assert.Equal(t, "sub_1", ev.SubscriptionRef)
			},
		},
		{
			name:      "unrelated event types are ignored",
			eventType: "invoice.created",
			object: map[string]any{
				"id":     "in_1",
				"object": "invoice",
			},
			want: func(t *testing.T, ev *domain.ProcessorEvent) {
				assert.Equal(t, domain.EventIgnored, ev.Type)
				assert.Equal(t, "invoice.created", ev.RawType)
			},
		},
	}

	processor := NewStripeProcessor("", "", testWebhookSecret, 0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, header := signedEvent(t, tt.eventType, tt.object, now)

			ev, err := processor.ParseEvent(payload, header)
			require.NoError(t, err)

			tt.want(t, ev)
		})
	}
}

func TestParseEventRejectsBadSignatures(t *testing.T) {
	processor := NewStripeProcessor("", "", testWebhookSecret, time.Minute)
	object := map[string]any{"id": "cs_1", "object": "checkout.session"}

	t.Run("tampered payload", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", object, time.Now())
		payload = append(payload[:len(payload)-1], []byte(`,"x":1}`)...)

		_, err := processor.ParseEvent(payload, header)
		assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", object, time.Now().Add(-10*time.Minute))

		_, err := processor.ParseEvent(payload, header)
		assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
	})

	t.Run("missing header", func(t *testing.T) {
		payload, _ := signedEvent(t, "checkout.session.completed", object, time.Now())

		_, err := processor.ParseEvent(payload, "")
		assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload, header := signedEvent(t, "checkout.session.completed", object, time.Now())

		other := NewStripeProcessor("", "", "whsec_other", time.Minute)
		_, err := other.ParseEvent(payload, header)
		assert.True(t, errors.Is(err, domain.ErrSignatureInvalid))
	})
}

func TestToSubscription(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub := &stripe.Subscription{
		ID:                "sub_1",
		Status:            stripe.SubscriptionStatusUnpaid,
		CancelAtPeriodEnd: true,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{CurrentPeriodStart: start.Unix(), CurrentPeriodEnd: end.Unix()},
			},
		},
	}

	got := toSubscription(sub)

	assert.Equal(t, domain.SubscriptionPastDue, got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	require.NotNil(t, got.CurrentPeriodStart)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, start.Equal(*got.CurrentPeriodStart))
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))
}

func TestToSubscriptionStatus(t *testing.T) {
	tests := map[stripe.SubscriptionStatus]domain.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            domain.SubscriptionActive,
		stripe.SubscriptionStatusTrialing:          domain.SubscriptionTrialing,
		stripe.SubscriptionStatusPastDue:           domain.SubscriptionPastDue,
		stripe.SubscriptionStatusUnpaid:            domain.SubscriptionPastDue,
		stripe.SubscriptionStatusIncomplete:        domain.SubscriptionIncomplete,
		stripe.SubscriptionStatusIncompleteExpired: domain.SubscriptionCanceled,
		stripe.SubscriptionStatusCanceled:          domain.SubscriptionCanceled,
	}

	for in, want := range tests {
		assert.Equal(t, want, toSubscriptionStatus(in), string(in))
	}
}
