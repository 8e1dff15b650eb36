package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CheckoutRequest struct {
	// IdempotencyKey is reused for every retry of the same checkout attempt.
	IdempotencyKey string
	AttemptID      uuid.UUID
	UserID         int
	Item           CatalogItem
	Amount         int64
	Currency       string
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// TransactionState is the processor's view of a checkout attempt, normalized.
type TransactionState string

const (
	TransactionOpen      TransactionState = "open"
	TransactionSucceeded TransactionState = "succeeded"
	TransactionFailed    TransactionState = "failed"
)

type ProcessorTransaction struct {
	ExternalID      string
	AttemptID       *uuid.UUID
	State           TransactionState
	PaymentRef      string
	SubscriptionRef string
	Amount          int64
	Currency        string
	FailureReason   string
	// CustomerEmail is collected by the hosted checkout page; receipts go there.
	CustomerEmail string
}

type ProcessorSubscription struct {
	ExternalID         string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
}

type EventType string

const (
	EventCheckoutSettled     EventType = "checkout_settled"
	EventRefund              EventType = "refund"
	EventChargeback          EventType = "chargeback"
	EventSubscriptionChanged EventType = "subscription_changed"
	EventIgnored             EventType = "ignored"
)

// ProcessorEvent is a verified webhook delivery translated into the terms
// the billing core understands.
type ProcessorEvent struct {
	ID         string
	Type       EventType
	RawType    string
	OccurredAt time.Time

	Transaction *ProcessorTransaction

	// Refund and chargeback events.
	ExternalID     string
	PaymentRef     string
	RefundedAmount int64
	Currency       string

	SubscriptionRef string
}

type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*ProcessorTransaction, error)
	GetSubscription(ctx context.Context, externalID string) (*ProcessorSubscription, error)
	// ParseEvent verifies the signature and freshness of a webhook payload.
	ParseEvent(payload []byte, signatureHeader string) (*ProcessorEvent, error)
}
