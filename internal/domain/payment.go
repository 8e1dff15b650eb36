package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

type Payment struct {
	ID      uuid.UUID
	UserID  int
	Item    ItemRef
	OwnerID int
	// Amount is expressed in minor units of Currency.
	Amount   int64
	Currency string
	// ExternalID is the processor's checkout session id, the idempotency key
	// for confirmation signals.
	ExternalID *string
	// PaymentRef is the processor's payment reference, known once the
	// payment completes. Refund signals usually carry only this value.
	PaymentRef      *string
	SubscriptionRef *string
	Status          PaymentStatus
	RefundedAmount  int64
	Attribution     *Attribution
	FailureReason   *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	RefundedAt      *time.Time
}

// Completion carries what the processor told us about a settled attempt.
type Completion struct {
	To              PaymentStatus
	ExternalID      string
	PaymentRef      string
	SubscriptionRef string
	FailureReason   string
	At              time.Time
}

// Refund moves the cumulative refunded amount of a completed payment forward.
type Refund struct {
	PreviousAmount int64
	NewAmount      int64
	Full           bool
	At             time.Time
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error
	// Cancel moves a pending payment to canceled. It is a no-op for any other status.
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	GetById(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*Payment, error)
	GetByPaymentRef(ctx context.Context, paymentRef string) (*Payment, error)
}
