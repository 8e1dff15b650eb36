package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

func (s SubscriptionStatus) Paying() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionCanceled
}

type Subscription struct {
	ID         int
	UserID     int
	Item       ItemRef
	ExternalID string
	// Tier is what the subscriber paid for; EffectiveTier is what access
	// lists currently reflect (the free tier while lapsed).
	Tier               string
	EffectiveTier      string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	PastDueSince       *time.Time
	SourcePaymentID    uuid.UUID
	SyncedAt           time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type SubscriptionRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	ListNonTerminal(ctx context.Context, limit int) ([]Subscription, error)
}
