package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Affiliate struct {
	Code       string
	ReferrerID int
	OwnerID    int
	Active     bool
}

// Attribution pins a referrer and the owner's commission rate at the moment
// the referral was attributed. Later rate changes never reach it.
type Attribution struct {
	Code         string
	ReferrerID   int
	OwnerID      int
	Rate         decimal.Decimal
	AttributedAt time.Time
}

func (a Attribution) ValidAt(t time.Time, window time.Duration) bool {
	return !a.AttributedAt.Add(window).Before(t)
}

type LedgerEntryKind string

const (
	LedgerEntryCommission LedgerEntryKind = "commission"
	LedgerEntryClawback   LedgerEntryKind = "clawback"
)

type LedgerEntryStatus string

const (
	LedgerEntryPending   LedgerEntryStatus = "pending"
	LedgerEntryConfirmed LedgerEntryStatus = "confirmed"
	LedgerEntryPaid      LedgerEntryStatus = "paid"
	LedgerEntryRefunded  LedgerEntryStatus = "refunded"
)

type AffiliateLedgerEntry struct {
	ID         int
	ReferrerID int
	PaymentID  uuid.UUID
	Kind       LedgerEntryKind
	// Amount is signed: commissions are positive, clawbacks negative.
	Amount    int64
	Currency  string
	Rate      decimal.Decimal
	Status    LedgerEntryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReferrerBalance struct {
	ReferrerID int
	Currency   string
	Pending    int64
	Paid       int64
}

type AffiliateRepository interface {
	GetByCode(ctx context.Context, code string) (*Affiliate, error)
	GetBalance(ctx context.Context, referrerID int, currency string) (*ReferrerBalance, error)
	ListEntriesByPayment(ctx context.Context, paymentID uuid.UUID) ([]AffiliateLedgerEntry, error)
}

// AttributionStore keeps referral clicks for the length of the attribution window.
type AttributionStore interface {
	Save(ctx context.Context, userID int, attribution Attribution, ttl time.Duration) error
	Get(ctx context.Context, userID, ownerID int) (*Attribution, error)
}
