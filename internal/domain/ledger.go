package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger runs a unit of work against the ledger store. Every financial side
// effect of a payment transition is written through the LedgerTx handed to
// fn, so either all of it commits or none of it does.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

type LedgerTx interface {
	// TransitionPayment moves a payment out of `from` in a single conditional
	// update. It returns ErrStoreConflict when the payment was not in `from`,
	// meaning another caller already performed the transition.
	TransitionPayment(ctx context.Context, id uuid.UUID, from PaymentStatus, c Completion) (*Payment, error)
	// RecordRefund advances the cumulative refunded amount, guarded on the
	// previous amount and on status completed. ErrStoreConflict otherwise.
	RecordRefund(ctx context.Context, id uuid.UUID, r Refund) (*Payment, error)
	// FindCompletedPayment locks the oldest other completed payment of the
	// user for the item. ErrRecordNotFound when there is none.
	FindCompletedPayment(ctx context.Context, userID int, item ItemRef, exclude uuid.UUID) (*Payment, error)

	UpsertEntitlement(ctx context.Context, e *Entitlement) error
	RevokeEntitlements(ctx context.Context, paymentID uuid.UUID, at time.Time) ([]Entitlement, error)
	// TransferEntitlements re-sources the active grants of one payment to
	// another and reports how many moved.
	TransferEntitlements(ctx context.Context, from, to uuid.UUID) (int, error)
	GrantAccess(ctx context.Context, g AccessGrant) error
	RevokeAccess(ctx context.Context, g AccessGrant) error

	// InsertCommission reports false when a commission for the payment exists.
	InsertCommission(ctx context.Context, e *AffiliateLedgerEntry) (bool, error)
	InsertClawback(ctx context.Context, e *AffiliateLedgerEntry) error
	ListEntriesByPayment(ctx context.Context, paymentID uuid.UUID) ([]AffiliateLedgerEntry, error)
	ListPayableEntries(ctx context.Context, referrerID int) ([]AffiliateLedgerEntry, error)
	SetEntryStatus(ctx context.Context, ids []int, status LedgerEntryStatus, at time.Time) error
	ConfirmMaturedEntries(ctx context.Context, createdBefore time.Time) (int, error)
	AdjustReferrerBalance(ctx context.Context, referrerID int, currency string, pendingDelta, paidDelta int64) error

	AdjustRevenue(ctx context.Context, d RevenueDelta) error
	RebuildRevenue(ctx context.Context, ownerID int) error

	// GetSubscriptionForUpdate locks the record for the rest of the transaction.
	GetSubscriptionForUpdate(ctx context.Context, externalID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, s *Subscription) error
}
