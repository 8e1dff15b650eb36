package domain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type ItemKind string

const (
	ItemKindCourse    ItemKind = "course"
	ItemKindCommunity ItemKind = "community"
	ItemKindPlatform  ItemKind = "platform"
)

const (
	TierFree   = "free"
	TierMember = "member"
)

type ItemRef struct {
	Kind ItemKind
	ID   int
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// CatalogItem is the purchasable view of a course, community or platform plan.
// The catalog is owned by the content service; this service only reads it.
type CatalogItem struct {
	Ref         ItemRef
	OwnerID     int
	Title       string
	Price       int64
	Currency    string
	Purchasable bool
	// Interval is empty for one-off purchases, "month" or "year" otherwise.
	Interval string
	Tier     string
	// AffiliateRate is the owner's current commission percentage.
	AffiliateRate decimal.Decimal
}

func (i CatalogItem) Recurring() bool {
	return i.Interval != ""
}

// GrantedTier is the tier a purchase of this item gives access to.
func (i CatalogItem) GrantedTier() string {
	if i.Tier != "" {
		return i.Tier
	}

	return TierMember
}

type CatalogRepository interface {
	GetItem(ctx context.Context, ref ItemRef) (*CatalogItem, error)
}
