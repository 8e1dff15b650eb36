package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Entitlement struct {
	ID              int
	UserID          int
	Item            ItemRef
	Tier            string
	SourcePaymentID uuid.UUID
	GrantedAt       time.Time
	RevokedAt       *time.Time
}

func (e Entitlement) Active() bool {
	return e.RevokedAt == nil
}

// AccessGrant is a row in one of the collaborator access lists: the course
// roster, the community member list or the user's platform tier.
type AccessGrant struct {
	Item   ItemRef
	UserID int
	Tier   string
}

type EntitlementRepository interface {
	ListActiveByUser(ctx context.Context, userID int) ([]Entitlement, error)
	HasActive(ctx context.Context, userID int, item ItemRef) (bool, error)
}
