// Package api holds the wire types of the HTTP API and the OpenAPI document
// requests are validated against.
package api

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

type ItemKind string

const (
	Course    ItemKind = "course"
	Community ItemKind = "community"
	Platform  ItemKind = "platform"
)

type PaymentStatus string

const (
	Pending   PaymentStatus = "pending"
	Completed PaymentStatus = "completed"
	Failed    PaymentStatus = "failed"
	Refunded  PaymentStatus = "refunded"
	Canceled  PaymentStatus = "canceled"
)

type ItemRef struct {
	Kind ItemKind `json:"kind" validate:"required,item_kind"`
	Id   int      `json:"id" validate:"required,gt=0"`
}

type CreateCheckoutSessionRequest struct {
	Item          ItemRef `json:"item" validate:"required"`
	AffiliateCode *string `json:"affiliateCode,omitempty" validate:"omitempty,max=64,referral_code"`
	Currency      *string `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

type CheckoutSessionResponse struct {
	AttemptId   openapi_types.UUID `json:"attemptId"`
	RedirectUrl string             `json:"redirectUrl"`
	ExpiresAt   time.Time          `json:"expiresAt"`
}

type VerifyCheckoutRequest struct {
	SessionId string `json:"sessionId" validate:"required,max=255"`
}

type VerifyCheckoutResponse struct {
	AttemptId    openapi_types.UUID `json:"attemptId"`
	Status       PaymentStatus      `json:"status"`
	Entitlements []Entitlement      `json:"entitlements"`
}

type Entitlement struct {
	Item      ItemRef   `json:"item"`
	Tier      string    `json:"tier"`
	GrantedAt time.Time `json:"grantedAt"`
}

type EntitlementsResponse struct {
	Entitlements []Entitlement `json:"entitlements"`
}

type CreateReferralRequest struct {
	Code string  `json:"code" validate:"required,max=64,referral_code"`
	Item ItemRef `json:"item" validate:"required"`
}

type ReferralResponse struct {
	Code       string    `json:"code"`
	ReferrerId int       `json:"referrerId"`
	OwnerId    int       `json:"ownerId"`
	Rate       string    `json:"rate"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type BalanceResponse struct {
	Currency string `json:"currency"`
	Pending  int64  `json:"pending"`
	Paid     int64  `json:"paid"`
}

type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

type SyncSubscriptionRequest struct {
	SubscriptionId string `json:"subscriptionId" validate:"required,max=255"`
}

type OutcomeResponse struct {
	Outcome string `json:"outcome"`
}

type PayoutResponse struct {
	ReferrerId int              `json:"referrerId"`
	Entries    int              `json:"entries"`
	Amounts    map[string]int64 `json:"amounts"`
}

type RevenueResponse struct {
	OwnerId  int    `json:"ownerId"`
	Currency string `json:"currency"`
	Bucket   string `json:"bucket"`
	Gross    int64  `json:"gross"`
	Refunded int64  `json:"refunded"`
	Net      int64  `json:"net"`
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type ErrorResponse struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	RequestId string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

type ValidationErrorResponse struct {
	Kind             string            `json:"kind"`
	Message          string            `json:"message"`
	RequestId        string            `json:"requestId"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationErrors []ValidationError `json:"validationErrors"`
}
