package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/metinatakli/coursehub/internal/domain"
)

// FakeProcessor is an in-memory processor for local runs and tests. Sessions
// are keyed by idempotency key like the real processor, and webhook payloads
// are verified with the Stripe signature scheme.
type FakeProcessor struct {
	mu            sync.Mutex
	sessions      map[string]*domain.ProcessorTransaction
	byIdempotency map[string]*domain.CheckoutSession
	subscriptions map[string]*domain.ProcessorSubscription
	created       int

	// CreateErr, when set, is returned by CreateCheckoutSession.
	CreateErr error
	// SubscriptionErr, when set, is returned by GetSubscription.
	SubscriptionErr error

	events *StripeProcessor
}

func NewFakeProcessor(webhookSecret string) *FakeProcessor {
	return &FakeProcessor{
		sessions:      make(map[string]*domain.ProcessorTransaction),
		byIdempotency: make(map[string]*domain.CheckoutSession),
		subscriptions: make(map[string]*domain.ProcessorSubscription),
		events:        NewStripeProcessor("", "", webhookSecret, DefaultWebhookTolerance),
	}
}

func (f *FakeProcessor) CreateCheckoutSession(
	ctx context.Context,
	req domain.CheckoutRequest) (*domain.CheckoutSession, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	if cs, ok := f.byIdempotency[req.IdempotencyKey]; ok {
		return cs, nil
	}

	f.created++
	id := fmt.Sprintf("cs_test_%d", f.created)
	attemptID := req.AttemptID

	f.sessions[id] = &domain.ProcessorTransaction{
		ExternalID: id,
		AttemptID:  &attemptID,
		State:      domain.TransactionOpen,
		Amount:     req.Amount,
		Currency:   req.Currency,
	}

	cs := &domain.CheckoutSession{
		ID:          id,
		RedirectURL: "https://checkout.example.com/" + id,
		ExpiresAt:   time.Now().Add(24 * time.Hour).UTC(),
	}
	f.byIdempotency[req.IdempotencyKey] = cs

	return cs, nil
}

func (f *FakeProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.ProcessorTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}

	out := *tx
	return &out, nil
}

func (f *FakeProcessor) GetSubscription(ctx context.Context, externalID string) (*domain.ProcessorSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscriptionErr != nil {
		return nil, f.SubscriptionErr
	}

	sub, ok := f.subscriptions[externalID]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", externalID)
	}

	out := *sub
	return &out, nil
}

func (f *FakeProcessor) ParseEvent(payload []byte, signatureHeader string) (*domain.ProcessorEvent, error) {
	return f.events.ParseEvent(payload, signatureHeader)
}

// Settle marks a session as paid the way the hosted checkout page would.
func (f *FakeProcessor) Settle(sessionID, paymentRef, subscriptionRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tx, ok := f.sessions[sessionID]; ok {
		tx.State = domain.TransactionSucceeded
		tx.PaymentRef = paymentRef
		tx.SubscriptionRef = subscriptionRef
	}
}

func (f *FakeProcessor) Fail(sessionID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tx, ok := f.sessions[sessionID]; ok {
		tx.State = domain.TransactionFailed
		tx.FailureReason = reason
	}
}

func (f *FakeProcessor) SetSubscription(sub domain.ProcessorSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscriptions[sub.ExternalID] = &sub
}

// SessionsCreated is the number of distinct sessions opened.
func (f *FakeProcessor) SessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.created
}

var _ domain.PaymentProcessor = (*FakeProcessor)(nil)
