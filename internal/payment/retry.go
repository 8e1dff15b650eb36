package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/stripe/stripe-go/v82"
)

// RetryingProcessor retries transient processor failures with exponential
// backoff. Checkout creation reuses the caller's idempotency key on every
// attempt, so a retried request never opens a second session.
type RetryingProcessor struct {
	delegate     domain.PaymentProcessor
	buildBackoff func() backoff.BackOff
}

func NewRetryingProcessor(delegate domain.PaymentProcessor, factory func() backoff.BackOff) *RetryingProcessor {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		}
	}

	return &RetryingProcessor{delegate: delegate, buildBackoff: factory}
}

func (p *RetryingProcessor) CreateCheckoutSession(
	ctx context.Context,
	req domain.CheckoutRequest) (*domain.CheckoutSession, error) {

	return retry(ctx, p.buildBackoff, func() (*domain.CheckoutSession, error) {
		return p.delegate.CreateCheckoutSession(ctx, req)
	})
}

func (p *RetryingProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.ProcessorTransaction, error) {
	return retry(ctx, p.buildBackoff, func() (*domain.ProcessorTransaction, error) {
		return p.delegate.GetCheckoutSession(ctx, sessionID)
	})
}

func (p *RetryingProcessor) GetSubscription(ctx context.Context, externalID string) (*domain.ProcessorSubscription, error) {
	return retry(ctx, p.buildBackoff, func() (*domain.ProcessorSubscription, error) {
		return p.delegate.GetSubscription(ctx, externalID)
	})
}

func (p *RetryingProcessor) ParseEvent(payload []byte, signatureHeader string) (*domain.ProcessorEvent, error) {
	return p.delegate.ParseEvent(payload, signatureHeader)
}

func retry[T any](ctx context.Context, factory func() backoff.BackOff, fn func() (T, error)) (T, error) {
	var result T

	op := func() error {
		var err error

		result, err = fn()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	err := backoff.Retry(op, backoff.WithContext(factory(), ctx))
	if err != nil {
		var zero T

		if IsTransient(err) {
			return zero, fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
		}

		return zero, err
	}

	return result, nil
}

// IsTransient reports whether a processor error is worth retrying: network
// failures, rate limiting and server-side errors. Client errors are final.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, domain.ErrProcessorUnavailable) {
		return true
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == 0
	}

	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return false
	}

	return true
}

var _ domain.PaymentProcessor = (*RetryingProcessor)(nil)
