// Package billing turns processor signals into ledger effects. Every
// transition of a payment is a conditional update, and the caller that wins
// it is the only one that writes entitlements, commissions and revenue.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/metinatakli/coursehub/internal/mailer"
)

const (
	DefaultAttributionWindow = 30 * 24 * time.Hour
	DefaultGracePeriod       = 72 * time.Hour
	DefaultCommissionHold    = 14 * 24 * time.Hour
	DefaultSweepBatchSize    = 100
)

type Config struct {
	AttributionWindow time.Duration
	GracePeriod       time.Duration
	// CommissionHold is how long a commission stays pending before it can be
	// paid out, covering the usual refund period.
	CommissionHold time.Duration
	SweepBatchSize int
}

func (c Config) withDefaults() Config {
	if c.AttributionWindow <= 0 {
		c.AttributionWindow = DefaultAttributionWindow
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.CommissionHold <= 0 {
		c.CommissionHold = DefaultCommissionHold
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = DefaultSweepBatchSize
	}

	return c
}

type Deps struct {
	Logger        *slog.Logger
	Ledger        domain.Ledger
	Catalog       domain.CatalogRepository
	Payments      domain.PaymentRepository
	Entitlements  domain.EntitlementRepository
	Affiliates    domain.AffiliateRepository
	Attributions  domain.AttributionStore
	Subscriptions domain.SubscriptionRepository
	Revenue       domain.RevenueRepository
	Processor     domain.PaymentProcessor
	Mailer        mailer.Mailer
}

type Service struct {
	logger        *slog.Logger
	ledger        domain.Ledger
	catalog       domain.CatalogRepository
	payments      domain.PaymentRepository
	entitlements  domain.EntitlementRepository
	affiliates    domain.AffiliateRepository
	attributions  domain.AttributionStore
	subscriptions domain.SubscriptionRepository
	revenue       domain.RevenueRepository
	processor     domain.PaymentProcessor
	mailer        mailer.Mailer
	metrics       *metrics
	cfg           Config

	now func() time.Time
	wg  sync.WaitGroup
}

func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		logger:        logger,
		ledger:        deps.Ledger,
		catalog:       deps.Catalog,
		payments:      deps.Payments,
		entitlements:  deps.Entitlements,
		affiliates:    deps.Affiliates,
		attributions:  deps.Attributions,
		subscriptions: deps.Subscriptions,
		revenue:       deps.Revenue,
		processor:     deps.Processor,
		mailer:        deps.Mailer,
		metrics:       newMetrics(),
		cfg:           cfg.withDefaults(),
		now:           time.Now,
	}
}

// SetClock replaces the time source. Tests use it to move past windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Config() Config {
	return s.cfg
}

// Wait blocks until post-commit work such as receipt emails has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) background(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic in background task", "task", name, "panic", fmt.Sprint(err))
			}
		}()

		if err := fn(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("background task failed", "task", name, "error", err)
		}
	}()
}

// Outcome names what a signal did to the ledger. It is reported back to
// webhook callers and recorded as a metric attribute.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeFailed             Outcome = "failed"
	OutcomePending            Outcome = "pending"
	OutcomeAlreadySettled     Outcome = "already_settled"
	OutcomeUnknownTransaction Outcome = "unknown_transaction"
	OutcomeAmountMismatch     Outcome = "amount_mismatch"
	OutcomeInvalidTarget      Outcome = "invalid_refund_target"
	OutcomeRefunded           Outcome = "refunded"
	OutcomePartiallyRefunded  Outcome = "partially_refunded"
	OutcomeSynced             Outcome = "synced"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeError              Outcome = "error"
)

// OutcomeOf classifies an error returned by the reconciliation paths.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeCompleted
	}

	switch domain.KindOf(err) {
	case domain.KindAlreadySettled, domain.KindStoreConflict:
		return OutcomeAlreadySettled
	case domain.KindUnknownTransaction:
		return OutcomeUnknownTransaction
	case domain.KindConflict:
		if errors.Is(err, domain.ErrAmountMismatch) {
			return OutcomeAmountMismatch
		}
		return OutcomeInvalidTarget
	default:
		return OutcomeError
	}
}
