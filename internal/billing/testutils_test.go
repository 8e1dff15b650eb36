package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/metinatakli/coursehub/internal/mailer"
	"github.com/metinatakli/coursehub/internal/payment"
	"github.com/metinatakli/coursehub/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const (
	ownerID      = 100
	otherOwnerID = 200
	platformID   = 1
	buyerID      = 7
	referrerID   = 50
)

var (
	courseRef        = domain.ItemRef{Kind: domain.ItemKindCourse, ID: 1}
	communityRef     = domain.ItemRef{Kind: domain.ItemKindCommunity, ID: 2}
	platformRef      = domain.ItemRef{Kind: domain.ItemKindPlatform, ID: 3}
	unavailableRef   = domain.ItemRef{Kind: domain.ItemKindCourse, ID: 4}
	otherOwnerCourse = domain.ItemRef{Kind: domain.ItemKindCourse, ID: 5}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

type billingSuite struct {
	suite.Suite
	ctx          context.Context
	ledger       *repository.MemoryLedger
	attributions *repository.MemoryAttributionStore
	processor    *payment.FakeProcessor
	mailer       *mailer.MockMailer
	clock        *testClock
	svc          *Service
}

func (s *billingSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = repository.NewMemoryLedger()
	s.attributions = repository.NewMemoryAttributionStore()
	s.processor = payment.NewFakeProcessor("whsec_test")
	s.mailer = mailer.NewMockMailer()
	s.clock = &testClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	s.ledger.AddItem(domain.CatalogItem{
		Ref: courseRef, OwnerID: ownerID, Title: "Go Concurrency", Price: 10000, Currency: "USD",
		Purchasable: true, AffiliateRate: decimal.NewFromInt(10),
	})
	s.ledger.AddItem(domain.CatalogItem{
		Ref: communityRef, OwnerID: ownerID, Title: "Gophers Guild", Price: 2000, Currency: "USD",
		Purchasable: true, Interval: "month", Tier: "gold", AffiliateRate: decimal.NewFromInt(20),
	})
	s.ledger.AddItem(domain.CatalogItem{
		Ref: platformRef, OwnerID: platformID, Title: "Pro plan", Price: 1500, Currency: "USD",
		Purchasable: true, Interval: "month", Tier: "pro",
	})
	s.ledger.AddItem(domain.CatalogItem{
		Ref: unavailableRef, OwnerID: ownerID, Title: "Retired course", Price: 5000, Currency: "USD",
	})
	s.ledger.AddItem(domain.CatalogItem{
		Ref: otherOwnerCourse, OwnerID: otherOwnerID, Title: "Rust Basics", Price: 8000, Currency: "USD",
		Purchasable: true, AffiliateRate: decimal.NewFromInt(15),
	})

	s.ledger.AddAffiliate(domain.Affiliate{Code: "ALICE", ReferrerID: referrerID, OwnerID: ownerID, Active: true})
	s.ledger.AddAffiliate(domain.Affiliate{Code: "RETIRED", ReferrerID: 51, OwnerID: ownerID})
	s.ledger.AddAffiliate(domain.Affiliate{Code: "SELF", ReferrerID: buyerID, OwnerID: ownerID, Active: true})

	s.svc = NewService(Deps{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ledger:        s.ledger,
		Catalog:       s.ledger,
		Payments:      s.ledger,
		Entitlements:  s.ledger,
		Affiliates:    s.ledger,
		Attributions:  s.attributions,
		Subscriptions: s.ledger.Subscriptions(),
		Revenue:       s.ledger,
		Processor:     s.processor,
		Mailer:        s.mailer,
	}, Config{})
	s.svc.SetClock(s.clock.Now)
}

// checkout starts a checkout and returns the attempt and the session id.
func (s *billingSuite) checkout(userID int, ref domain.ItemRef, code string) (uuid.UUID, string) {
	result, err := s.svc.StartCheckout(s.ctx, CheckoutInput{UserID: userID, Item: ref, AffiliateCode: code})
	s.Require().NoError(err)

	p, err := s.ledger.GetById(s.ctx, result.AttemptID)
	s.Require().NoError(err)
	s.Require().NotNil(p.ExternalID)

	return result.AttemptID, *p.ExternalID
}

func (s *billingSuite) checkoutEvent(sessionID string) *domain.ProcessorEvent {
	tx, err := s.processor.GetCheckoutSession(s.ctx, sessionID)
	s.Require().NoError(err)

	return &domain.ProcessorEvent{
		ID:          "evt_" + uuid.NewString(),
		Type:        domain.EventCheckoutSettled,
		Transaction: tx,
		ExternalID:  tx.ExternalID,
	}
}

func (s *billingSuite) refundEvent(paymentRef string, cumulative int64) *domain.ProcessorEvent {
	return &domain.ProcessorEvent{
		ID:             "evt_" + uuid.NewString(),
		Type:           domain.EventRefund,
		PaymentRef:     paymentRef,
		RefundedAmount: cumulative,
		Currency:       "USD",
	}
}

// purchase runs a checkout to completion through the webhook path.
func (s *billingSuite) purchase(userID int, ref domain.ItemRef, code string) (uuid.UUID, string) {
	attemptID, sessionID := s.checkout(userID, ref, code)

	subRef := ""
	if ref.Kind != domain.ItemKindCourse {
		subRef = "sub_" + sessionID
	}
	s.processor.Settle(sessionID, "pi_"+sessionID, subRef)

	outcome, err := s.svc.HandleEvent(s.ctx, s.checkoutEvent(sessionID))
	s.Require().NoError(err)
	s.Require().Equal(OutcomeCompleted, outcome)

	return attemptID, sessionID
}

func (s *billingSuite) payment(id uuid.UUID) *domain.Payment {
	p, err := s.ledger.GetById(s.ctx, id)
	s.Require().NoError(err)

	return p
}

func (s *billingSuite) revenueTotal(owner int) *domain.RevenueAggregate {
	agg, err := s.svc.Revenue(s.ctx, owner, "USD", "")
	s.Require().NoError(err)

	return agg
}

func (s *billingSuite) entriesFor(paymentID uuid.UUID) []domain.AffiliateLedgerEntry {
	entries, err := s.ledger.ListEntriesByPayment(s.ctx, paymentID)
	s.Require().NoError(err)

	return entries
}
