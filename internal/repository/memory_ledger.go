package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
)

// MemoryLedger is an in-process ledger store with the same conditional-update
// semantics as the Postgres implementation. Transactions are serialized by a
// single lock and rolled back by restoring a snapshot.
//
// Functions passed to RunInTx must only use the LedgerTx they receive; calling
// the repository methods of the same MemoryLedger from inside fn deadlocks.
type MemoryLedger struct {
	mu    sync.RWMutex
	state *memoryState

	catalog    map[domain.ItemRef]domain.CatalogItem
	affiliates map[string]domain.Affiliate
}

type entitlementKey struct {
	userID int
	item   domain.ItemRef
}

type accessKey struct {
	item   domain.ItemRef
	userID int
}

type balanceKey struct {
	referrerID int
	currency   string
}

type revenueKey struct {
	ownerID  int
	currency string
	bucket   string
}

type memoryState struct {
	payments      map[uuid.UUID]domain.Payment
	entitlements  map[entitlementKey]domain.Entitlement
	access        map[accessKey]string
	ledger        []domain.AffiliateLedgerEntry
	balances      map[balanceKey]domain.ReferrerBalance
	subscriptions map[string]domain.Subscription
	revenue       map[revenueKey]domain.RevenueAggregate
	nextID        int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		state: &memoryState{
			payments:      make(map[uuid.UUID]domain.Payment),
			entitlements:  make(map[entitlementKey]domain.Entitlement),
			access:        make(map[accessKey]string),
			balances:      make(map[balanceKey]domain.ReferrerBalance),
			subscriptions: make(map[string]domain.Subscription),
			revenue:       make(map[revenueKey]domain.RevenueAggregate),
		},
		catalog:    make(map[domain.ItemRef]domain.CatalogItem),
		affiliates: make(map[string]domain.Affiliate),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		payments:      make(map[uuid.UUID]domain.Payment, len(s.payments)),
		entitlements:  make(map[entitlementKey]domain.Entitlement, len(s.entitlements)),
		access:        make(map[accessKey]string, len(s.access)),
		ledger:        append([]domain.AffiliateLedgerEntry(nil), s.ledger...),
		balances:      make(map[balanceKey]domain.ReferrerBalance, len(s.balances)),
		subscriptions: make(map[string]domain.Subscription, len(s.subscriptions)),
		revenue:       make(map[revenueKey]domain.RevenueAggregate, len(s.revenue)),
		nextID:        s.nextID,
	}

	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.entitlements {
		c.entitlements[k] = v
	}
	for k, v := range s.access {
		c.access[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range s.revenue {
		c.revenue[k] = v
	}

	return c
}

func (s *memoryState) id() int {
	s.nextID++
	return s.nextID
}

func (m *MemoryLedger) AddItem(item domain.CatalogItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.catalog[item.Ref] = item
}

func (m *MemoryLedger) AddAffiliate(affiliate domain.Affiliate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.affiliates[affiliate.Code] = affiliate
}

// AccessTier reports the tier recorded in the access list for item and user.
func (m *MemoryLedger) AccessTier(item domain.ItemRef, userID int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tier, ok := m.state.access[accessKey{item: item, userID: userID}]
	return tier, ok
}

// Entitlements returns every entitlement row, revoked ones included.
func (m *MemoryLedger) Entitlements() []domain.Entitlement {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Entitlement, 0, len(m.state.entitlements))
	for _, e := range m.state.entitlements {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (m *MemoryLedger) LedgerEntries() []domain.AffiliateLedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]domain.AffiliateLedgerEntry(nil), m.state.ledger...)
}

func (m *MemoryLedger) RunInTx(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.state.clone()

	err := fn(&memoryTx{state: m.state})
	if err != nil {
		m.state = snapshot
		return err
	}

	return nil
}

// Catalog and affiliates

func (m *MemoryLedger) GetItem(ctx context.Context, ref domain.ItemRef) (*domain.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.catalog[ref]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &item, nil
}

func (m *MemoryLedger) GetByCode(ctx context.Context, code string) (*domain.Affiliate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	affiliate, ok := m.affiliates[code]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &affiliate, nil
}

func (m *MemoryLedger) GetBalance(ctx context.Context, referrerID int, currency string) (*domain.ReferrerBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.state.balances[balanceKey{referrerID: referrerID, currency: currency}]
	if !ok {
		return &domain.ReferrerBalance{ReferrerID: referrerID, Currency: currency}, nil
	}

	return &balance, nil
}

func (m *MemoryLedger) ListEntriesByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.AffiliateLedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return entriesByPayment(m.state, paymentID), nil
}

// Payments

func (m *MemoryLedger) Create(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.payments[payment.ID]; ok {
		return fmt.Errorf("payment %s already exists", payment.ID)
	}

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now()
	}
	payment.UpdatedAt = payment.CreatedAt
	m.state.payments[payment.ID] = *payment

	return nil
}

func (m *MemoryLedger) SetExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.state.payments[id]
	if !ok {
		return domain.ErrStoreConflict
	}

	if payment.ExternalID != nil {
		if *payment.ExternalID == externalID {
			return nil
		}

		return domain.ErrStoreConflict
	}

	for _, other := range m.state.payments {
		if other.ExternalID != nil && *other.ExternalID == externalID {
			return domain.ErrStoreConflict
		}
	}

	payment.ExternalID = &externalID
	payment.UpdatedAt = time.Now()
	m.state.payments[id] = payment

	return nil
}

func (m *MemoryLedger) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.state.payments[id]
	if !ok || payment.Status != domain.PaymentStatusPending {
		return nil
	}

	payment.Status = domain.PaymentStatusCanceled
	payment.FailureReason = &reason
	payment.UpdatedAt = time.Now()
	m.state.payments[id] = payment

	return nil
}

func (m *MemoryLedger) GetById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.state.payments[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &payment, nil
}

func (m *MemoryLedger) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return m.findPayment(func(p domain.Payment) bool {
		return p.ExternalID != nil && *p.ExternalID == externalID
	})
}

func (m *MemoryLedger) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Payment, error) {
	return m.findPayment(func(p domain.Payment) bool {
		return p.PaymentRef != nil && *p.PaymentRef == paymentRef
	})
}

func (m *MemoryLedger) findPayment(match func(domain.Payment) bool) (*domain.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, payment := range m.state.payments {
		if match(payment) {
			return &payment, nil
		}
	}

	return nil, domain.ErrRecordNotFound
}

// Entitlements

func (m *MemoryLedger) ListActiveByUser(ctx context.Context, userID int) ([]domain.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Entitlement, 0)
	for _, e := range m.state.entitlements {
		if e.UserID == userID && e.Active() {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (m *MemoryLedger) HasActive(ctx context.Context, userID int, item domain.ItemRef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.state.entitlements[entitlementKey{userID: userID, item: item}]
	return ok && e.Active(), nil
}

// Subscriptions returns the subscription read view. It is separate because
// GetByExternalID is already taken by payments.
func (m *MemoryLedger) Subscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{m: m}
}

type MemorySubscriptions struct {
	m *MemoryLedger
}

func (s *MemorySubscriptions) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()

	sub, ok := s.m.state.subscriptions[externalID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &sub, nil
}

func (s *MemorySubscriptions) ListNonTerminal(ctx context.Context, limit int) ([]domain.Subscription, error) {
	m := s.m
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Subscription, 0)
	for _, s := range m.state.subscriptions {
		if !s.Status.Terminal() {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SyncedAt.Before(out[j].SyncedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Revenue

func (m *MemoryLedger) Get(ctx context.Context, ownerID int, currency, bucket string) (*domain.RevenueAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.state.revenue[revenueKey{ownerID: ownerID, currency: currency, bucket: bucket}]
	if !ok {
		return &domain.RevenueAggregate{OwnerID: ownerID, Currency: currency, Bucket: bucket}, nil
	}

	return &agg, nil
}

func entriesByPayment(s *memoryState, paymentID uuid.UUID) []domain.AffiliateLedgerEntry {
	out := make([]domain.AffiliateLedgerEntry, 0)
	for _, e := range s.ledger {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}

	return out
}

// memoryTx implements domain.LedgerTx against the locked state.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) TransitionPayment(
	ctx context.Context,
	id uuid.UUID,
	from domain.PaymentStatus,
	c domain.Completion) (*domain.Payment, error) {

	payment, ok := t.state.payments[id]
	if !ok || payment.Status != from {
		return nil, domain.ErrStoreConflict
	}

	payment.Status = c.To
	if payment.ExternalID == nil && c.ExternalID != "" {
		payment.ExternalID = &c.ExternalID
	}
	if c.PaymentRef != "" {
		payment.PaymentRef = &c.PaymentRef
	}
	if c.SubscriptionRef != "" {
		payment.SubscriptionRef = &c.SubscriptionRef
	}
	payment.FailureReason = nil
	if c.FailureReason != "" {
		payment.FailureReason = &c.FailureReason
	}
	if c.To == domain.PaymentStatusCompleted {
		at := c.At
		payment.CompletedAt = &at
	}
	payment.UpdatedAt = time.Now()

	t.state.payments[id] = payment

	return &payment, nil
}

func (t *memoryTx) RecordRefund(ctx context.Context, id uuid.UUID, r domain.Refund) (*domain.Payment, error) {
	payment, ok := t.state.payments[id]
	if !ok || payment.Status != domain.PaymentStatusCompleted || payment.RefundedAmount != r.PreviousAmount {
		return nil, domain.ErrStoreConflict
	}

	payment.RefundedAmount = r.NewAmount
	if r.Full {
		at := r.At
		payment.Status = domain.PaymentStatusRefunded
		payment.RefundedAt = &at
	}
	payment.UpdatedAt = time.Now()

	t.state.payments[id] = payment

	return &payment, nil
}

func (t *memoryTx) FindCompletedPayment(
	ctx context.Context,
	userID int,
	item domain.ItemRef,
	exclude uuid.UUID) (*domain.Payment, error) {

	var found *domain.Payment

	for id, p := range t.state.payments {
		if id == exclude || p.UserID != userID || p.Item != item || p.Status != domain.PaymentStatusCompleted {
			continue
		}

		if found == nil || completedBefore(p, *found) {
			candidate := p
			found = &candidate
		}
	}

	if found == nil {
		return nil, domain.ErrRecordNotFound
	}

	return found, nil
}

func completedBefore(a, b domain.Payment) bool {
	if a.CompletedAt == nil || b.CompletedAt == nil || a.CompletedAt.Equal(*b.CompletedAt) {
		return a.ID.String() < b.ID.String()
	}

	return a.CompletedAt.Before(*b.CompletedAt)
}

func (t *memoryTx) UpsertEntitlement(ctx context.Context, e *domain.Entitlement) error {
	key := entitlementKey{userID: e.UserID, item: e.Item}

	existing, ok := t.state.entitlements[key]
	if ok && existing.Active() && existing.SourcePaymentID != e.SourcePaymentID {
		return nil
	}

	if ok {
		e.ID = existing.ID
	} else {
		e.ID = t.state.id()
	}

	e.RevokedAt = nil
	t.state.entitlements[key] = *e

	return nil
}

func (t *memoryTx) RevokeEntitlements(ctx context.Context, paymentID uuid.UUID, at time.Time) ([]domain.Entitlement, error) {
	revoked := make([]domain.Entitlement, 0)

	for key, e := range t.state.entitlements {
		if e.SourcePaymentID == paymentID && e.Active() {
			revokedAt := at
			e.RevokedAt = &revokedAt
			t.state.entitlements[key] = e
			revoked = append(revoked, e)
		}
	}

	return revoked, nil
}

func (t *memoryTx) TransferEntitlements(ctx context.Context, from, to uuid.UUID) (int, error) {
	moved := 0

	for key, e := range t.state.entitlements {
		if e.SourcePaymentID == from && e.Active() {
			e.SourcePaymentID = to
			t.state.entitlements[key] = e
			moved++
		}
	}

	return moved, nil
}

func (t *memoryTx) GrantAccess(ctx context.Context, g domain.AccessGrant) error {
	t.state.access[accessKey{item: g.Item, userID: g.UserID}] = g.Tier
	return nil
}

func (t *memoryTx) RevokeAccess(ctx context.Context, g domain.AccessGrant) error {
	key := accessKey{item: g.Item, userID: g.UserID}

	if g.Item.Kind == domain.ItemKindPlatform {
		if _, ok := t.state.access[key]; ok {
			t.state.access[key] = domain.TierFree
		}

		return nil
	}

	delete(t.state.access, key)

	return nil
}

func (t *memoryTx) InsertCommission(ctx context.Context, e *domain.AffiliateLedgerEntry) (bool, error) {
	for _, existing := range t.state.ledger {
		if existing.PaymentID == e.PaymentID && existing.Kind == domain.LedgerEntryCommission {
			return false, nil
		}
	}

	e.ID = t.state.id()
	e.Kind = domain.LedgerEntryCommission
	e.UpdatedAt = e.CreatedAt
	t.state.ledger = append(t.state.ledger, *e)

	return true, nil
}

func (t *memoryTx) InsertClawback(ctx context.Context, e *domain.AffiliateLedgerEntry) error {
	e.ID = t.state.id()
	e.Kind = domain.LedgerEntryClawback
	e.UpdatedAt = e.CreatedAt
	t.state.ledger = append(t.state.ledger, *e)

	return nil
}

func (t *memoryTx) ListEntriesByPayment(ctx context.Context, paymentID uuid.UUID) ([]domain.AffiliateLedgerEntry, error) {
	return entriesByPayment(t.state, paymentID), nil
}

func (t *memoryTx) ListPayableEntries(ctx context.Context, referrerID int) ([]domain.AffiliateLedgerEntry, error) {
	out := make([]domain.AffiliateLedgerEntry, 0)

	for _, e := range t.state.ledger {
		if e.ReferrerID != referrerID {
			continue
		}

		confirmedCommission := e.Kind == domain.LedgerEntryCommission && e.Status == domain.LedgerEntryConfirmed
		pendingClawback := e.Kind == domain.LedgerEntryClawback && e.Status == domain.LedgerEntryPending
		if confirmedCommission || pendingClawback {
			out = append(out, e)
		}
	}

	return out, nil
}

func (t *memoryTx) SetEntryStatus(
	ctx context.Context,
	ids []int,
	status domain.LedgerEntryStatus,
	at time.Time) error {

	wanted := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	for i := range t.state.ledger {
		if _, ok := wanted[t.state.ledger[i].ID]; ok {
			t.state.ledger[i].Status = status
			t.state.ledger[i].UpdatedAt = at
		}
	}

	return nil
}

func (t *memoryTx) ConfirmMaturedEntries(ctx context.Context, createdBefore time.Time) (int, error) {
	confirmed := 0

	for i := range t.state.ledger {
		e := &t.state.ledger[i]
		if e.Kind == domain.LedgerEntryCommission && e.Status == domain.LedgerEntryPending && e.CreatedAt.Before(createdBefore) {
			e.Status = domain.LedgerEntryConfirmed
			e.UpdatedAt = time.Now()
			confirmed++
		}
	}

	return confirmed, nil
}

func (t *memoryTx) AdjustReferrerBalance(
	ctx context.Context,
	referrerID int,
	currency string,
	pendingDelta, paidDelta int64) error {

	key := balanceKey{referrerID: referrerID, currency: currency}

	balance := t.state.balances[key]
	balance.ReferrerID = referrerID
	balance.Currency = currency
	balance.Pending += pendingDelta
	balance.Paid += paidDelta
	t.state.balances[key] = balance

	return nil
}

func (t *memoryTx) AdjustRevenue(ctx context.Context, d domain.RevenueDelta) error {
	for _, bucket := range []string{domain.RevenueBucketTotal, domain.RevenueBucket(d.At)} {
		key := revenueKey{ownerID: d.OwnerID, currency: d.Currency, bucket: bucket}

		agg := t.state.revenue[key]
		agg.OwnerID = d.OwnerID
		agg.Currency = d.Currency
		agg.Bucket = bucket
		agg.Gross += d.Gross
		agg.Refunded += d.Refunded
		agg.Net = agg.Gross - agg.Refunded
		t.state.revenue[key] = agg
	}

	return nil
}

func (t *memoryTx) RebuildRevenue(ctx context.Context, ownerID int) error {
	for key := range t.state.revenue {
		if key.ownerID == ownerID {
			delete(t.state.revenue, key)
		}
	}

	for _, p := range t.state.payments {
		settled := p.Status == domain.PaymentStatusCompleted || p.Status == domain.PaymentStatusRefunded
		if p.OwnerID != ownerID || !settled || p.CompletedAt == nil {
			continue
		}

		err := t.AdjustRevenue(ctx, domain.RevenueDelta{
			OwnerID:  ownerID,
			Currency: p.Currency,
			Gross:    p.Amount,
			Refunded: p.RefundedAmount,
			At:       *p.CompletedAt,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *memoryTx) GetSubscriptionForUpdate(ctx context.Context, externalID string) (*domain.Subscription, error) {
	s, ok := t.state.subscriptions[externalID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return &s, nil
}

func (t *memoryTx) UpsertSubscription(ctx context.Context, s *domain.Subscription) error {
	now := time.Now()

	existing, ok := t.state.subscriptions[s.ExternalID]
	if ok {
		s.ID = existing.ID
		s.UserID = existing.UserID
		s.Item = existing.Item
		s.SourcePaymentID = existing.SourcePaymentID
		s.CreatedAt = existing.CreatedAt
	} else {
		s.ID = t.state.id()
		s.CreatedAt = now
	}

	s.UpdatedAt = now
	t.state.subscriptions[s.ExternalID] = *s

	return nil
}

var (
	_ domain.Ledger                 = (*MemoryLedger)(nil)
	_ domain.LedgerTx               = (*memoryTx)(nil)
	_ domain.PaymentRepository      = (*MemoryLedger)(nil)
	_ domain.EntitlementRepository  = (*MemoryLedger)(nil)
	_ domain.AffiliateRepository    = (*MemoryLedger)(nil)
	_ domain.SubscriptionRepository = (*MemorySubscriptions)(nil)
	_ domain.RevenueRepository      = (*MemoryLedger)(nil)
	_ domain.CatalogRepository      = (*MemoryLedger)(nil)
)
