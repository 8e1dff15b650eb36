package mocks

import (
	"context"

	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) StartCheckout(ctx context.Context, in billing.CheckoutInput) (*billing.CheckoutResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutResult), args.Error(1)
}

func (m *MockBillingService) Verify(ctx context.Context, userID int, sessionID string) (*billing.VerifyResult, error) {
	args := m.Called(ctx, userID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.VerifyResult), args.Error(1)
}

func (m *MockBillingService) CaptureReferral(
	ctx context.Context,
	userID int,
	code string,
	ref domain.ItemRef) (*billing.Referral, error) {

	args := m.Called(ctx, userID, code, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Referral), args.Error(1)
}

func (m *MockBillingService) Entitlements(ctx context.Context, userID int) ([]domain.Entitlement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Entitlement), args.Error(1)
}

func (m *MockBillingService) Balance(ctx context.Context, referrerID int, currency string) (*domain.ReferrerBalance, error) {
	args := m.Called(ctx, referrerID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReferrerBalance), args.Error(1)
}

func (m *MockBillingService) HandleEvent(ctx context.Context, ev *domain.ProcessorEvent) (billing.Outcome, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(billing.Outcome), args.Error(1)
}

func (m *MockBillingService) SyncSubscription(ctx context.Context, externalID string) (billing.Outcome, error) {
	args := m.Called(ctx, externalID)
	return args.Get(0).(billing.Outcome), args.Error(1)
}

func (m *MockBillingService) Payout(ctx context.Context, referrerID int) (*billing.Payout, error) {
	args := m.Called(ctx, referrerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Payout), args.Error(1)
}

func (m *MockBillingService) Revenue(
	ctx context.Context,
	ownerID int,
	currency, bucket string) (*domain.RevenueAggregate, error) {

	args := m.Called(ctx, ownerID, currency, bucket)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RevenueAggregate), args.Error(1)
}

func (m *MockBillingService) RebuildRevenue(ctx context.Context, ownerID int) error {
	args := m.Called(ctx, ownerID)
	return args.Error(0)
}

func (m *MockBillingService) SweepSubscriptions(ctx context.Context) (*billing.SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.SweepResult), args.Error(1)
}

func (m *MockBillingService) ConfirmMatured(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockBillingService) Wait() {
	m.Called()
}
