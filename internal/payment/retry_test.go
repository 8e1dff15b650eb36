package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type mockProcessor struct {
	mock.Mock
	domain.PaymentProcessor
}

func (m *mockProcessor) CreateCheckoutSession(
	ctx context.Context,
	req domain.CheckoutRequest) (*domain.CheckoutSession, error) {

	args := m.Called(ctx, req)
	cs, _ := args.Get(0).(*domain.CheckoutSession)
	return cs, args.Error(1)
}

func (m *mockProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.ProcessorTransaction, error) {
	args := m.Called(ctx, sessionID)
	tx, _ := args.Get(0).(*domain.ProcessorTransaction)
	return tx, args.Error(1)
}

func fastBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func TestRetryingProcessor(t *testing.T) {
	req := domain.CheckoutRequest{IdempotencyKey: uuid.NewString(), AttemptID: uuid.New()}
	session := &domain.CheckoutSession{ID: "cs_1", RedirectURL: "https://checkout.example.com/cs_1"}

	tests := []struct {
		name      string
		setup     func(m *mockProcessor)
		wantErr   error
		wantCalls int
	}{
		{
			name: "should return the session on the first success",
			setup: func(m *mockProcessor) {
				m.On("CreateCheckoutSession", mock.Anything, req).Return(session, nil).Once()
			},
			wantCalls: 1,
		},
		{
			name: "should retry rate limiting and server errors with the same request",
			setup: func(m *mockProcessor) {
				m.On("CreateCheckoutSession", mock.Anything, req).
					Return(nil, &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}).Once()
				m.On("CreateCheckoutSession", mock.Anything, req).
					Return(nil, &stripe.Error{HTTPStatusCode: http.StatusBadGateway}).Once()
				m.On("CreateCheckoutSession", mock.Anything, req).Return(session, nil).Once()
			},
			wantCalls: 3,
		},
		{
			name: "should not retry client errors",
			setup: func(m *mockProcessor) {
				m.On("CreateCheckoutSession", mock.Anything, req).
					Return(nil, &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Msg: "bad currency"}).Once()
			},
			wantCalls: 1,
		},
		{
			name: "should surface processor unavailable once retries are exhausted",
			setup: func(m *mockProcessor) {
				m.On("CreateCheckoutSession", mock.Anything, req).
					Return(nil, errors.New("connection reset by peer"))
			},
			wantErr:   domain.ErrProcessorUnavailable,
			wantCalls: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(mockProcessor)
			tt.setup(m)

			p := NewRetryingProcessor(m, fastBackoff)

			cs, err := p.CreateCheckoutSession(context.Background(), req)

			m.AssertNumberOfCalls(t, "CreateCheckoutSession", tt.wantCalls)

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, domain.KindProcessorUnavailable, domain.KindOf(err))
			case tt.wantCalls == 1 && cs == nil:
				var stripeErr *stripe.Error
				require.True(t, errors.As(err, &stripeErr))
				assert.Equal(t, http.StatusBadRequest, stripeErr.HTTPStatusCode)
			default:
				require.NoError(t, err)
				assert.Equal(t, session, cs)
			}
		})
	}
}

func TestRetryingProcessorStopsOnCanceledContext(t *testing.T) {
	m := new(mockProcessor)
	m.On("GetCheckoutSession", mock.Anything, "cs_1").Return(nil, errors.New("timeout"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewRetryingProcessor(m, func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Hour)
	})

	_, err := p.GetCheckoutSession(ctx, "cs_1")
	require.Error(t, err)
	m.AssertNumberOfCalls(t, "GetCheckoutSession", 1)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(&stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}))
	assert.False(t, IsTransient(&stripe.Error{HTTPStatusCode: http.StatusNotFound}))
	assert.False(t, IsTransient(domain.ErrSignatureInvalid))
	assert.False(t, IsTransient(context.Canceled))
}
