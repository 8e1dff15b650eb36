package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/metinatakli/coursehub/api"
	"github.com/metinatakli/coursehub/internal/billing"
	"github.com/metinatakli/coursehub/internal/domain"
	"github.com/metinatakli/coursehub/internal/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type CheckoutTestSuite struct {
	suite.Suite
	app     *Application
	billing *mocks.MockBillingService
}

func (s *CheckoutTestSuite) SetupTest() {
	s.billing = new(mocks.MockBillingService)

	s.app = newTestApplication(func(a *Application) {
		a.billing = s.billing
	})
}

func TestCheckoutSuite(t *testing.T) {
	suite.Run(t, new(CheckoutTestSuite))
}

func (s *CheckoutTestSuite) TestCreateCheckoutSessionHandler() {
	attemptId := uuid.New()
	expiresAt := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)

	tests := []struct {
		name           string
		body           any
		setupMocks     func()
		wantStatus     int
		wantErrMessage string
		wantResponse   *api.CheckoutSessionResponse
	}{
		{
			name:       "should fail when body is not valid JSON",
			body:       "not-an-object",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "should fail when item kind is unknown",
			body: api.CreateCheckoutSessionRequest{
				Item: api.ItemRef{Kind: "ebook", Id: 1},
			},
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "must be one of course, community or platform",
		},
		{
			name: "should fail when referral code is malformed",
			body: api.CreateCheckoutSessionRequest{
				Item:          api.ItemRef{Kind: api.Course, Id: 1},
				AffiliateCode: ptr("not a code"),
			},
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "must contain only letters, digits, dashes and underscores",
		},
		{
			name: "should fail when item does not exist",
			body: api.CreateCheckoutSessionRequest{
				Item: api.ItemRef{Kind: api.Course, Id: 99},
			},
			setupMocks: func() {
				s.billing.On("StartCheckout", mock.Anything, mock.Anything).
					Return(nil, domain.ErrItemNotFound).Once()
			},
			wantStatus:     http.StatusNotFound,
			wantErrMessage: domain.ErrItemNotFound.Message,
		},
		{
			name: "should fail when user already owns the item",
			body: api.CreateCheckoutSessionRequest{
				Item: api.ItemRef{Kind: api.Course, Id: 7},
			},
			setupMocks: func() {
				s.billing.On("StartCheckout", mock.Anything, mock.Anything).
					Return(nil, domain.ErrAlreadyOwned).Once()
			},
			wantStatus:     http.StatusConflict,
			wantErrMessage: domain.ErrAlreadyOwned.Message,
		},
		{
			name: "should fail when the processor is unavailable",
			body: api.CreateCheckoutSessionRequest{
				Item: api.ItemRef{Kind: api.Course, Id: 7},
			},
			setupMocks: func() {
				s.billing.On("StartCheckout", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("creating checkout session: %w", domain.ErrProcessorUnavailable)).Once()
			},
			wantStatus:     http.StatusServiceUnavailable,
			wantErrMessage: ErrProcessorUnavailable,
		},
		{
			name: "should fail with internal error on unclassified failures",
			body: api.CreateCheckoutSessionRequest{
				Item: api.ItemRef{Kind: api.Course, Id: 7},
			},
			setupMocks: func() {
				s.billing.On("StartCheckout", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("connection reset")).Once()
			},
			wantStatus:     http.StatusInternalServerError,
			wantErrMessage: ErrInternalServer,
		},
		{
			name: "should create checkout session",
			body: api.CreateCheckoutSessionRequest{
				Item:          api.ItemRef{Kind: api.Community, Id: 3},
				AffiliateCode: ptr("ALICE"),
				Currency:      ptr("eur"),
			},
			setupMocks: func() {
				want := billing.CheckoutInput{
					UserID:        1,
					Item:          domain.ItemRef{Kind: domain.ItemKindCommunity, ID: 3},
					AffiliateCode: "ALICE",
					Currency:      "eur",
				}

				s.billing.On("StartCheckout", mock.Anything, want).
					Return(&billing.CheckoutResult{
						AttemptID:   attemptId,
						RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_1",
						ExpiresAt:   expiresAt,
					}, nil).Once()
			},
			wantStatus: http.StatusCreated,
			wantResponse: &api.CheckoutSessionResponse{
				AttemptId:   attemptId,
				RedirectUrl: "https://checkout.stripe.com/c/pay/cs_test_1",
				ExpiresAt:   expiresAt,
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			defer s.billing.AssertExpectations(s.T())

			if tt.setupMocks != nil {
				tt.setupMocks()
			}

			w, r := executeRequest(s.T(), http.MethodPost, "/checkout/session", tt.body)
			r = setupTestSession(s.T(), s.app, r, 1)

			authenticated(s.app, s.app.CreateCheckoutSessionHandler).ServeHTTP(w, r)

			s.Equal(tt.wantStatus, w.Code)

			if tt.wantResponse != nil {
				var response api.CheckoutSessionResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				s.Require().NoError(err, "Failed to decode response")

				s.Equal(tt.wantResponse.AttemptId, response.AttemptId)
				s.Equal(tt.wantResponse.RedirectUrl, response.RedirectUrl)
				s.True(tt.wantResponse.ExpiresAt.Equal(response.ExpiresAt))
			}

			checkErrorResponse(s.T(), w, struct {
				wantStatus     int
				wantErrMessage string
			}{
				wantStatus:     tt.wantStatus,
				wantErrMessage: tt.wantErrMessage,
			})
		})
	}
}

func (s *CheckoutTestSuite) TestCreateCheckoutSessionRequiresSession() {
	w, r := executeRequest(s.T(), http.MethodPost, "/checkout/session", api.CreateCheckoutSessionRequest{
		Item: api.ItemRef{Kind: api.Course, Id: 1},
	})

	authenticated(s.app, s.app.CreateCheckoutSessionHandler).ServeHTTP(w, r)

	s.Equal(http.StatusUnauthorized, w.Code)
	s.billing.AssertNotCalled(s.T(), "StartCheckout", mock.Anything, mock.Anything)
}

func (s *CheckoutTestSuite) TestVerifyCheckoutHandler() {
	attemptId := uuid.New()
	grantedAt := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		name           string
		body           any
		setupMocks     func()
		wantStatus     int
		wantErrMessage string
		wantResponse   *api.VerifyCheckoutResponse
	}{
		{
			name:           "should fail when session id is missing",
			body:           api.VerifyCheckoutRequest{},
			wantStatus:     http.StatusUnprocessableEntity,
			wantErrMessage: "is required",
		},
		{
			name: "should fail when the session belongs to no payment of the user",
			body: api.VerifyCheckoutRequest{SessionId: "cs_test_other"},
			setupMocks: func() {
				s.billing.On("Verify", mock.Anything, 1, "cs_test_other").
					Return(nil, domain.ErrPaymentNotFound).Once()
			},
			wantStatus:     http.StatusNotFound,
			wantErrMessage: domain.ErrPaymentNotFound.Message,
		},
		{
			name: "should fail when the processor cannot be reached",
			body: api.VerifyCheckoutRequest{SessionId: "cs_test_1"},
			setupMocks: func() {
				s.billing.On("Verify", mock.Anything, 1, "cs_test_1").
					Return(nil, fmt.Errorf("fetching checkout session: %w", domain.ErrProcessorUnavailable)).Once()
			},
			wantStatus:     http.StatusServiceUnavailable,
			wantErrMessage: ErrProcessorUnavailable,
		},
		{
			name: "should report a pending payment",
			body: api.VerifyCheckoutRequest{SessionId: "cs_test_1"},
			setupMocks: func() {
				s.billing.On("Verify", mock.Anything, 1, "cs_test_1").
					Return(&billing.VerifyResult{
						Payment: &domain.Payment{ID: attemptId, Status: domain.PaymentStatusPending},
					}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantResponse: &api.VerifyCheckoutResponse{
				AttemptId:    attemptId,
				Status:       api.Pending,
				Entitlements: []api.Entitlement{},
			},
		},
		{
			name: "should report the completed payment with entitlements",
			body: api.VerifyCheckoutRequest{SessionId: "cs_test_1"},
			setupMocks: func() {
				s.billing.On("Verify", mock.Anything, 1, "cs_test_1").
					Return(&billing.VerifyResult{
						Payment: &domain.Payment{ID: attemptId, Status: domain.PaymentStatusCompleted},
						Entitlements: []domain.Entitlement{{
							UserID:    1,
							Item:      domain.ItemRef{Kind: domain.ItemKindCourse, ID: 7},
							Tier:      domain.TierMember,
							GrantedAt: grantedAt,
						}},
					}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantResponse: &api.VerifyCheckoutResponse{
				AttemptId: attemptId,
				Status:    api.Completed,
				Entitlements: []api.Entitlement{{
					Item:      api.ItemRef{Kind: api.Course, Id: 7},
					Tier:      domain.TierMember,
					GrantedAt: grantedAt,
				}},
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()

			defer s.billing.AssertExpectations(s.T())

			if tt.setupMocks != nil {
				tt.setupMocks()
			}

			w, r := executeRequest(s.T(), http.MethodPost, "/checkout/verify", tt.body)
			r = setupTestSession(s.T(), s.app, r, 1)

			authenticated(s.app, s.app.VerifyCheckoutHandler).ServeHTTP(w, r)

			s.Equal(tt.wantStatus, w.Code)

			if tt.wantResponse != nil {
				var response api.VerifyCheckoutResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				s.Require().NoError(err, "Failed to decode response")

				s.Equal(tt.wantResponse.AttemptId, response.AttemptId)
				s.Equal(tt.wantResponse.Status, response.Status)
				s.Require().Len(response.Entitlements, len(tt.wantResponse.Entitlements))

				for i, e := range tt.wantResponse.Entitlements {
					s.Equal(e.Item, response.Entitlements[i].Item)
					s.Equal(e.Tier, response.Entitlements[i].Tier)
					s.True(e.GrantedAt.Equal(response.Entitlements[i].GrantedAt))
				}
			}

			checkErrorResponse(s.T(), w, struct {
				wantStatus     int
				wantErrMessage string
			}{
				wantStatus:     tt.wantStatus,
				wantErrMessage: tt.wantErrMessage,
			})
		})
	}
}
