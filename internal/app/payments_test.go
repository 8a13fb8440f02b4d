package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metinatakli/cinema-booking/api"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type PaymentHandlerSuite struct {
	AppSuite
}

func TestPaymentHandlerSuite(t *testing.T) {
	suite.Run(t, new(PaymentHandlerSuite))
}

// redirected books seat 1 for testUserId and leaves the payment at the gateway.
func (s *PaymentHandlerSuite) redirected(ref string) api.PaymentResponse {
	s.readyToPay(testUserId, "", 1)
	s.expectIntent(ref)

	return s.checkout(testUserId).Payment
}

func (s *PaymentHandlerSuite) TestGetPayment() {
	payment := s.redirected("ref-1")

	tests := []struct {
		name           string
		userId         int
		paymentId      string
		wantStatus     int
		wantErrMessage string
	}{
		{
			name:       "owner",
			userId:     testUserId,
			paymentId:  payment.Id,
			wantStatus: http.StatusOK,
		},
		{
			name:           "another user",
			userId:         otherUserId,
			paymentId:      payment.Id,
			wantStatus:     http.StatusNotFound,
			wantErrMessage: ErrNotFound,
		},
		{
			name:           "unknown payment",
			userId:         testUserId,
			paymentId:      "3f1c2b8e-0000-4000-8000-000000000000",
			wantStatus:     http.StatusNotFound,
			wantErrMessage: ErrNotFound,
		},
		{
			name:           "unauthenticated",
			paymentId:      payment.Id,
			wantStatus:     http.StatusUnauthorized,
			wantErrMessage: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodGet, "/payments/"+tt.paymentId, nil, tt.userId)
			s.Equal(tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus == http.StatusOK {
				var got api.PaymentResponse
				s.decode(w, &got)
				s.Equal(payment.Id, got.Id)
				s.Equal(string(domain.PaymentStateGatewayRedirected), got.State)
				s.Len(got.TicketIds, 1)
				s.Len(got.ConcessionOrderIds, 1)
				return
			}

			checkErrorResponse(s.T(), w, struct {
				wantStatus     int
				wantErrMessage string
			}{tt.wantStatus, tt.wantErrMessage})
		})
	}
}

func (s *PaymentHandlerSuite) TestCancelPayment() {
	payment := s.redirected("ref-1")

	s.gateway.On("Void", mock.Anything, "ref-1").Return(nil).Once()

	w := s.do(http.MethodPost, "/payments/"+payment.Id+"/cancel", nil, testUserId)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var got api.PaymentResponse
	s.decode(w, &got)
	s.Equal(string(domain.PaymentStateFailed), got.State)
	s.Nil(got.RedirectUrl)
	s.Require().NotNil(got.ErrorMessage)
	s.Equal("cancelled by customer", *got.ErrorMessage)

	states, err := s.app.locks.States(s.T().Context(), testShowtimeId, []int{1})
	s.Require().NoError(err)
	s.Equal(domain.SeatStatusAvailable, states[0].Status)

	// A second cancel is a no-op on the terminal payment.
	w = s.do(http.MethodPost, "/payments/"+payment.Id+"/cancel", nil, testUserId)
	s.Equal(http.StatusOK, w.Code)
	s.gateway.AssertNumberOfCalls(s.T(), "Void", 1)
}

func (s *PaymentHandlerSuite) TestFormCallbackIsMergedIntoQuery() {
	payment := s.redirected("ref-1")

	s.gateway.On("ParseCallback", mock.Anything, mock.MatchedBy(func(p domain.CallbackPayload) bool {
		return p.Query.Get("ref") == "ref-1" && p.Query.Get("code") == "00"
	})).Return(&domain.GatewayResult{TransactionRef: "ref-1", Outcome: domain.GatewayOutcomeCompleted, ResponseCode: "00"}, nil).Once()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payments/callback?ref=ref-1", strings.NewReader("code=00"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	s.handler.ServeHTTP(w, req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var got api.PaymentResponse
	s.decode(w, &got)
	s.Equal(payment.Id, got.Id)
	s.Equal(string(domain.PaymentStateCompleted), got.State)
	s.Require().NotNil(got.ResponseCode)
	s.Equal("00", *got.ResponseCode)
}

func (s *PaymentHandlerSuite) TestProcessingCallbackStartsPolling() {
	payment := s.redirected("ref-1")

	s.gateway.On("ParseCallback", mock.Anything, mock.Anything).
		Return(&domain.GatewayResult{TransactionRef: "ref-1", Outcome: domain.GatewayOutcomeProcessing, ResponseCode: "07"}, nil).
		Once()
	s.gateway.On("QueryStatus", mock.Anything, "ref-1").
		Return(&domain.GatewayResult{TransactionRef: "ref-1", Outcome: domain.GatewayOutcomeCompleted, ResponseCode: "00"}, nil).
		Once()

	w := s.do(http.MethodGet, "/payments/callback?ref=ref-1", nil, 0)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var got api.PaymentResponse
	s.decode(w, &got)
	s.Equal(string(domain.PaymentStatusPending), got.Status)

	s.app.payments.Wait()

	stored, err := s.paymentRepo.GetById(s.T().Context(), payment.Id)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStateCompleted, stored.State)
}

func (s *PaymentHandlerSuite) TestCallbackErrors() {
	tests := []struct {
		name           string
		url            string
		parseErr       error
		wantStatus     int
		wantErrMessage string
	}{
		{
			name:           "bad signature",
			url:            "/payments/callback?ref=ref-1&sig=forged",
			parseErr:       domain.ErrInvalidCallback,
			wantStatus:     http.StatusBadRequest,
			wantErrMessage: domain.ErrInvalidCallback.Error(),
		},
		{
			name:           "unknown payment",
			url:            "/payments/callback?ref=missing",
			wantStatus:     http.StatusNotFound,
			wantErrMessage: ErrNotFound,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			defer s.TearDownTest()

			if tt.parseErr != nil {
				s.gateway.On("ParseCallback", mock.Anything, mock.Anything).Return(nil, tt.parseErr).Once()
			} else {
				s.gateway.On("ParseCallback", mock.Anything, mock.Anything).
					Return(&domain.GatewayResult{TransactionRef: "missing", Outcome: domain.GatewayOutcomeCompleted}, nil).
					Once()
			}

			w := s.do(http.MethodGet, tt.url, nil, 0)
			s.Equal(tt.wantStatus, w.Code, w.Body.String())

			checkErrorResponse(s.T(), w, struct {
				wantStatus     int
				wantErrMessage string
			}{tt.wantStatus, tt.wantErrMessage})
		})
	}
}

func (s *PaymentHandlerSuite) TestStripeWebhook() {
	tests := []struct {
		name       string
		parseErr   error
		wantStatus int
	}{
		{name: "unhandled event is acknowledged", parseErr: domain.ErrUnhandledEvent, wantStatus: http.StatusOK},
		{name: "bad signature", parseErr: domain.ErrInvalidCallback, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			defer s.TearDownTest()

			s.gateway.On("ParseCallback", mock.Anything, mock.Anything).Return(nil, tt.parseErr).Once()

			w := s.do(http.MethodPost, "/webhook/stripe", map[string]string{"type": "customer.created"}, 0)
			s.Equal(tt.wantStatus, w.Code, w.Body.String())
		})
	}
}
