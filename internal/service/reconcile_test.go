package service

import (
	"testing"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ReconcileSuite struct {
	ServiceSuite
}

func TestReconcileSuite(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}

func (s *ReconcileSuite) redirected(ref string) (*domain.Payment, []domain.Ticket) {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "", seatA12)

	s.expectIntent(ref)

	return s.initiate(alice, tickets), tickets
}

func processing(ref string, next *time.Time) *domain.GatewayResult {
	return &domain.GatewayResult{TransactionRef: ref, Outcome: domain.GatewayOutcomeProcessing, ResponseCode: "07", NextQueryAt: next}
}

func completed(ref string) *domain.GatewayResult {
	return &domain.GatewayResult{TransactionRef: ref, Outcome: domain.GatewayOutcomeCompleted, ResponseCode: "00"}
}

func (s *ReconcileSuite) TestExhaustedBudgetLeavesPaymentIndeterminate() {
	payment, tickets := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Times(5)
	s.gateway.On("LookupPayment", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.ErrorIs(err, domain.ErrReconciliationIndeterminate)
	s.Require().NotNil(result)

	s.Equal(domain.PaymentStateIndeterminate, result.State)
	s.Equal(domain.PaymentStatusPending, result.Status())
	s.Equal("07", *result.ResponseCode)
	s.Nil(result.LeaseUntil)

	s.gateway.AssertNumberOfCalls(s.T(), "QueryStatus", 5)
	s.gateway.AssertNumberOfCalls(s.T(), "LookupPayment", 1)

	s.Equal([]time.Duration{
		8 * time.Second,
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
	}, s.sleeps())

	// Nothing is unwound while the outcome is unknown.
	s.Equal(domain.TicketStatusPending, s.ticketStatus(tickets[0].ID))
	state := s.seatStatus(seatA12)
	s.Equal(domain.SeatStatusLocked, state.Status)
	s.Equal(alice, state.HolderID)
}

func (s *ReconcileSuite) TestCompletesOnLaterAttempt() {
	payment, tickets := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Once()
	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(completed("ref-1"), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCompleted, result.State)
	s.Equal("00", *result.ResponseCode)
	s.Equal(domain.TicketStatusConfirmed, s.ticketStatus(tickets[0].ID))
	s.Equal([]time.Duration{8 * time.Second, 5 * time.Second}, s.sleeps())
	s.gateway.AssertNotCalled(s.T(), "LookupPayment", mock.Anything, mock.Anything)
}

func (s *ReconcileSuite) TestFailedStatusUnwinds() {
	payment, tickets := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").
		Return(&domain.GatewayResult{TransactionRef: "ref-1", Outcome: domain.GatewayOutcomeCancelled, ResponseCode: "24"}, nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCancelled, result.State)
	s.Equal(domain.PaymentStatusCancelled, result.Status())
	s.Equal(domain.TicketStatusCancelled, s.ticketStatus(tickets[0].ID))
	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA12).Status)
}

func (s *ReconcileSuite) TestHonorsNextQueryHint() {
	payment, _ := s.redirected("ref-1")

	firstQuery := testStart.Add(8 * time.Second)
	secondQuery := firstQuery.Add(30 * time.Second)

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", ptr(secondQuery)), nil).Once()
	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", ptr(secondQuery.Add(time.Second))), nil).Once()
	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(completed("ref-1"), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStateCompleted, result.State)

	// A hint closer than the minimum spacing is pushed back to it.
	s.Equal([]time.Duration{8 * time.Second, 30 * time.Second, 2 * time.Second}, s.sleeps())
}

func (s *ReconcileSuite) TestLookupResolvesAfterFailedQueries() {
	payment, tickets := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(nil, domain.ErrGatewayUnreachable).Times(5)
	s.gateway.On("LookupPayment", mock.Anything, "ref-1").Return(completed("ref-1"), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCompleted, result.State)
	s.Equal(domain.TicketStatusConfirmed, s.ticketStatus(tickets[0].ID))
}

func (s *ReconcileSuite) TestLeaseBlocksSecondPoller() {
	payment, _ := s.redirected("ref-1")

	now := s.clock.Now()
	won, err := s.paymentRepo.BeginReconcile(s.ctx, payment.ID, now, now.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().True(won)

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateReconciling, result.State)
	s.gateway.AssertNotCalled(s.T(), "QueryStatus", mock.Anything, mock.Anything)
	s.Empty(s.sleeps())
}

func (s *ReconcileSuite) TestExpiredLeaseIsTakenOver() {
	payment, _ := s.redirected("ref-1")

	now := s.clock.Now()
	_, err := s.paymentRepo.BeginReconcile(s.ctx, payment.ID, now, now.Add(time.Minute))
	s.Require().NoError(err)

	s.clock.Advance(time.Minute)
	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(completed("ref-1"), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStateCompleted, result.State)
}

func (s *ReconcileSuite) TestTerminalPaymentIsNotPolled() {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "FREE", seatA12)
	payment := s.initiate(alice, tickets)

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCompleted, result.State)
	s.gateway.AssertNotCalled(s.T(), "QueryStatus", mock.Anything, mock.Anything)
}

func (s *ReconcileSuite) TestIndeterminatePaymentIsRetried() {
	payment, tickets := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Times(5)
	s.gateway.On("LookupPayment", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Once()

	_, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().ErrorIs(err, domain.ErrReconciliationIndeterminate)

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(completed("ref-1"), nil).Once()

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCompleted, result.State)
	s.Equal(domain.TicketStatusConfirmed, s.ticketStatus(tickets[0].ID))
}

func (s *ReconcileSuite) TestCallbackWinsOverPoller() {
	payment, _ := s.redirected("ref-1")

	s.gateway.On("QueryStatus", mock.Anything, "ref-1").Return(processing("ref-1", nil), nil).Once().
		Run(func(mock.Arguments) {
			// The callback lands between two polls.
			_, err := s.orchestrator.apply(s.ctx, payment.ID, domain.PaymentClaim{State: domain.PaymentStateCompleted}, sourceCallback)
			s.Require().NoError(err)
		})

	result, err := s.orchestrator.Reconcile(s.ctx, payment.ID)
	s.Require().NoError(err)

	s.Equal(domain.PaymentStateCompleted, result.State)
	s.gateway.AssertNumberOfCalls(s.T(), "QueryStatus", 1)
	s.publisher.AssertNumberOfCalls(s.T(), "PublishBookingConfirmed", 1)
}

func (s *ReconcileSuite) TestStalled() {
	payment, _ := s.redirected("ref-1")

	q := StalledQuery{CallbackGrace: 2 * time.Minute, IndeterminateRetry: 15 * time.Minute}

	stalled, err := s.orchestrator.Stalled(s.ctx, q)
	s.Require().NoError(err)
	s.Empty(stalled)

	s.clock.Advance(2*time.Minute + time.Second)

	stalled, err = s.orchestrator.Stalled(s.ctx, q)
	s.Require().NoError(err)
	s.Require().Len(stalled, 1)
	s.Equal(payment.ID, stalled[0].ID)
}

func TestReconcilePolicyWait(t *testing.T) {
	p := DefaultReconcilePolicy()
	now := testStart

	tests := []struct {
		name    string
		attempt int
		hint    *time.Time
		want    time.Duration
	}{
		{name: "first attempt", attempt: 1, want: 8 * time.Second},
		{name: "first attempt ignores hint", attempt: 1, hint: ptr(now.Add(time.Hour)), want: 8 * time.Second},
		{name: "floor", attempt: 2, want: 5 * time.Second},
		{name: "doubles", attempt: 4, want: 20 * time.Second},
		{name: "capped", attempt: 10, want: time.Minute},
		{name: "hint", attempt: 2, hint: ptr(now.Add(17 * time.Second)), want: 17 * time.Second},
		{name: "hint below spacing", attempt: 3, hint: ptr(now.Add(500 * time.Millisecond)), want: 2 * time.Second},
		{name: "hint in the past", attempt: 3, hint: ptr(now.Add(-time.Minute)), want: 2 * time.Second},
		{name: "hint beyond max", attempt: 3, hint: ptr(now.Add(time.Hour)), want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Wait(tt.attempt, tt.hint, now); got != tt.want {
				t.Errorf("Wait(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}
