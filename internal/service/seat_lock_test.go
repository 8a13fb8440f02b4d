package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type SeatLockSuite struct {
	ServiceSuite
}

func TestSeatLockSuite(t *testing.T) {
	suite.Run(t, new(SeatLockSuite))
}

func (s *SeatLockSuite) TestSecondHolderBlockedUntilExpiry() {
	ttl := 300 * time.Second

	expiresAt, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, alice, ttl)
	s.Require().NoError(err)
	s.Equal(testStart.Add(ttl), expiresAt)

	_, err = s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, bob, ttl)
	s.ErrorIs(err, domain.ErrSeatUnavailable)

	s.clock.Advance(ttl)

	_, err = s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, bob, ttl)
	s.Require().NoError(err)

	state := s.seatStatus(seatA12)
	s.Equal(domain.SeatStatusLocked, state.Status)
	s.Equal(bob, state.HolderID)
}

func (s *SeatLockSuite) TestAcquireIsAllOrNothing() {
	s.lock(alice, seatA12)

	_, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12, seatA13}, bob, 0)
	s.ErrorIs(err, domain.ErrSeatUnavailable)

	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA13).Status)
}

func (s *SeatLockSuite) TestReacquireByHolderExtendsLock() {
	s.lock(alice, seatA12)
	s.clock.Advance(time.Minute)

	expiresAt, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12, seatA12}, alice, 0)
	s.Require().NoError(err)
	s.Equal(testStart.Add(time.Minute+DefaultLockTTL), expiresAt)
}

func (s *SeatLockSuite) TestRenew() {
	tests := []struct {
		name    string
		holder  int
		advance time.Duration
		wantErr error
	}{
		{name: "holder renews", holder: alice, advance: time.Minute},
		{name: "other holder", holder: bob, advance: time.Minute, wantErr: domain.ErrLockNotOwned},
		{name: "expired lock", holder: alice, advance: DefaultLockTTL, wantErr: domain.ErrLockNotOwned},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			s.lock(alice, seatA12, seatA13)
			s.clock.Advance(tt.advance)

			expiresAt, err := s.locks.Renew(s.ctx, testShowtimeID, []int{seatA12, seatA13}, tt.holder, 0)

			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
				return
			}

			s.Require().NoError(err)
			s.Equal(s.clock.Now().Add(DefaultLockTTL), expiresAt)
		})
	}
}

func (s *SeatLockSuite) TestReleaseIsIdempotent() {
	s.lock(alice, seatA12)

	s.Require().NoError(s.locks.Release(s.ctx, testShowtimeID, []int{seatA12}))
	s.Require().NoError(s.locks.Release(s.ctx, testShowtimeID, []int{seatA12}))

	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA12).Status)
}

func (s *SeatLockSuite) TestReleaseHeldKeepsOtherHoldersLocks() {
	s.lock(alice, seatA12)

	s.Require().NoError(s.locks.ReleaseHeld(s.ctx, testShowtimeID, []int{seatA12}, bob))
	s.Equal(domain.SeatStatusLocked, s.seatStatus(seatA12).Status)

	s.Require().NoError(s.locks.ReleaseHeld(s.ctx, testShowtimeID, []int{seatA12}, alice))
	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA12).Status)
}

func (s *SeatLockSuite) TestSoldSeatCannotBeLocked() {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "", seatA12)

	_, err := s.tickets.Confirm(s.ctx, alice, domain.TicketIds(tickets))
	s.Require().NoError(err)

	s.Require().NoError(s.locks.Release(s.ctx, testShowtimeID, []int{seatA12}))

	_, err = s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, bob, 0)
	s.ErrorIs(err, domain.ErrSeatUnavailable)

	state := s.seatStatus(seatA12)
	s.Equal(domain.SeatStatusBooked, state.Status)
	s.Equal(alice, state.HolderID)
}

func (s *SeatLockSuite) TestLedgerWinsOverLostBookedMarker() {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "", seatA12)

	_, err := s.ticketRepo.Confirm(s.ctx, alice, domain.TicketIds(tickets))
	s.Require().NoError(err)

	// The lock store never heard about the sale and the lock has expired.
	s.clock.Advance(DefaultLockTTL)

	s.Equal(domain.SeatStatusBooked, s.seatStatus(seatA12).Status)

	_, err = s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, bob, 0)
	s.ErrorIs(err, domain.ErrSeatUnavailable)
}

func (s *SeatLockSuite) TestUnknownSeat() {
	_, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12, 999}, alice, 0)
	s.ErrorIs(err, domain.ErrRecordNotFound)

	_, err = s.locks.Acquire(s.ctx, 42, []int{seatA12}, alice, 0)
	s.ErrorIs(err, domain.ErrRecordNotFound)
}

func (s *SeatLockSuite) TestEmptySelection() {
	_, err := s.locks.Acquire(s.ctx, testShowtimeID, nil, alice, 0)
	s.ErrorIs(err, domain.ErrEmptySelection)
}

func (s *SeatLockSuite) TestConcurrentAcquireHasOneWinner() {
	const holders = 25

	var wins atomic.Int32
	var wg sync.WaitGroup

	for h := 1; h <= holders; h++ {
		wg.Add(1)

		go func(holderID int) {
			defer wg.Done()

			_, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA13, seatA12}, holderID, 0)
			if err == nil {
				wins.Add(1)
			}
		}(h)
	}

	wg.Wait()

	s.Equal(int32(1), wins.Load())

	a12, a13 := s.seatStatus(seatA12), s.seatStatus(seatA13)
	s.Equal(domain.SeatStatusLocked, a12.Status)
	s.Equal(a12.HolderID, a13.HolderID)
}

func (s *SeatLockSuite) TestSweepDropsExpiredLocks() {
	s.lock(alice, seatA12)
	s.lock(bob, seatA13)

	s.clock.Advance(DefaultLockTTL)
	s.lock(bob, seatVIP)

	removed, err := s.locks.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, removed)
	s.Equal(domain.SeatStatusLocked, s.seatStatus(seatVIP).Status)
}

func (s *SeatLockSuite) TestSeatBeingPaidForStaysUnavailable() {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "", seatA12)

	s.expectIntent("ref-alice")
	s.initiate(alice, tickets)

	s.clock.Advance(DefaultLockTTL)
	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA12).Status)

	_, err := s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12, seatA13}, bob, 0)
	s.ErrorIs(err, domain.ErrSeatUnavailable)
	s.Equal(domain.SeatStatusAvailable, s.seatStatus(seatA13).Status)

	// The payer can take the lock back.
	_, err = s.locks.Acquire(s.ctx, testShowtimeID, []int{seatA12}, alice, 0)
	s.Require().NoError(err)
	s.Equal(alice, s.seatStatus(seatA12).HolderID)
}

func (s *SeatLockSuite) TestSeatFreedOnceAbandonedPaymentFails() {
	s.lock(alice, seatA12)
	tickets := s.provision(alice, "", seatA12)

	s.expectIntent("ref-alice")
	payment := s.initiate(alice, tickets)

	s.gateway.On("Void", mock.Anything, "ref-alice").Return(nil).Once()
	_, err := s.orchestrator.CancelPayment(s.ctx, alice, payment.ID)
	s.Require().NoError(err)

	s.lock(bob, seatA12)
	s.Equal(bob, s.seatStatus(seatA12).HolderID)
}
