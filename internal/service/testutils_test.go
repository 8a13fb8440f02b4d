package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/mocks"
	"github.com/metinatakli/cinema-booking/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testShowtimeID = 5
	seatA12        = 12
	seatA13        = 13
	seatVIP        = 14

	alice = 1
	bob   = 2

	popcornID = 1
	sodaID    = 2
	nachosID  = 3
)

var testStart = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite

	ctx   context.Context
	clock *clock.Fake

	lockStore      *repository.MemorySeatLockStore
	ticketRepo     *repository.MemoryTicketRepository
	paymentRepo    *repository.MemoryPaymentRepository
	promotionRepo  *repository.MemoryPromotionRepository
	concessionRepo *repository.MemoryConcessionRepository
	sessionStore   *repository.MemoryBookingSessionStore

	gateway   *mocks.MockPaymentGateway
	publisher *mocks.MockEventPublisher

	locks        *SeatLockService
	promotions   *PromotionService
	concessions  *ConcessionService
	tickets      *TicketService
	orchestrator *PaymentOrchestrator
	booking      *BookingService

	mu    sync.Mutex
	slept []time.Duration
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewFake(testStart)
	s.slept = nil

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.lockStore = repository.NewMemorySeatLockStore(s.clock)
	s.ticketRepo = repository.NewMemoryTicketRepository(s.clock)
	s.paymentRepo = repository.NewMemoryPaymentRepository(s.clock)
	s.sessionStore = repository.NewMemoryBookingSessionStore(s.clock)
	s.promotionRepo = repository.NewMemoryPromotionRepository(testPromotions()...)
	s.concessionRepo = repository.NewMemoryConcessionRepository(s.clock,
		domain.ConcessionItem{ID: popcornID, Name: "Popcorn", Price: decimal.NewFromInt(50000), Available: true},
		domain.ConcessionItem{ID: sodaID, Name: "Soda", Price: decimal.NewFromInt(30000), Available: true},
		domain.ConcessionItem{ID: nachosID, Name: "Nachos", Price: decimal.NewFromInt(45000), Available: false},
	)
	repository.ShareMemoryLedger(s.paymentRepo, s.ticketRepo, s.concessionRepo)

	seats := repository.NewMemorySeatRepository(domain.ShowtimeSeats{
		ShowtimeID:  testShowtimeID,
		TheaterName: "Downtown",
		MovieName:   "Arrival",
		HallName:    "Hall 1",
		Date:        testStart.Add(2 * time.Hour),
		HallID:      1,
		Price:       decimal.NewFromInt(120000),
		Seats: []domain.Seat{
			{ID: seatA12, Row: 1, Col: 12, Type: "standard", ExtraPrice: decimal.Zero},
			{ID: seatA13, Row: 1, Col: 13, Type: "standard", ExtraPrice: decimal.Zero},
			{ID: seatVIP, Row: 1, Col: 14, Type: "vip", ExtraPrice: decimal.NewFromInt(30000)},
		},
	})

	s.gateway = new(mocks.MockPaymentGateway)
	s.publisher = new(mocks.MockEventPublisher)
	s.publisher.On("PublishBookingConfirmed", mock.Anything, mock.Anything).Return(nil).Maybe()

	s.locks = NewSeatLockService(s.lockStore, seats, s.ticketRepo, s.paymentRepo, logger, nil, DefaultLockTTL)
	s.promotions = NewPromotionService(s.promotionRepo, s.clock, logger, 0)
	s.concessions = NewConcessionService(s.concessionRepo, s.clock, logger)
	s.tickets = NewTicketService(s.ticketRepo, s.paymentRepo, seats, s.locks, s.promotions, s.clock, logger, nil)

	s.orchestrator = NewPaymentOrchestrator(PaymentOrchestratorDeps{
		Payments:    s.paymentRepo,
		Tickets:     s.tickets,
		Concessions: s.concessions,
		Promotions:  s.promotions,
		Locks:       s.locks,
		Gateway:     s.gateway,
		Publisher:   s.publisher,
		Clock:       s.clock,
		Logger:      logger,
	}, PaymentOrchestratorConfig{
		Currency: "vnd",
		Retry:    RetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Sleep:    s.fakeSleep,
	})

	s.booking = NewBookingService(s.sessionStore, s.locks, s.tickets, s.concessions, s.orchestrator, s.clock, logger, BookingConfig{
		LockTTL: DefaultLockTTL,
	})
}

func (s *ServiceSuite) TearDownTest() {
	s.orchestrator.Close()
}

func (s *ServiceSuite) fakeSleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()

	s.clock.Advance(d)

	return ctx.Err()
}

func (s *ServiceSuite) sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.slept...)
}

func testPromotions() []domain.Promotion {
	window := func(p domain.Promotion) domain.Promotion {
		p.StartsAt = testStart.Add(-24 * time.Hour)
		p.EndsAt = testStart.Add(30 * 24 * time.Hour)
		p.Status = domain.PromotionStatusActive
		return p
	}

	expired := window(domain.Promotion{Code: "SUMMER", DiscountType: domain.DiscountTypePercentage, DiscountValue: decimal.NewFromInt(20)})
	expired.EndsAt = testStart.Add(-time.Hour)

	inactive := window(domain.Promotion{Code: "PAUSED", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(1000)})
	inactive.Status = domain.PromotionStatusInactive

	return []domain.Promotion{
		window(domain.Promotion{Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, DiscountValue: decimal.NewFromInt(10)}),
		window(domain.Promotion{Code: "FIXED50K", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(50000)}),
		window(domain.Promotion{Code: "FREE", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(10000000)}),
		window(domain.Promotion{Code: "THIRD", DiscountType: domain.DiscountTypePercentage, DiscountValue: decimal.RequireFromString("33.3333")}),
		window(domain.Promotion{Code: "ONCE", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(10000), MaxUsage: 1}),
		window(domain.Promotion{Code: "USEDUP", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(10000), MaxUsage: 5, UsedCount: 5}),
		window(domain.Promotion{Code: "BIGSPEND", DiscountType: domain.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(10000), MinBasis: decimal.NewFromInt(300000)}),
		expired,
		inactive,
	}
}

func (s *ServiceSuite) lock(holderID int, seatIDs ...int) {
	_, err := s.locks.Acquire(s.ctx, testShowtimeID, seatIDs, holderID, 0)
	s.Require().NoError(err)
}

func (s *ServiceSuite) provision(holderID int, code string, seatIDs ...int) []domain.Ticket {
	tickets, err := s.tickets.Provision(s.ctx, ProvisionRequest{
		ShowtimeID:    testShowtimeID,
		SeatIDs:       seatIDs,
		HolderID:      holderID,
		PromotionCode: code,
	})
	s.Require().NoError(err)

	return tickets
}

func (s *ServiceSuite) expectIntent(ref string) {
	s.gateway.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.Intent{TransactionRef: ref, RedirectURL: "https://pay.example.com/" + ref}, nil).
		Once()
}

func (s *ServiceSuite) initiate(holderID int, tickets []domain.Ticket, orderIDs ...string) *domain.Payment {
	payment, err := s.orchestrator.Initiate(s.ctx, InitiateRequest{
		HolderID:           holderID,
		Email:              "moviegoer@example.com",
		TicketIDs:          domain.TicketIds(tickets),
		ConcessionOrderIDs: orderIDs,
		Method:             domain.PaymentMethodCard,
	})
	s.Require().NoError(err)

	return payment
}

func (s *ServiceSuite) ticketStatus(id string) domain.TicketStatus {
	tickets, err := s.ticketRepo.GetByIds(s.ctx, []string{id})
	s.Require().NoError(err)
	s.Require().Len(tickets, 1)

	return tickets[0].Status
}

func (s *ServiceSuite) seatStatus(seatID int) domain.SeatState {
	states, err := s.locks.States(s.ctx, testShowtimeID, []int{seatID})
	s.Require().NoError(err)
	s.Require().Len(states, 1)

	return states[0]
}

func ptr[T any](v T) *T {
	return &v
}
