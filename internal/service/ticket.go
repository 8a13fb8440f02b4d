package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type ProvisionRequest struct {
	ShowtimeID    int
	SeatIDs       []int
	HolderID      int
	PromotionCode string
}

// TicketService owns the ticket lifecycle: PENDING tickets are provisioned against held
// seat locks, confirmed when a payment completes and cancelled on every unwind path.
type TicketService struct {
	tickets  domain.TicketRepository
	payments domain.PaymentRepository
	seats    domain.SeatRepository
	locks    *SeatLockService
	promos   *PromotionService
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
}

func NewTicketService(
	tickets domain.TicketRepository,
	payments domain.PaymentRepository,
	seats domain.SeatRepository,
	locks *SeatLockService,
	promos *PromotionService,
	clk clock.Clock,
	logger *slog.Logger,
	metrics *Metrics,
) *TicketService {
	return &TicketService{
		tickets:  tickets,
		payments: payments,
		seats:    seats,
		locks:    locks,
		promos:   promos,
		clock:    clk,
		logger:   logger,
		metrics:  metrics,
	}
}

// Provision returns one PENDING ticket per seat, ordered by seat ID. Tickets the holder
// already has for these seats are reused, so repeating a request never creates duplicates.
func (s *TicketService) Provision(ctx context.Context, req ProvisionRequest) ([]domain.Ticket, error) {
	seatIDs, err := normalizeSeatIds(req.SeatIDs)
	if err != nil {
		return nil, err
	}

	states, err := s.locks.States(ctx, req.ShowtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	for _, state := range states {
		if state.Status == domain.SeatStatusBooked {
			return nil, domain.ErrSeatUnavailable
		}

		if state.Status != domain.SeatStatusLocked || state.HolderID != req.HolderID {
			return nil, domain.ErrSeatNotLocked
		}
	}

	catalog, err := s.seats.GetSeatsByShowtimeAndSeatIds(ctx, req.ShowtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	if len(catalog.Seats) != len(seatIDs) {
		return nil, fmt.Errorf("%w: seat does not belong to showtime %d", domain.ErrRecordNotFound, req.ShowtimeID)
	}

	reusable, err := s.claimSeats(ctx, req.ShowtimeID, seatIDs, req.HolderID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := make([]domain.Ticket, 0, len(seatIDs))
	created := make(map[string]bool)

	for _, seatID := range seatIDs {
		if t, ok := reusable[seatID]; ok {
			result = append(result, t)
			continue
		}

		price, _ := catalog.SeatPrice(seatID)
		t := domain.NewTicket(req.ShowtimeID, seatID, req.HolderID, price, now)
		created[t.ID] = true
		result = append(result, t)
	}

	repriced, err := s.applyPromotion(ctx, result, req.PromotionCode, created)
	if err != nil {
		return nil, err
	}

	// Repricing fails with ErrPaymentConflict while a payment covers the tickets, so it
	// goes first and nothing is created on that path.
	if len(repriced) > 0 {
		if err := s.tickets.UpdatePricing(ctx, repriced); err != nil {
			return nil, err
		}
	}

	var fresh []domain.Ticket
	for _, t := range result {
		if created[t.ID] {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) > 0 {
		if err := s.tickets.CreateMany(ctx, fresh); err != nil {
			return nil, err
		}
	}

	s.logger.Info("tickets provisioned",
		"showtime_id", req.ShowtimeID,
		"holder_id", req.HolderID,
		"created", len(fresh),
		"reused", len(result)-len(fresh))

	return result, nil
}

// claimSeats returns the holder's PENDING tickets for the seats. PENDING tickets of other
// holders whose payment never started are cancelled, since the caller now holds the lock.
func (s *TicketService) claimSeats(ctx context.Context, showtimeID int, seatIDs []int, holderID int) (map[int]domain.Ticket, error) {
	active, err := s.tickets.GetActiveBySeats(ctx, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	reusable := make(map[int]domain.Ticket, len(active))
	var stale []domain.Ticket

	for _, t := range active {
		switch {
		case t.Status != domain.TicketStatusPending:
			return nil, domain.ErrSeatUnavailable
		case t.HolderID == holderID:
			reusable[t.SeatID] = t
		default:
			stale = append(stale, t)
		}
	}

	if len(stale) == 0 {
		return reusable, nil
	}

	open, err := s.payments.GetOpenByTickets(ctx, domain.TicketIds(stale))
	if err != nil {
		return nil, err
	}

	if len(open) > 0 {
		return nil, domain.ErrSeatUnavailable
	}

	cancelled, err := s.tickets.Cancel(ctx, domain.TicketIds(stale))
	if err != nil {
		return nil, err
	}

	if len(cancelled) != len(stale) {
		return nil, domain.ErrSeatUnavailable
	}

	s.logger.Info("cancelled stale tickets of previous holder", "showtime_id", showtimeID, "count", len(cancelled))

	return reusable, nil
}

// applyPromotion prices tickets in place and returns the existing tickets whose price changed.
// The discount is computed once on the aggregate and then split across tickets.
func (s *TicketService) applyPromotion(ctx context.Context, tickets []domain.Ticket, code string, created map[string]bool) ([]domain.Ticket, error) {
	prices := make([]decimal.Decimal, len(tickets))
	basis := decimal.Zero

	for i, t := range tickets {
		prices[i] = t.BasePrice
		basis = basis.Add(t.BasePrice)
	}

	discount := decimal.Zero
	var appliedCode string

	if code != "" {
		quote, err := s.promos.Validate(ctx, code, basis)
		if err != nil {
			return nil, err
		}

		discount = quote.DiscountAmount
		appliedCode = quote.Code
	}

	shares := domain.AllocateDiscount(prices, discount, s.promos.Places())
	var repriced []domain.Ticket

	for i := range tickets {
		t := &tickets[i]
		changed := !t.Discount.Equal(shares[i]) || t.PromotionCodeValue() != appliedCode

		t.Discount = shares[i]
		t.Price = t.BasePrice.Sub(shares[i])
		t.PromotionCode = nil
		if appliedCode != "" {
			c := appliedCode
			t.PromotionCode = &c
		}

		if changed && !created[t.ID] {
			repriced = append(repriced, *t)
		}
	}

	return repriced, nil
}

// Confirm moves all tickets to CONFIRMED and marks their seats booked.
func (s *TicketService) Confirm(ctx context.Context, holderID int, ticketIDs []string) ([]domain.Ticket, error) {
	confirmed, err := s.tickets.Confirm(ctx, holderID, ticketIDs)
	if err != nil {
		return nil, err
	}

	for showtimeID, seatIDs := range domain.GroupSeatsByShowtime(confirmed) {
		if err := s.locks.MarkBooked(ctx, showtimeID, seatIDs, holderID); err != nil {
			// The ticket ledger already reports these seats as booked.
			s.logger.Error("failed to mark seats booked", "showtime_id", showtimeID, "seat_ids", seatIDs, "error", err)
		}
	}

	return confirmed, nil
}

// Cancel moves PENDING tickets to CANCELLED and releases the seat locks their holders had.
// Already cancelled tickets are skipped; sold tickets yield ErrInvalidTicketState.
func (s *TicketService) Cancel(ctx context.Context, ticketIDs []string) ([]domain.Ticket, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}

	current, err := s.tickets.GetByIds(ctx, ticketIDs)
	if err != nil {
		return nil, err
	}

	for _, t := range current {
		if t.Status == domain.TicketStatusConfirmed || t.Status == domain.TicketStatusUsed {
			return nil, fmt.Errorf("%w: ticket %s is %s", domain.ErrInvalidTicketState, t.ID, t.Status)
		}
	}

	cancelled, err := s.tickets.Cancel(ctx, ticketIDs)
	if err != nil {
		return nil, err
	}

	s.releaseLocks(ctx, cancelled)

	return cancelled, nil
}

// CancelStale cancels PENDING tickets created before cutoff whose seat lock has expired and
// which no open payment references. It walks every stale ticket in pages of pageSize, so
// tickets that stay held never hide the ones behind them.
func (s *TicketService) CancelStale(ctx context.Context, cutoff time.Time, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var (
		after     domain.TicketCursor
		cancelled int
	)

	for {
		candidates, err := s.tickets.ListStalePending(ctx, cutoff, after, pageSize)
		if err != nil || len(candidates) == 0 {
			return cancelled, err
		}

		n, err := s.cancelStale(ctx, candidates)
		cancelled += n
		if err != nil {
			return cancelled, err
		}

		if len(candidates) < pageSize || ctx.Err() != nil {
			return cancelled, ctx.Err()
		}

		after = candidates[len(candidates)-1].Cursor()
	}
}

func (s *TicketService) cancelStale(ctx context.Context, candidates []domain.Ticket) (int, error) {
	open, err := s.payments.GetOpenByTickets(ctx, domain.TicketIds(candidates))
	if err != nil {
		return 0, err
	}

	paying := make(map[string]bool)
	for _, p := range open {
		for _, id := range p.TicketIDs {
			paying[id] = true
		}
	}

	var ids []string

	for _, t := range candidates {
		if paying[t.ID] {
			continue
		}

		states, err := s.locks.States(ctx, t.ShowtimeID, []int{t.SeatID})
		if err != nil {
			return 0, err
		}

		if len(states) == 1 && states[0].HeldBy(t.HolderID) {
			continue
		}

		ids = append(ids, t.ID)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	cancelled, err := s.tickets.Cancel(ctx, ids)
	if err != nil {
		return 0, err
	}

	if len(cancelled) > 0 {
		s.metrics.Unwound(ctx, "lock_expired")
	}

	return len(cancelled), nil
}

func (s *TicketService) Get(ctx context.Context, ticketIDs []string) ([]domain.Ticket, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}

	return s.tickets.GetByIds(ctx, ticketIDs)
}

type holderShowtime struct {
	holderID   int
	showtimeID int
}

func (s *TicketService) releaseLocks(ctx context.Context, tickets []domain.Ticket) {
	groups := make(map[holderShowtime][]int)

	for _, t := range tickets {
		key := holderShowtime{holderID: t.HolderID, showtimeID: t.ShowtimeID}
		groups[key] = append(groups[key], t.SeatID)
	}

	for key, seatIDs := range groups {
		slices.Sort(seatIDs)

		if err := s.locks.ReleaseHeld(ctx, key.showtimeID, seatIDs, key.holderID); err != nil {
			s.logger.Error("failed to release seat locks",
				"showtime_id", key.showtimeID,
				"holder_id", key.holderID,
				"error", err)
		}
	}
}
