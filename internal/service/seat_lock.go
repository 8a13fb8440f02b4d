package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

const DefaultLockTTL = 5 * time.Minute

// SeatLockService guards seat locks with the catalog and the ticket and payment ledgers.
type SeatLockService struct {
	store    domain.SeatLockStore
	seats    domain.SeatRepository
	tickets  domain.TicketRepository
	payments domain.PaymentRepository
	logger   *slog.Logger
	metrics  *Metrics
	ttl      time.Duration
}

func NewSeatLockService(
	store domain.SeatLockStore,
	seats domain.SeatRepository,
	tickets domain.TicketRepository,
	payments domain.PaymentRepository,
	logger *slog.Logger,
	metrics *Metrics,
	ttl time.Duration,
) *SeatLockService {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	return &SeatLockService{
		store:    store,
		seats:    seats,
		tickets:  tickets,
		payments: payments,
		logger:   logger,
		metrics:  metrics,
		ttl:      ttl,
	}
}

func (s *SeatLockService) TTL() time.Duration {
	return s.ttl
}

// Acquire locks every seat for the holder or none of them. A zero ttl uses the default.
// Seats that are already sold are rejected even when the lock store has no entry for them,
// and so are seats whose pending ticket of another holder is in an open payment.
func (s *SeatLockService) Acquire(ctx context.Context, showtimeID int, seatIDs []int, holderID int, ttl time.Duration) (time.Time, error) {
	seatIDs, err := normalizeSeatIds(seatIDs)
	if err != nil {
		return time.Time{}, err
	}

	catalog, err := s.seats.GetSeatsByShowtimeAndSeatIds(ctx, showtimeID, seatIDs)
	if err != nil {
		return time.Time{}, err
	}

	if len(catalog.Seats) != len(seatIDs) {
		return time.Time{}, fmt.Errorf("%w: seat does not belong to showtime %d", domain.ErrRecordNotFound, showtimeID)
	}

	active, err := s.tickets.GetActiveBySeats(ctx, showtimeID, seatIDs)
	if err != nil {
		return time.Time{}, err
	}

	var othersPending []string

	for _, t := range active {
		if t.Status != domain.TicketStatusPending {
			s.metrics.LockConflict(ctx)
			return time.Time{}, domain.ErrSeatUnavailable
		}

		if t.HolderID != holderID {
			othersPending = append(othersPending, t.ID)
		}
	}

	if len(othersPending) > 0 {
		paying, err := s.payments.GetOpenByTickets(ctx, othersPending)
		if err != nil {
			return time.Time{}, err
		}

		if len(paying) > 0 {
			s.metrics.LockConflict(ctx)
			s.logger.Warn("seat lock rejected, seats are being paid for",
				"showtime_id", showtimeID, "seat_ids", seatIDs, "holder_id", holderID, "payment_id", paying[0].ID)

			return time.Time{}, domain.ErrSeatUnavailable
		}
	}

	expiresAt, err := s.store.Acquire(ctx, showtimeID, seatIDs, holderID, s.ttlOrDefault(ttl))
	if err != nil {
		if errors.Is(err, domain.ErrSeatUnavailable) {
			s.metrics.LockConflict(ctx)
			s.logger.Warn("seat lock rejected", "showtime_id", showtimeID, "seat_ids", seatIDs, "holder_id", holderID)
		}

		return time.Time{}, err
	}

	return expiresAt, nil
}

func (s *SeatLockService) Renew(ctx context.Context, showtimeID int, seatIDs []int, holderID int, ttl time.Duration) (time.Time, error) {
	seatIDs, err := normalizeSeatIds(seatIDs)
	if err != nil {
		return time.Time{}, err
	}

	return s.store.Renew(ctx, showtimeID, seatIDs, holderID, s.ttlOrDefault(ttl))
}

// Release frees the seats regardless of holder. Booked seats stay booked.
func (s *SeatLockService) Release(ctx context.Context, showtimeID int, seatIDs []int) error {
	if len(seatIDs) == 0 {
		return nil
	}

	return s.store.Release(ctx, showtimeID, seatIDs)
}

func (s *SeatLockService) ReleaseHeld(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	if len(seatIDs) == 0 {
		return nil
	}

	return s.store.ReleaseHeld(ctx, showtimeID, seatIDs, holderID)
}

func (s *SeatLockService) MarkBooked(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	if len(seatIDs) == 0 {
		return nil
	}

	return s.store.MarkBooked(ctx, showtimeID, seatIDs, holderID)
}

// States reports the current state of the seats. Sold tickets win over the lock store so a
// seat whose booked marker expired still reads as BOOKED.
func (s *SeatLockService) States(ctx context.Context, showtimeID int, seatIDs []int) ([]domain.SeatState, error) {
	seatIDs, err := normalizeSeatIds(seatIDs)
	if err != nil {
		return nil, err
	}

	states, err := s.store.States(ctx, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	active, err := s.tickets.GetActiveBySeats(ctx, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	sold := make(map[int]domain.Ticket, len(active))
	for _, t := range active {
		if t.Status != domain.TicketStatusPending {
			sold[t.SeatID] = t
		}
	}

	for i, state := range states {
		if t, ok := sold[state.SeatID]; ok {
			states[i].Status = domain.SeatStatusBooked
			states[i].HolderID = t.HolderID
			states[i].ExpiresAt = time.Time{}
		}
	}

	return states, nil
}

// HeldBy reports whether every seat is currently locked by or booked for the holder.
func (s *SeatLockService) HeldBy(ctx context.Context, showtimeID int, seatIDs []int, holderID int) (bool, error) {
	if len(seatIDs) == 0 {
		return false, nil
	}

	states, err := s.States(ctx, showtimeID, seatIDs)
	if err != nil {
		return false, err
	}

	for _, state := range states {
		if !state.HeldBy(holderID) {
			return false, nil
		}
	}

	return true, nil
}

func (s *SeatLockService) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx)
}

func (s *SeatLockService) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.ttl
	}

	return ttl
}

// normalizeSeatIds returns the distinct seat IDs in ascending order.
func normalizeSeatIds(seatIDs []int) ([]int, error) {
	if len(seatIDs) == 0 {
		return nil, domain.ErrEmptySelection
	}

	ids := slices.Clone(seatIDs)
	slices.Sort(ids)

	return slices.Compact(ids), nil
}
