package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusLocked    SeatStatus = "LOCKED"
	SeatStatusBooked    SeatStatus = "BOOKED"
)

// ShowtimeSeats is the catalog view of a showtime and a subset of its seats.
type ShowtimeSeats struct {
	ShowtimeID  int
	TheaterName string
	MovieName   string
	HallName    string
	Date        time.Time
	HallID      int
	Price       decimal.Decimal
	Seats       []Seat
}

type Seat struct {
	ID         int
	Row        int
	Col        int
	Type       string
	ExtraPrice decimal.Decimal
}

// SeatPrice returns the base price of a seat for the showtime.
func (s *ShowtimeSeats) SeatPrice(seatID int) (decimal.Decimal, bool) {
	for _, seat := range s.Seats {
		if seat.ID == seatID {
			return s.Price.Add(seat.ExtraPrice), true
		}
	}

	return decimal.Zero, false
}

type SeatLock struct {
	ShowtimeID int
	SeatID     int
	HolderID   int
	ExpiresAt  time.Time
}

// SeatState is the current status of one seat. HolderID and ExpiresAt are only set while
// the seat is LOCKED (ExpiresAt) or BOOKED (HolderID).
type SeatState struct {
	ShowtimeID int
	SeatID     int
	Status     SeatStatus
	HolderID   int
	ExpiresAt  time.Time
}

// HeldBy reports whether the seat is locked by or booked for the holder.
func (s SeatState) HeldBy(holderID int) bool {
	return s.Status != SeatStatusAvailable && s.HolderID == holderID
}

// SeatLockStore keeps time-boxed exclusive seat locks. Every multi-seat operation is
// all-or-nothing and a lock whose expiry has passed is never reported as LOCKED.
type SeatLockStore interface {
	Acquire(ctx context.Context, showtimeID int, seatIDs []int, holderID int, ttl time.Duration) (time.Time, error)
	Renew(ctx context.Context, showtimeID int, seatIDs []int, holderID int, ttl time.Duration) (time.Time, error)
	Release(ctx context.Context, showtimeID int, seatIDs []int) error
	ReleaseHeld(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error
	MarkBooked(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error
	States(ctx context.Context, showtimeID int, seatIDs []int) ([]SeatState, error)
	Sweep(ctx context.Context) (int, error)
}

type SeatRepository interface {
	GetSeatsByShowtimeAndSeatIds(ctx context.Context, showtimeID int, seatIDs []int) (*ShowtimeSeats, error)
}
