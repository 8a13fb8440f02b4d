package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "PENDING"
	TicketStatusConfirmed TicketStatus = "CONFIRMED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
	TicketStatusUsed      TicketStatus = "USED"
)

// Active reports whether the ticket still claims its seat.
func (s TicketStatus) Active() bool {
	return s == TicketStatusPending || s == TicketStatusConfirmed || s == TicketStatusUsed
}

type Ticket struct {
	ID            string
	ShowtimeID    int
	SeatID        int
	HolderID      int
	BasePrice     decimal.Decimal
	Discount      decimal.Decimal
	Price         decimal.Decimal
	PromotionCode *string
	Status        TicketStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
}

func NewTicket(showtimeID, seatID, holderID int, basePrice decimal.Decimal, now time.Time) Ticket {
	return Ticket{
		ID:         uuid.New().String(),
		ShowtimeID: showtimeID,
		SeatID:     seatID,
		HolderID:   holderID,
		BasePrice:  basePrice,
		Discount:   decimal.Zero,
		Price:      basePrice,
		Status:     TicketStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (t Ticket) PromotionCodeValue() string {
	if t.PromotionCode == nil {
		return ""
	}

	return *t.PromotionCode
}

type TicketRepository interface {
	GetByIds(ctx context.Context, ids []string) ([]Ticket, error)
	// GetActiveBySeats returns PENDING, CONFIRMED and USED tickets for the seats.
	GetActiveBySeats(ctx context.Context, showtimeID int, seatIDs []int) ([]Ticket, error)
	// CreateMany inserts all tickets or none. It returns ErrSeatUnavailable when a seat
	// already has an active ticket.
	CreateMany(ctx context.Context, tickets []Ticket) error
	// UpdatePricing rewrites the prices of PENDING tickets. It returns ErrPaymentConflict
	// when an open payment references any of them, since that payment was priced from
	// the stored values.
	UpdatePricing(ctx context.Context, tickets []Ticket) error
	// Confirm moves every ticket from PENDING to CONFIRMED or none of them.
	Confirm(ctx context.Context, holderID int, ids []string) ([]Ticket, error)
	// Cancel moves PENDING tickets to CANCELLED and returns the ones that changed.
	Cancel(ctx context.Context, ids []string) ([]Ticket, error)
	// ListStalePending pages through PENDING tickets created before createdBefore that no
	// open payment references, ordered by (CreatedAt, ID) and starting after the cursor.
	ListStalePending(ctx context.Context, createdBefore time.Time, after TicketCursor, limit int) ([]Ticket, error)
}

// TicketCursor is the keyset position of a ticket in ListStalePending.
type TicketCursor struct {
	CreatedAt time.Time
	ID        string
}

func (t Ticket) Cursor() TicketCursor {
	return TicketCursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// Before reports whether the ticket sorts after the cursor.
func (c TicketCursor) Before(t Ticket) bool {
	return keysetAfter(t.CreatedAt, t.ID, c.CreatedAt, c.ID)
}

// keysetAfter orders by time first and ID second, the way a (timestamp, uuid) row
// comparison does in Postgres.
func keysetAfter(at time.Time, id string, cursorAt time.Time, cursorID string) bool {
	if !at.Equal(cursorAt) {
		return at.After(cursorAt)
	}

	return id > cursorID
}

// GroupSeatsByShowtime maps showtime IDs to the seat IDs of the given tickets.
func GroupSeatsByShowtime(tickets []Ticket) map[int][]int {
	groups := make(map[int][]int)

	for _, t := range tickets {
		groups[t.ShowtimeID] = append(groups[t.ShowtimeID], t.SeatID)
	}

	return groups
}

func TicketIds(tickets []Ticket) []string {
	ids := make([]string, len(tickets))

	for i, t := range tickets {
		ids[i] = t.ID
	}

	return ids
}
