package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BookingConfirmedEvent is published once per completed payment.
type BookingConfirmedEvent struct {
	PaymentID          string          `json:"payment_id"`
	UserID             int             `json:"user_id"`
	Email              string          `json:"email"`
	ShowtimeID         int             `json:"showtime_id"`
	SeatIDs            []int           `json:"seat_ids"`
	TicketIDs          []string        `json:"ticket_ids"`
	ConcessionOrderIDs []string        `json:"concession_order_ids,omitempty"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	ConfirmedAt        time.Time       `json:"confirmed_at"`
}

type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, event BookingConfirmedEvent) error
}
