package domain

import (
	"context"
	"slices"
	"time"
)

type BookingStep string

const (
	StepSelectSeats         BookingStep = "SELECT_SEATS"
	StepSelectConcessions   BookingStep = "SELECT_CONCESSIONS"
	StepChoosePaymentMethod BookingStep = "CHOOSE_PAYMENT_METHOD"
	StepGatewayRedirect     BookingStep = "GATEWAY_REDIRECT"
	StepCompletion          BookingStep = "COMPLETION"
)

var bookingSteps = []BookingStep{
	StepSelectSeats,
	StepSelectConcessions,
	StepChoosePaymentMethod,
	StepGatewayRedirect,
	StepCompletion,
}

// Index returns the position of the step in the booking flow, or -1.
func (s BookingStep) Index() int {
	return slices.Index(bookingSteps, s)
}

func (s BookingStep) Before(other BookingStep) bool {
	return s.Index() < other.Index()
}

// BookingSession is the server-side state of one booking attempt.
type BookingSession struct {
	HolderID          int
	Email             string
	ShowtimeID        int
	SeatIDs           []int
	LockExpiresAt     time.Time
	LockRenewed       bool
	ConcessionsDone   bool
	ConcessionOrderID string
	PromotionCode     string
	PaymentMethod     PaymentMethod
	TicketIDs         []string
	PaymentID         string
	Step              BookingStep
	UpdatedAt         time.Time
}

// ResetToSeatSelection drops every artifact that depends on the seat selection.
func (s *BookingSession) ResetToSeatSelection() {
	s.ShowtimeID = 0
	s.SeatIDs = nil
	s.LockExpiresAt = time.Time{}
	s.LockRenewed = false
	s.ConcessionsDone = false
	s.PromotionCode = ""
	s.PaymentMethod = ""
	s.TicketIDs = nil
	s.PaymentID = ""
	s.Step = StepSelectSeats
}

type BookingSessionStore interface {
	Get(ctx context.Context, holderID int) (*BookingSession, error)
	Save(ctx context.Context, session *BookingSession, ttl time.Duration) error
	Delete(ctx context.Context, holderID int) error
}
