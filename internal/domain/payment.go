package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState is the reconciliation state of a payment attempt.
type PaymentState string

const (
	PaymentStateInit              PaymentState = "INIT"
	PaymentStateGatewayRedirected PaymentState = "GATEWAY_REDIRECTED"
	PaymentStateReconciling       PaymentState = "RECONCILING"
	PaymentStateIndeterminate     PaymentState = "INDETERMINATE"
	PaymentStateCompleted         PaymentState = "COMPLETED"
	PaymentStateFailed            PaymentState = "FAILED"
	PaymentStateCancelled         PaymentState = "CANCELLED"
)

// Terminal reports whether the state is a final gateway outcome.
func (s PaymentState) Terminal() bool {
	return s == PaymentStateCompleted || s == PaymentStateFailed || s == PaymentStateCancelled
}

// OpenPaymentStates are the states that block another payment attempt on the same tickets.
var OpenPaymentStates = []PaymentState{
	PaymentStateInit,
	PaymentStateGatewayRedirected,
	PaymentStateReconciling,
	PaymentStateIndeterminate,
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

func (s PaymentState) Status() PaymentStatus {
	switch s {
	case PaymentStateCompleted:
		return PaymentStatusCompleted
	case PaymentStateFailed:
		return PaymentStatusFailed
	case PaymentStateCancelled:
		return PaymentStatusCancelled
	default:
		return PaymentStatusPending
	}
}

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodEWallet      PaymentMethod = "EWALLET"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodEWallet, PaymentMethodBankTransfer:
		return true
	}

	return false
}

type Payment struct {
	ID                 string
	UserID             int
	Email              string
	Amount             decimal.Decimal
	Currency           string
	Method             PaymentMethod
	State              PaymentState
	TicketIDs          []string
	ConcessionOrderIDs []string
	Gateway            string
	GatewayRef         *string
	RedirectURL        *string
	ResponseCode       *string
	ErrorMsg           *string
	LeaseUntil         *time.Time
	ReconciledAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewPayment(userID int, email string, amount decimal.Decimal, currency string, method PaymentMethod, now time.Time) Payment {
	return Payment{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		Amount:    amount,
		Currency:  currency,
		Method:    method,
		State:     PaymentStateInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p Payment) Status() PaymentStatus {
	return p.State.Status()
}

func (p Payment) GatewayRefValue() string {
	if p.GatewayRef == nil {
		return ""
	}

	return *p.GatewayRef
}

// PaymentClaim is the terminal outcome written by the single winning reconciliation path.
type PaymentClaim struct {
	State        PaymentState
	ResponseCode string
	ErrorMsg     string
	At           time.Time
}

type PaymentRepository interface {
	// Create stores the payment with its ticket and concession references. It returns
	// ErrPaymentConflict when an open payment already references any of the tickets or
	// orders, and ErrEditConflict when the tickets and orders are no longer PENDING or no
	// longer add up to the payment amount.
	Create(ctx context.Context, payment *Payment) error
	GetById(ctx context.Context, id string) (*Payment, error)
	GetByGatewayRef(ctx context.Context, gatewayRef string) (*Payment, error)
	// GetOpenByTickets returns open payments referencing any of the tickets.
	GetOpenByTickets(ctx context.Context, ticketIDs []string) ([]Payment, error)
	// GetOpenByConcessionOrders returns open payments referencing any of the orders.
	GetOpenByConcessionOrders(ctx context.Context, orderIDs []string) ([]Payment, error)
	// MarkRedirected moves an INIT payment to GATEWAY_REDIRECTED.
	MarkRedirected(ctx context.Context, id, gatewayRef, redirectURL string) error
	// BeginReconcile moves an open, redirected payment to RECONCILING and takes a lease.
	// It reports false when the payment is terminal or another lease is still valid.
	BeginReconcile(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	// MarkIndeterminate moves a RECONCILING payment to INDETERMINATE and drops the lease.
	MarkIndeterminate(ctx context.Context, id string, responseCode string) error
	// Claim atomically records the terminal outcome. Exactly one caller per payment gets
	// true; every other caller gets false and the stored payment.
	Claim(ctx context.Context, id string, claim PaymentClaim) (bool, *Payment, error)
	ListOpen(ctx context.Context, states []PaymentState, updatedBefore time.Time, limit int) ([]Payment, error)
	// ListOpenAfter pages through payments in the states ordered by (UpdatedAt, ID),
	// starting after the cursor. The zero cursor starts at the beginning.
	ListOpenAfter(ctx context.Context, states []PaymentState, after PaymentCursor, limit int) ([]Payment, error)
}

// PaymentCursor is the keyset position of a payment in ListOpenAfter.
type PaymentCursor struct {
	UpdatedAt time.Time
	ID        string
}

func (p Payment) Cursor() PaymentCursor {
	return PaymentCursor{UpdatedAt: p.UpdatedAt, ID: p.ID}
}

// Before reports whether the payment sorts after the cursor.
func (c PaymentCursor) Before(p Payment) bool {
	return keysetAfter(p.UpdatedAt, p.ID, c.UpdatedAt, c.ID)
}
