package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type OrderType string

const (
	OrderTypeStandalone OrderType = "STANDALONE"
	OrderTypeWithTicket OrderType = "WITH_TICKET"
)

type ConcessionItem struct {
	ID        int
	Name      string
	Price     decimal.Decimal
	Available bool
}

type ConcessionOrderItem struct {
	ItemID    int
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i ConcessionOrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ConcessionOrder struct {
	ID          string
	HolderID    int
	Items       []ConcessionOrderItem
	TotalAmount decimal.Decimal
	Status      OrderStatus
	Type        OrderType
	TicketIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Linkable reports whether tickets can still be attached to the order.
func (o ConcessionOrder) Linkable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

func CalculateOrderTotal(items []ConcessionOrderItem) decimal.Decimal {
	total := decimal.Zero

	for _, item := range items {
		total = total.Add(item.LineTotal())
	}

	return total
}

// ConcessionItemQuantity is a requested item before it is priced from the catalog.
type ConcessionItemQuantity struct {
	ItemID   int
	Quantity int
}

type ConcessionRepository interface {
	GetItemsByIds(ctx context.Context, ids []int) ([]ConcessionItem, error)
	CreateOrder(ctx context.Context, order *ConcessionOrder) error
	GetOrderById(ctx context.Context, id string) (*ConcessionOrder, error)
	GetOrdersByIds(ctx context.Context, ids []string) ([]ConcessionOrder, error)
	// ReplaceItems swaps the items of a PENDING order. It returns ErrEditConflict when the
	// order is no longer PENDING or an open payment references it.
	ReplaceItems(ctx context.Context, orderID string, items []ConcessionOrderItem, total decimal.Decimal) error
	// LinkTickets returns ErrOrderNotLinkable unless the order is PENDING or CONFIRMED.
	LinkTickets(ctx context.Context, orderID string, ticketIDs []string) error
	// UpdateStatus moves the order to status when its current status is one of from and
	// reports whether a row changed.
	UpdateStatus(ctx context.Context, orderID string, from []OrderStatus, to OrderStatus) (bool, error)
}
