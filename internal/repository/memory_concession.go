package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type MemoryConcessionRepository struct {
	mu       *sync.Mutex
	clock    clock.Clock
	items    map[int]domain.ConcessionItem
	orders   map[string]domain.ConcessionOrder
	payments *MemoryPaymentRepository
}

func NewMemoryConcessionRepository(clk clock.Clock, items ...domain.ConcessionItem) *MemoryConcessionRepository {
	m := &MemoryConcessionRepository{
		mu:     &sync.Mutex{},
		clock:  clk,
		items:  make(map[int]domain.ConcessionItem),
		orders: make(map[string]domain.ConcessionOrder),
	}

	for _, item := range items {
		m.items[item.ID] = item
	}

	return m
}

func (m *MemoryConcessionRepository) GetItemsByIds(ctx context.Context, ids []int) ([]domain.ConcessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.ConcessionItem, 0, len(ids))

	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			items = append(items, item)
		}
	}

	return items, nil
}

func (m *MemoryConcessionRepository) CreateOrder(ctx context.Context, order *domain.ConcessionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.orders[order.ID] = cloneOrder(*order)

	return nil
}

func (m *MemoryConcessionRepository) GetOrderById(ctx context.Context, id string) (*domain.ConcessionOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	order = cloneOrder(order)

	return &order, nil
}

func (m *MemoryConcessionRepository) GetOrdersByIds(ctx context.Context, ids []string) ([]domain.ConcessionOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]domain.ConcessionOrder, 0, len(ids))

	for _, id := range ids {
		if order, ok := m.orders[id]; ok {
			orders = append(orders, cloneOrder(order))
		}
	}

	return orders, nil
}

func (m *MemoryConcessionRepository) ReplaceItems(
	ctx context.Context,
	orderID string,
	items []domain.ConcessionOrderItem,
	total decimal.Decimal) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrRecordNotFound
	}

	if order.Status != domain.OrderStatusPending {
		return domain.ErrEditConflict
	}

	if m.payments != nil && len(m.payments.openByOrders([]string{orderID})) > 0 {
		return fmt.Errorf("%w: order is being paid", domain.ErrEditConflict)
	}

	order.Items = slices.Clone(items)
	order.TotalAmount = total
	order.UpdatedAt = m.clock.Now()
	m.orders[orderID] = order

	return nil
}

func (m *MemoryConcessionRepository) LinkTickets(ctx context.Context, orderID string, ticketIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrRecordNotFound
	}

	if !order.Linkable() {
		return domain.ErrOrderNotLinkable
	}

	for _, id := range ticketIDs {
		if !slices.Contains(order.TicketIDs, id) {
			order.TicketIDs = append(order.TicketIDs, id)
		}
	}

	order.Type = domain.OrderTypeWithTicket
	order.UpdatedAt = m.clock.Now()
	m.orders[orderID] = order

	return nil
}

func (m *MemoryConcessionRepository) UpdateStatus(
	ctx context.Context,
	orderID string,
	from []domain.OrderStatus,
	to domain.OrderStatus) (bool, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return false, domain.ErrRecordNotFound
	}

	if !slices.Contains(from, order.Status) {
		return false, nil
	}

	order.Status = to
	order.UpdatedAt = m.clock.Now()
	m.orders[orderID] = order

	return true, nil
}

func cloneOrder(order domain.ConcessionOrder) domain.ConcessionOrder {
	order.Items = slices.Clone(order.Items)
	order.TicketIDs = slices.Clone(order.TicketIDs)
	return order
}
