package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

const maxItemQuantity = 20

type ConcessionService struct {
	orders domain.ConcessionRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewConcessionService(orders domain.ConcessionRepository, clk clock.Clock, logger *slog.Logger) *ConcessionService {
	return &ConcessionService{
		orders: orders,
		clock:  clk,
		logger: logger,
	}
}

// CreateStandalone prices the items from the catalog and stores a PENDING order.
func (s *ConcessionService) CreateStandalone(ctx context.Context, holderID int, items []domain.ConcessionItemQuantity) (*domain.ConcessionOrder, error) {
	lines, err := s.priceItems(ctx, items)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &domain.ConcessionOrder{
		ID:          uuid.New().String(),
		HolderID:    holderID,
		Items:       lines,
		TotalAmount: domain.CalculateOrderTotal(lines),
		Status:      domain.OrderStatusPending,
		Type:        domain.OrderTypeStandalone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateItems replaces the items of a PENDING order owned by the holder.
func (s *ConcessionService) UpdateItems(ctx context.Context, holderID int, orderID string, items []domain.ConcessionItemQuantity) (*domain.ConcessionOrder, error) {
	order, err := s.Get(ctx, holderID, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != domain.OrderStatusPending {
		return nil, domain.ErrEditConflict
	}

	lines, err := s.priceItems(ctx, items)
	if err != nil {
		return nil, err
	}

	total := domain.CalculateOrderTotal(lines)

	if err := s.orders.ReplaceItems(ctx, orderID, lines, total); err != nil {
		return nil, err
	}

	order.Items = lines
	order.TotalAmount = total
	order.UpdatedAt = s.clock.Now()

	return order, nil
}

// LinkToTickets attaches the tickets to the order and turns it into a WITH_TICKET order.
func (s *ConcessionService) LinkToTickets(ctx context.Context, orderID string, ticketIDs []string) error {
	if err := s.orders.LinkTickets(ctx, orderID, ticketIDs); err != nil {
		return fmt.Errorf("link concession order %s: %w", orderID, err)
	}

	return nil
}

// Cancel moves a PENDING or CONFIRMED order to CANCELLED. Cancelling twice is a no-op.
func (s *ConcessionService) Cancel(ctx context.Context, orderID string) error {
	_, err := s.orders.UpdateStatus(
		ctx,
		orderID,
		[]domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed},
		domain.OrderStatusCancelled,
	)

	return err
}

// Confirm finalizes the PENDING orders of a completed payment.
func (s *ConcessionService) Confirm(ctx context.Context, orderIDs []string) error {
	var errs []error

	for _, id := range orderIDs {
		_, err := s.orders.UpdateStatus(ctx, id, []domain.OrderStatus{domain.OrderStatusPending}, domain.OrderStatusConfirmed)
		if err != nil {
			errs = append(errs, fmt.Errorf("confirm concession order %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// Get returns the order if it belongs to the holder.
func (s *ConcessionService) Get(ctx context.Context, holderID int, orderID string) (*domain.ConcessionOrder, error) {
	order, err := s.orders.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.HolderID != holderID {
		return nil, domain.ErrRecordNotFound
	}

	return order, nil
}

func (s *ConcessionService) GetMany(ctx context.Context, orderIDs []string) ([]domain.ConcessionOrder, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	return s.orders.GetOrdersByIds(ctx, orderIDs)
}

// priceItems merges duplicate items and prices them with catalog unit prices.
func (s *ConcessionService) priceItems(ctx context.Context, items []domain.ConcessionItemQuantity) ([]domain.ConcessionOrderItem, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyOrder
	}

	quantities := make(map[int]int, len(items))
	ids := make([]int, 0, len(items))

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity of item %d must be positive", domain.ErrItemUnavailable, item.ItemID)
		}

		if _, ok := quantities[item.ItemID]; !ok {
			ids = append(ids, item.ItemID)
		}

		quantities[item.ItemID] += item.Quantity

		if quantities[item.ItemID] > maxItemQuantity {
			return nil, fmt.Errorf("%w: at most %d of item %d per order", domain.ErrItemUnavailable, maxItemQuantity, item.ItemID)
		}
	}

	slices.Sort(ids)

	catalog, err := s.orders.GetItemsByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]domain.ConcessionItem, len(catalog))
	for _, item := range catalog {
		byID[item.ID] = item
	}

	lines := make([]domain.ConcessionOrderItem, 0, len(ids))

	for _, id := range ids {
		item, ok := byID[id]
		if !ok || !item.Available {
			return nil, fmt.Errorf("%w: item %d", domain.ErrItemUnavailable, id)
		}

		lines = append(lines, domain.ConcessionOrderItem{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  quantities[id],
			UnitPrice: item.Price,
		})
	}

	return lines, nil
}
