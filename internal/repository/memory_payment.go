package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryPaymentRepository mirrors the row-level guarantees of PostgresPaymentRepository
// under a single mutex. The checks that span tickets and concession orders only run
// once ShareMemoryLedger has joined it with the other stores.
type MemoryPaymentRepository struct {
	mu          *sync.Mutex
	clock       clock.Clock
	payments    map[string]domain.Payment
	tickets     *MemoryTicketRepository
	concessions *MemoryConcessionRepository
}

func NewMemoryPaymentRepository(clk clock.Clock) *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		mu:       &sync.Mutex{},
		clock:    clk,
		payments: make(map[string]domain.Payment),
	}
}

func (m *MemoryPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.openByTickets(payment.TicketIDs)) > 0 || len(m.openByOrders(payment.ConcessionOrderIDs)) > 0 {
		return domain.ErrPaymentConflict
	}

	if err := m.checkPayable(payment); err != nil {
		return err
	}

	m.payments[payment.ID] = clonePayment(*payment)

	return nil
}

// checkPayable is the amount and status check of lockPayable over the joined stores.
func (m *MemoryPaymentRepository) checkPayable(payment *domain.Payment) error {
	if m.tickets == nil || m.concessions == nil {
		return nil
	}

	total := decimal.Zero

	for _, id := range payment.TicketIDs {
		ticket, ok := m.tickets.tickets[id]
		if !ok || ticket.Status != domain.TicketStatusPending {
			return fmt.Errorf("%w: ticket %s is no longer pending", domain.ErrEditConflict, id)
		}

		total = total.Add(ticket.Price)
	}

	for _, id := range payment.ConcessionOrderIDs {
		order, ok := m.concessions.orders[id]
		if !ok || order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is no longer pending", domain.ErrEditConflict, id)
		}

		total = total.Add(order.TotalAmount)
	}

	if !total.Equal(payment.Amount) {
		return fmt.Errorf("%w: selection now totals %s, payment is %s", domain.ErrEditConflict, total, payment.Amount)
	}

	return nil
}

func (m *MemoryPaymentRepository) GetById(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	payment = clonePayment(payment)

	return &payment, nil
}

func (m *MemoryPaymentRepository) GetByGatewayRef(ctx context.Context, gatewayRef string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, payment := range m.payments {
		if payment.GatewayRefValue() == gatewayRef {
			payment = clonePayment(payment)
			return &payment, nil
		}
	}

	return nil, domain.ErrRecordNotFound
}

func (m *MemoryPaymentRepository) GetOpenByTickets(ctx context.Context, ticketIDs []string) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.openByTickets(ticketIDs), nil
}

func (m *MemoryPaymentRepository) openByTickets(ticketIDs []string) []domain.Payment {
	payments := make([]domain.Payment, 0)

	for _, payment := range m.payments {
		if payment.State.Terminal() {
			continue
		}

		for _, id := range ticketIDs {
			if slices.Contains(payment.TicketIDs, id) {
				payments = append(payments, clonePayment(payment))
				break
			}
		}
	}

	return payments
}

func (m *MemoryPaymentRepository) GetOpenByConcessionOrders(ctx context.Context, orderIDs []string) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.openByOrders(orderIDs), nil
}

func (m *MemoryPaymentRepository) openByOrders(orderIDs []string) []domain.Payment {
	payments := make([]domain.Payment, 0)

	for _, payment := range m.payments {
		if payment.State.Terminal() {
			continue
		}

		for _, id := range orderIDs {
			if slices.Contains(payment.ConcessionOrderIDs, id) {
				payments = append(payments, clonePayment(payment))
				break
			}
		}
	}

	return payments
}

func (m *MemoryPaymentRepository) MarkRedirected(ctx context.Context, id, gatewayRef, redirectURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[id]
	if !ok {
		return domain.ErrRecordNotFound
	}

	if payment.State != domain.PaymentStateInit {
		return domain.ErrEditConflict
	}

	payment.State = domain.PaymentStateGatewayRedirected
	payment.GatewayRef = &gatewayRef
	payment.RedirectURL = &redirectURL
	payment.UpdatedAt = m.clock.Now()
	m.payments[id] = payment

	return nil
}

func (m *MemoryPaymentRepository) BeginReconcile(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[id]
	if !ok {
		return false, domain.ErrRecordNotFound
	}

	switch payment.State {
	case domain.PaymentStateGatewayRedirected, domain.PaymentStateIndeterminate:
	case domain.PaymentStateReconciling:
		if payment.LeaseUntil != nil && now.Before(*payment.LeaseUntil) {
			return false, nil
		}
	default:
		return false, nil
	}

	payment.State = domain.PaymentStateReconciling
	payment.LeaseUntil = &leaseUntil
	payment.UpdatedAt = now
	m.payments[id] = payment

	return true, nil
}

func (m *MemoryPaymentRepository) MarkIndeterminate(ctx context.Context, id string, responseCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[id]
	if !ok {
		return domain.ErrRecordNotFound
	}

	if payment.State != domain.PaymentStateReconciling {
		return nil
	}

	payment.State = domain.PaymentStateIndeterminate
	payment.LeaseUntil = nil
	if responseCode != "" {
		payment.ResponseCode = &responseCode
	}
	payment.UpdatedAt = m.clock.Now()
	m.payments[id] = payment

	return nil
}

func (m *MemoryPaymentRepository) Claim(
	ctx context.Context,
	id string,
	claim domain.PaymentClaim) (bool, *domain.Payment, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[id]
	if !ok {
		return false, nil, domain.ErrRecordNotFound
	}

	if payment.State.Terminal() {
		payment = clonePayment(payment)
		return false, &payment, nil
	}

	payment.State = claim.State
	payment.LeaseUntil = nil
	payment.ReconciledAt = &claim.At
	payment.UpdatedAt = claim.At

	if claim.ResponseCode != "" {
		code := claim.ResponseCode
		payment.ResponseCode = &code
	}

	if claim.ErrorMsg != "" {
		msg := claim.ErrorMsg
		payment.ErrorMsg = &msg
	}

	m.payments[id] = payment
	payment = clonePayment(payment)

	return true, &payment, nil
}

func (m *MemoryPaymentRepository) ListOpen(
	ctx context.Context,
	states []domain.PaymentState,
	updatedBefore time.Time,
	limit int) ([]domain.Payment, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	payments := make([]domain.Payment, 0)

	for _, payment := range m.payments {
		if slices.Contains(states, payment.State) && payment.UpdatedAt.Before(updatedBefore) {
			payments = append(payments, clonePayment(payment))
		}
	}

	sort.Slice(payments, func(i, j int) bool { return payments[i].UpdatedAt.Before(payments[j].UpdatedAt) })

	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}

	return payments, nil
}

func (m *MemoryPaymentRepository) ListOpenAfter(
	ctx context.Context,
	states []domain.PaymentState,
	after domain.PaymentCursor,
	limit int) ([]domain.Payment, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	payments := make([]domain.Payment, 0)

	for _, payment := range m.payments {
		if slices.Contains(states, payment.State) && after.Before(payment) {
			payments = append(payments, clonePayment(payment))
		}
	}

	sort.Slice(payments, func(i, j int) bool { return payments[i].Cursor().Before(payments[j]) })

	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}

	return payments, nil
}

func clonePayment(payment domain.Payment) domain.Payment {
	payment.TicketIDs = slices.Clone(payment.TicketIDs)
	payment.ConcessionOrderIDs = slices.Clone(payment.ConcessionOrderIDs)
	return payment
}
