package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

// MemoryTicketRepository enforces the same one-active-ticket-per-seat rule as the
// unique index of the tickets table.
type MemoryTicketRepository struct {
	mu       *sync.Mutex
	clock    clock.Clock
	tickets  map[string]domain.Ticket
	payments *MemoryPaymentRepository
}

func NewMemoryTicketRepository(clk clock.Clock) *MemoryTicketRepository {
	return &MemoryTicketRepository{
		mu:      &sync.Mutex{},
		clock:   clk,
		tickets: make(map[string]domain.Ticket),
	}
}

func (m *MemoryTicketRepository) GetByIds(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tickets := make([]domain.Ticket, 0, len(ids))

	for _, id := range ids {
		if ticket, ok := m.tickets[id]; ok {
			tickets = append(tickets, ticket)
		}
	}

	return tickets, nil
}

func (m *MemoryTicketRepository) GetActiveBySeats(
	ctx context.Context,
	showtimeID int,
	seatIDs []int) ([]domain.Ticket, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tickets := make([]domain.Ticket, 0)

	for _, ticket := range m.tickets {
		if ticket.ShowtimeID == showtimeID && ticket.Status.Active() && slices.Contains(seatIDs, ticket.SeatID) {
			tickets = append(tickets, ticket)
		}
	}

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].SeatID < tickets[j].SeatID })

	return tickets, nil
}

func (m *MemoryTicketRepository) CreateMany(ctx context.Context, tickets []domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	taken := make(map[seatKey]bool)

	for _, ticket := range m.tickets {
		if ticket.Status.Active() {
			taken[seatKey{ticket.ShowtimeID, ticket.SeatID}] = true
		}
	}

	for _, ticket := range tickets {
		key := seatKey{ticket.ShowtimeID, ticket.SeatID}
		if taken[key] {
			return domain.ErrSeatUnavailable
		}

		taken[key] = true
	}

	for _, ticket := range tickets {
		m.tickets[ticket.ID] = ticket
	}

	return nil
}

func (m *MemoryTicketRepository) UpdatePricing(ctx context.Context, tickets []domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ticket := range tickets {
		stored, ok := m.tickets[ticket.ID]
		if !ok || stored.Status != domain.TicketStatusPending {
			return domain.ErrInvalidTicketState
		}
	}

	if len(m.openPayments(ticketIDsOf(tickets))) > 0 {
		return domain.ErrPaymentConflict
	}

	now := m.clock.Now()

	for _, ticket := range tickets {
		stored := m.tickets[ticket.ID]
		stored.Discount = ticket.Discount
		stored.Price = ticket.Price
		stored.PromotionCode = ticket.PromotionCode
		stored.UpdatedAt = now
		m.tickets[ticket.ID] = stored
	}

	return nil
}

func (m *MemoryTicketRepository) Confirm(ctx context.Context, holderID int, ids []string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		ticket, ok := m.tickets[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}

		if ticket.HolderID != holderID || ticket.Status != domain.TicketStatusPending {
			return nil, domain.ErrInvalidTicketState
		}
	}

	now := m.clock.Now()
	confirmed := make([]domain.Ticket, 0, len(ids))

	for _, id := range ids {
		ticket := m.tickets[id]
		ticket.Status = domain.TicketStatusConfirmed
		ticket.ConfirmedAt = &now
		ticket.UpdatedAt = now
		m.tickets[id] = ticket

		confirmed = append(confirmed, ticket)
	}

	return confirmed, nil
}

func (m *MemoryTicketRepository) Cancel(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	cancelled := make([]domain.Ticket, 0, len(ids))

	for _, id := range ids {
		ticket, ok := m.tickets[id]
		if !ok || ticket.Status != domain.TicketStatusPending {
			continue
		}

		ticket.Status = domain.TicketStatusCancelled
		ticket.CancelledAt = &now
		ticket.UpdatedAt = now
		m.tickets[id] = ticket

		cancelled = append(cancelled, ticket)
	}

	return cancelled, nil
}

func (m *MemoryTicketRepository) ListStalePending(
	ctx context.Context,
	createdBefore time.Time,
	after domain.TicketCursor,
	limit int) ([]domain.Ticket, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tickets := make([]domain.Ticket, 0)

	for _, ticket := range m.tickets {
		if ticket.Status != domain.TicketStatusPending || !ticket.CreatedAt.Before(createdBefore) || !after.Before(ticket) {
			continue
		}

		if len(m.openPayments([]string{ticket.ID})) > 0 {
			continue
		}

		tickets = append(tickets, ticket)
	}

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Cursor().Before(tickets[j]) })

	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}

	return tickets, nil
}

// openPayments reads the joined payment store, which shares the held mutex.
func (m *MemoryTicketRepository) openPayments(ticketIDs []string) []domain.Payment {
	if m.payments == nil {
		return nil
	}

	return m.payments.openByTickets(ticketIDs)
}

func ticketIDsOf(tickets []domain.Ticket) []string {
	ids := make([]string, len(tickets))
	for i, ticket := range tickets {
		ids[i] = ticket.ID
	}

	return ids
}

// MarkUsed flips a CONFIRMED ticket to USED, as the gate scanner does.
func (m *MemoryTicketRepository) MarkUsed(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ticket, ok := m.tickets[id]; ok && ticket.Status == domain.TicketStatusConfirmed {
		ticket.Status = domain.TicketStatusUsed
		m.tickets[id] = ticket
	}
}
