package repository

import (
	"context"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

type memorySession struct {
	session   domain.BookingSession
	expiresAt time.Time
}

type MemoryBookingSessionStore struct {
	mu       sync.Mutex
	clock    clock.Clock
	sessions map[int]memorySession
}

func NewMemoryBookingSessionStore(clk clock.Clock) *MemoryBookingSessionStore {
	return &MemoryBookingSessionStore{
		clock:    clk,
		sessions: make(map[int]memorySession),
	}
}

func (m *MemoryBookingSessionStore) Get(ctx context.Context, holderID int) (*domain.BookingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[holderID]
	if !ok || !m.clock.Now().Before(entry.expiresAt) {
		delete(m.sessions, holderID)
		return nil, domain.ErrRecordNotFound
	}

	session := entry.session
	session.SeatIDs = append([]int(nil), entry.session.SeatIDs...)
	session.TicketIDs = append([]string(nil), entry.session.TicketIDs...)

	return &session, nil
}

func (m *MemoryBookingSessionStore) Save(ctx context.Context, session *domain.BookingSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *session
	stored.SeatIDs = append([]int(nil), session.SeatIDs...)
	stored.TicketIDs = append([]string(nil), session.TicketIDs...)

	m.sessions[session.HolderID] = memorySession{
		session:   stored,
		expiresAt: m.clock.Now().Add(ttl),
	}

	return nil
}

func (m *MemoryBookingSessionStore) Delete(ctx context.Context, holderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, holderID)

	return nil
}
