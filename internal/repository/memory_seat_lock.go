package repository

import (
	"context"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

type seatKey struct {
	showtimeID int
	seatID     int
}

type seatEntry struct {
	holderID  int
	expiresAt time.Time
	booked    bool
}

// MemorySeatLockStore implements domain.SeatLockStore in process memory.
// This is useful for testing and local development.
type MemorySeatLockStore struct {
	mu    sync.Mutex
	clock clock.Clock
	seats map[seatKey]seatEntry
}

func NewMemorySeatLockStore(clk clock.Clock) *MemorySeatLockStore {
	return &MemorySeatLockStore{
		clock: clk,
		seats: make(map[seatKey]seatEntry),
	}
}

// live returns the entry for key if it is booked or holds a non-expired lock.
func (m *MemorySeatLockStore) live(key seatKey, now time.Time) (seatEntry, bool) {
	entry, ok := m.seats[key]
	if !ok {
		return seatEntry{}, false
	}

	if !entry.booked && !now.Before(entry.expiresAt) {
		return seatEntry{}, false
	}

	return entry, true
}

func (m *MemorySeatLockStore) Acquire(
	ctx context.Context,
	showtimeID int,
	seatIDs []int,
	holderID int,
	ttl time.Duration) (time.Time, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	for _, seatID := range seatIDs {
		entry, ok := m.live(seatKey{showtimeID, seatID}, now)
		if ok && (entry.booked || entry.holderID != holderID) {
			return time.Time{}, domain.ErrSeatUnavailable
		}
	}

	expiresAt := now.Add(ttl)

	for _, seatID := range seatIDs {
		m.seats[seatKey{showtimeID, seatID}] = seatEntry{holderID: holderID, expiresAt: expiresAt}
	}

	return expiresAt, nil
}

func (m *MemorySeatLockStore) Renew(
	ctx context.Context,
	showtimeID int,
	seatIDs []int,
	holderID int,
	ttl time.Duration) (time.Time, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	for _, seatID := range seatIDs {
		entry, ok := m.live(seatKey{showtimeID, seatID}, now)
		if !ok || entry.booked || entry.holderID != holderID {
			return time.Time{}, domain.ErrLockNotOwned
		}
	}

	expiresAt := now.Add(ttl)

	for _, seatID := range seatIDs {
		key := seatKey{showtimeID, seatID}
		entry := m.seats[key]
		entry.expiresAt = expiresAt
		m.seats[key] = entry
	}

	return expiresAt, nil
}

func (m *MemorySeatLockStore) Release(ctx context.Context, showtimeID int, seatIDs []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seatID := range seatIDs {
		key := seatKey{showtimeID, seatID}
		if entry, ok := m.seats[key]; ok && !entry.booked {
			delete(m.seats, key)
		}
	}

	return nil
}

func (m *MemorySeatLockStore) ReleaseHeld(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seatID := range seatIDs {
		key := seatKey{showtimeID, seatID}
		if entry, ok := m.seats[key]; ok && !entry.booked && entry.holderID == holderID {
			delete(m.seats, key)
		}
	}

	return nil
}

func (m *MemorySeatLockStore) MarkBooked(ctx context.Context, showtimeID int, seatIDs []int, holderID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seatID := range seatIDs {
		m.seats[seatKey{showtimeID, seatID}] = seatEntry{holderID: holderID, booked: true}
	}

	return nil
}

func (m *MemorySeatLockStore) States(ctx context.Context, showtimeID int, seatIDs []int) ([]domain.SeatState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	states := make([]domain.SeatState, len(seatIDs))

	for i, seatID := range seatIDs {
		state := domain.SeatState{ShowtimeID: showtimeID, SeatID: seatID, Status: domain.SeatStatusAvailable}

		if entry, ok := m.live(seatKey{showtimeID, seatID}, now); ok {
			state.HolderID = entry.holderID

			if entry.booked {
				state.Status = domain.SeatStatusBooked
			} else {
				state.Status = domain.SeatStatusLocked
				state.ExpiresAt = entry.expiresAt
			}
		}

		states[i] = state
	}

	return states, nil
}

// Sweep drops expired locks and returns how many were removed.
func (m *MemorySeatLockStore) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0

	for key := range m.seats {
		if _, ok := m.live(key, now); !ok {
			delete(m.seats, key)
			removed++
		}
	}

	return removed, nil
}
