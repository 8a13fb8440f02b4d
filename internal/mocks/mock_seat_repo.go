package mocks

import (
	"context"
	"sync"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

// MockSeatRepo answers seat lookups from a fixed showtime catalog and returns only the
// requested seats that belong to the showtime's hall, like the postgres repository.
type MockSeatRepo struct {
	Showtimes map[int]domain.ShowtimeSeats
	Err       error

	mu      sync.Mutex
	lookups int
}

func (m *MockSeatRepo) GetSeatsByShowtimeAndSeatIds(
	ctx context.Context,
	showtimeID int,
	seatIDs []int) (*domain.ShowtimeSeats, error) {

	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	showtime, ok := m.Showtimes[showtimeID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	wanted := make(map[int]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		wanted[id] = struct{}{}
	}

	result := showtime
	result.Seats = nil

	for _, seat := range showtime.Seats {
		if _, ok := wanted[seat.ID]; ok {
			result.Seats = append(result.Seats, seat)
		}
	}

	return &result, nil
}

func (m *MockSeatRepo) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lookups
}
