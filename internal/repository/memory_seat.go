package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

// MemorySeatRepository serves a fixed seat catalog.
type MemorySeatRepository struct {
	mu        sync.RWMutex
	showtimes map[int]domain.ShowtimeSeats
}

func NewMemorySeatRepository(showtimes ...domain.ShowtimeSeats) *MemorySeatRepository {
	m := &MemorySeatRepository{
		showtimes: make(map[int]domain.ShowtimeSeats),
	}

	for _, showtime := range showtimes {
		m.showtimes[showtime.ShowtimeID] = showtime
	}

	return m
}

func (m *MemorySeatRepository) GetSeatsByShowtimeAndSeatIds(
	ctx context.Context,
	showtimeID int,
	seatIDs []int) (*domain.ShowtimeSeats, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	showtime, ok := m.showtimes[showtimeID]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	seats := make([]domain.Seat, 0, len(seatIDs))

	for _, seat := range showtime.Seats {
		if slices.Contains(seatIDs, seat.ID) {
			seats = append(seats, seat)
		}
	}

	showtime.Seats = seats

	return &showtime, nil
}
