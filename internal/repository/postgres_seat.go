package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

type PostgresSeatRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSeatRepository(db *pgxpool.Pool) *PostgresSeatRepository {
	return &PostgresSeatRepository{
		db: db,
	}
}

// GetSeatsByShowtimeAndSeatIds returns the showtime with the requested seats of its hall.
// Unknown seat IDs are left out, so callers compare the seat count with their request.
func (p *PostgresSeatRepository) GetSeatsByShowtimeAndSeatIds(
	ctx context.Context,
	showtimeID int,
	seatIDs []int) (*domain.ShowtimeSeats, error) {

	query := `
		SELECT
			sh.id,
			t.name AS theater_name,
			m.title AS movie_name,
			h.name AS hall_name,
			sh.start_time,
			h.id AS hall_id,
			sh.base_price
		FROM showtimes sh
		JOIN halls h
			ON sh.hall_id = h.id
		JOIN theaters t
			ON h.theater_id = t.id
		JOIN movies m
			ON sh.movie_id = m.id
		WHERE sh.id = $1
	`

	var showtimeSeats domain.ShowtimeSeats

	err := p.db.QueryRow(ctx, query, showtimeID).Scan(
		&showtimeSeats.ShowtimeID,
		&showtimeSeats.TheaterName,
		&showtimeSeats.MovieName,
		&showtimeSeats.HallName,
		&showtimeSeats.Date,
		&showtimeSeats.HallID,
		&showtimeSeats.Price,
	)
	if err != nil {
		return nil, notFoundOr(err)
	}

	query = `
		SELECT id, seat_row, seat_col, seat_type, extra_price
		FROM seats
		WHERE hall_id = $1 AND id = ANY($2)
		ORDER BY seat_row, seat_col
	`

	rows, err := p.db.Query(ctx, query, showtimeSeats.HallID, seatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	showtimeSeats.Seats = make([]domain.Seat, 0, len(seatIDs))

	for rows.Next() {
		var seat domain.Seat

		err = rows.Scan(
			&seat.ID,
			&seat.Row,
			&seat.Col,
			&seat.Type,
			&seat.ExtraPrice,
		)
		if err != nil {
			return nil, err
		}

		showtimeSeats.Seats = append(showtimeSeats.Seats, seat)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return &showtimeSeats, nil
}
