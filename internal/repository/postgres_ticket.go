package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

const ticketColumns = `
	id, showtime_id, seat_id, holder_id, base_price, discount, price, promotion_code,
	status, created_at, updated_at, confirmed_at, cancelled_at
`

type PostgresTicketRepository struct {
	db *pgxpool.Pool
}

func NewPostgresTicketRepository(db *pgxpool.Pool) *PostgresTicketRepository {
	return &PostgresTicketRepository{
		db: db,
	}
}

func (p *PostgresTicketRepository) GetByIds(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ANY($1::uuid[])`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}

	return collectTickets(rows)
}

func (p *PostgresTicketRepository) GetActiveBySeats(
	ctx context.Context,
	showtimeID int,
	seatIDs []int) ([]domain.Ticket, error) {

	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE showtime_id = $1
			AND seat_id = ANY($2)
			AND status IN ('PENDING', 'CONFIRMED', 'USED')
		ORDER BY seat_id
	`

	rows, err := p.db.Query(ctx, query, showtimeID, seatIDs)
	if err != nil {
		return nil, err
	}

	return collectTickets(rows)
}

func (p *PostgresTicketRepository) CreateMany(ctx context.Context, tickets []domain.Ticket) error {
	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO tickets (
				id, showtime_id, seat_id, holder_id, base_price, discount,
				price, promotion_code, status, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`

		batch := &pgx.Batch{}
		for _, t := range tickets {
			batch.Queue(
				query,
				t.ID,
				t.ShowtimeID,
				t.SeatID,
				t.HolderID,
				t.BasePrice,
				t.Discount,
				t.Price,
				t.PromotionCode,
				t.Status,
				t.CreatedAt,
				t.UpdatedAt,
			)
		}

		return tx.SendBatch(ctx, batch).Close()
	})

	if isUniqueViolation(err) {
		return domain.ErrSeatUnavailable
	}

	return err
}

// UpdatePricing takes the same row locks as PostgresPaymentRepository.Create, so a
// payment is priced either before or after the rewrite and never in between.
func (p *PostgresTicketRepository) UpdatePricing(ctx context.Context, tickets []domain.Ticket) error {
	ids := ticketIDsOf(tickets)

	return runInTx(ctx, p.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `SELECT id FROM tickets WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return err
		}

		paying := `
			SELECT EXISTS (
				SELECT 1
				FROM payment_tickets pt
				JOIN payments p ON p.id = pt.payment_id
				WHERE pt.ticket_id = ANY($1::uuid[])
					AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
			)
		`

		var conflict bool

		err = tx.QueryRow(ctx, paying, ids).Scan(&conflict)
		if err != nil {
			return err
		}

		if conflict {
			return domain.ErrPaymentConflict
		}

		query := `
			UPDATE tickets
			SET discount = $2, price = $3, promotion_code = $4, updated_at = NOW()
			WHERE id = $1 AND status = 'PENDING'
		`

		for _, t := range tickets {
			tag, err := tx.Exec(ctx, query, t.ID, t.Discount, t.Price, t.PromotionCode)
			if err != nil {
				return err
			}

			if tag.RowsAffected() != 1 {
				return domain.ErrInvalidTicketState
			}
		}

		return nil
	})
}

func (p *PostgresTicketRepository) Confirm(ctx context.Context, holderID int, ids []string) ([]domain.Ticket, error) {
	var confirmed []domain.Ticket

	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		query := `
			UPDATE tickets
			SET status = 'CONFIRMED', confirmed_at = NOW(), updated_at = NOW()
			WHERE id = ANY($1::uuid[]) AND holder_id = $2 AND status = 'PENDING'
			RETURNING ` + ticketColumns

		rows, err := tx.Query(ctx, query, ids, holderID)
		if err != nil {
			return err
		}

		confirmed, err = collectTickets(rows)
		if err != nil {
			return err
		}

		if len(confirmed) != len(ids) {
			return domain.ErrInvalidTicketState
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return confirmed, nil
}

func (p *PostgresTicketRepository) Cancel(ctx context.Context, ids []string) ([]domain.Ticket, error) {
	query := `
		UPDATE tickets
		SET status = 'CANCELLED', cancelled_at = NOW(), updated_at = NOW()
		WHERE id = ANY($1::uuid[]) AND status = 'PENDING'
		RETURNING ` + ticketColumns

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}

	return collectTickets(rows)
}

func (p *PostgresTicketRepository) ListStalePending(
	ctx context.Context,
	createdBefore time.Time,
	after domain.TicketCursor,
	limit int) ([]domain.Ticket, error) {

	query := `
		SELECT ` + ticketColumns + `
		FROM tickets t
		WHERE t.status = 'PENDING'
			AND t.created_at < $1
			AND (t.created_at, t.id) > ($2, $3::uuid)
			AND NOT EXISTS (
				SELECT 1
				FROM payment_tickets pt
				JOIN payments p ON p.id = pt.payment_id
				WHERE pt.ticket_id = t.id
					AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
			)
		ORDER BY t.created_at, t.id
		LIMIT $4
	`

	rows, err := p.db.Query(ctx, query, createdBefore, after.CreatedAt, cursorID(after.ID), limit)
	if err != nil {
		return nil, err
	}

	return collectTickets(rows)
}

func collectTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)

	for rows.Next() {
		var t domain.Ticket

		err := rows.Scan(
			&t.ID,
			&t.ShowtimeID,
			&t.SeatID,
			&t.HolderID,
			&t.BasePrice,
			&t.Discount,
			&t.Price,
			&t.PromotionCode,
			&t.Status,
			&t.CreatedAt,
			&t.UpdatedAt,
			&t.ConfirmedAt,
			&t.CancelledAt,
		)
		if err != nil {
			return nil, err
		}

		tickets = append(tickets, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tickets, nil
}
