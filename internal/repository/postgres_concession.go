package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type PostgresConcessionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresConcessionRepository(db *pgxpool.Pool) *PostgresConcessionRepository {
	return &PostgresConcessionRepository{
		db: db,
	}
}

func (p *PostgresConcessionRepository) GetItemsByIds(ctx context.Context, ids []int) ([]domain.ConcessionItem, error) {
	query := `
		SELECT id, name, price, available
		FROM concession_items
		WHERE id = ANY($1)
	`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ConcessionItem, 0, len(ids))

	for rows.Next() {
		var item domain.ConcessionItem

		err = rows.Scan(&item.ID, &item.Name, &item.Price, &item.Available)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (p *PostgresConcessionRepository) CreateOrder(ctx context.Context, order *domain.ConcessionOrder) error {
	return runInTx(ctx, p.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO concession_orders (id, holder_id, total_amount, status, order_type, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`

		_, err := tx.Exec(
			ctx,
			query,
			order.ID,
			order.HolderID,
			order.TotalAmount,
			order.Status,
			order.Type,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			return err
		}

		err = insertOrderItems(ctx, tx, order.ID, order.Items)
		if err != nil {
			return err
		}

		return insertOrderTickets(ctx, tx, order.ID, order.TicketIDs)
	})
}

func (p *PostgresConcessionRepository) GetOrderById(ctx context.Context, id string) (*domain.ConcessionOrder, error) {
	orders, err := p.GetOrdersByIds(ctx, []string{id})
	if err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, domain.ErrRecordNotFound
	}

	return &orders[0], nil
}

func (p *PostgresConcessionRepository) GetOrdersByIds(ctx context.Context, ids []string) ([]domain.ConcessionOrder, error) {
	query := `
		SELECT id, holder_id, total_amount, status, order_type, created_at, updated_at
		FROM concession_orders
		WHERE id = ANY($1::uuid[])
		ORDER BY created_at
	`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.ConcessionOrder, 0, len(ids))
	index := make(map[string]int, len(ids))

	for rows.Next() {
		var order domain.ConcessionOrder

		err = rows.Scan(
			&order.ID,
			&order.HolderID,
			&order.TotalAmount,
			&order.Status,
			&order.Type,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		index[order.ID] = len(orders)
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return orders, nil
	}

	err = p.retrieveOrderItems(ctx, ids, orders, index)
	if err != nil {
		return nil, err
	}

	err = p.retrieveOrderTickets(ctx, ids, orders, index)
	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (p *PostgresConcessionRepository) retrieveOrderItems(
	ctx context.Context,
	ids []string,
	orders []domain.ConcessionOrder,
	index map[string]int) error {

	query := `
		SELECT order_id, item_id, name, quantity, unit_price
		FROM concession_order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY item_id
	`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.ConcessionOrderItem

		err = rows.Scan(&orderID, &item.ItemID, &item.Name, &item.Quantity, &item.UnitPrice)
		if err != nil {
			return err
		}

		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}

	return rows.Err()
}

func (p *PostgresConcessionRepository) retrieveOrderTickets(
	ctx context.Context,
	ids []string,
	orders []domain.ConcessionOrder,
	index map[string]int) error {

	query := `
		SELECT order_id, ticket_id
		FROM concession_order_tickets
		WHERE order_id = ANY($1::uuid[])
	`

	rows, err := p.db.Query(ctx, query, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, ticketID string

		err = rows.Scan(&orderID, &ticketID)
		if err != nil {
			return err
		}

		i := index[orderID]
		orders[i].TicketIDs = append(orders[i].TicketIDs, ticketID)
	}

	return rows.Err()
}

func (p *PostgresConcessionRepository) ReplaceItems(
	ctx context.Context,
	orderID string,
	items []domain.ConcessionOrderItem,
	total decimal.Decimal) error {

	return runInTx(ctx, p.db, func(tx pgx.Tx) error {
		var status domain.OrderStatus

		err := tx.QueryRow(ctx, `SELECT status FROM concession_orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
		if err != nil {
			return notFoundOr(err)
		}

		if status != domain.OrderStatusPending {
			return domain.ErrEditConflict
		}

		paying := `
			SELECT EXISTS (
				SELECT 1
				FROM payment_concession_orders pc
				JOIN payments p ON p.id = pc.payment_id
				WHERE pc.order_id = $1
					AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
			)
		`

		var conflict bool

		err = tx.QueryRow(ctx, paying, orderID).Scan(&conflict)
		if err != nil {
			return err
		}

		if conflict {
			return fmt.Errorf("%w: order is being paid", domain.ErrEditConflict)
		}

		_, err = tx.Exec(ctx, `DELETE FROM concession_order_items WHERE order_id = $1`, orderID)
		if err != nil {
			return err
		}

		err = insertOrderItems(ctx, tx, orderID, items)
		if err != nil {
			return err
		}

		_, err = tx.Exec(
			ctx,
			`UPDATE concession_orders SET total_amount = $2, updated_at = NOW() WHERE id = $1`,
			orderID,
			total)

		return err
	})
}

func (p *PostgresConcessionRepository) LinkTickets(ctx context.Context, orderID string, ticketIDs []string) error {
	return runInTx(ctx, p.db, func(tx pgx.Tx) error {
		var status domain.OrderStatus

		err := tx.QueryRow(ctx, `SELECT status FROM concession_orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
		if err != nil {
			return notFoundOr(err)
		}

		if status != domain.OrderStatusPending && status != domain.OrderStatusConfirmed {
			return domain.ErrOrderNotLinkable
		}

		err = insertOrderTickets(ctx, tx, orderID, ticketIDs)
		if err != nil {
			return err
		}

		_, err = tx.Exec(
			ctx,
			`UPDATE concession_orders SET order_type = $2, updated_at = NOW() WHERE id = $1`,
			orderID,
			domain.OrderTypeWithTicket)

		return err
	})
}

func (p *PostgresConcessionRepository) UpdateStatus(
	ctx context.Context,
	orderID string,
	from []domain.OrderStatus,
	to domain.OrderStatus) (bool, error) {

	fromValues := make([]string, len(from))
	for i, status := range from {
		fromValues[i] = string(status)
	}

	query := `
		UPDATE concession_orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`

	tag, err := p.db.Exec(ctx, query, orderID, to, fromValues)
	if err != nil {
		return false, err
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool

	err = p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM concession_orders WHERE id = $1)`, orderID).Scan(&exists)
	if err != nil {
		return false, err
	}

	if !exists {
		return false, domain.ErrRecordNotFound
	}

	return false, nil
}

func insertOrderItems(ctx context.Context, tx pgx.Tx, orderID string, items []domain.ConcessionOrderItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO concession_order_items (order_id, item_id, name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
	`

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, orderID, item.ItemID, item.Name, item.Quantity, item.UnitPrice)
	}

	return tx.SendBatch(ctx, batch).Close()
}

func insertOrderTickets(ctx context.Context, tx pgx.Tx, orderID string, ticketIDs []string) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO concession_order_tickets (order_id, ticket_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, ticketID := range ticketIDs {
		batch.Queue(query, orderID, ticketID)
	}

	return tx.SendBatch(ctx, batch).Close()
}
