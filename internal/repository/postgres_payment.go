package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	p.id, p.user_id, p.email, p.amount, p.currency, p.method, p.state, p.gateway,
	p.gateway_ref, p.redirect_url, p.response_code, p.error_message, p.lease_until,
	p.reconciled_at, p.created_at, p.updated_at,
	COALESCE((SELECT array_agg(pt.ticket_id::text) FROM payment_tickets pt WHERE pt.payment_id = p.id), '{}'),
	COALESCE((SELECT array_agg(pc.order_id::text) FROM payment_concession_orders pc WHERE pc.payment_id = p.id), '{}')
`

type PostgresPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPostgresPaymentRepository(db *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{
		db: db,
	}
}

// Create locks the referenced ticket and order rows, so two concurrent attempts on the
// same selection cannot both pass the open payment check and repricing cannot slip in
// between the amount check and the insert.
func (p *PostgresPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	return runInTx(ctx, p.db, func(tx pgx.Tx) error {
		total, err := lockPayable(ctx, tx, payment)
		if err != nil {
			return err
		}

		if !total.Equal(payment.Amount) {
			return fmt.Errorf("%w: selection now totals %s, payment is %s", domain.ErrEditConflict, total, payment.Amount)
		}

		query := `
			INSERT INTO payments (
				id,
				user_id,
				email,
				amount,
				currency,
				method,
				state,
				gateway,
				created_at,
				updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`

		_, err = tx.Exec(
			ctx,
			query,
			payment.ID,
			payment.UserID,
			payment.Email,
			payment.Amount,
			payment.Currency,
			payment.Method,
			payment.State,
			payment.Gateway,
			payment.CreatedAt,
			payment.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}

		for _, ticketID := range payment.TicketIDs {
			batch.Queue(`INSERT INTO payment_tickets (payment_id, ticket_id) VALUES ($1, $2)`, payment.ID, ticketID)
		}

		for _, orderID := range payment.ConcessionOrderIDs {
			batch.Queue(`INSERT INTO payment_concession_orders (payment_id, order_id) VALUES ($1, $2)`, payment.ID, orderID)
		}

		if batch.Len() == 0 {
			return nil
		}

		return tx.SendBatch(ctx, batch).Close()
	})
}

// lockPayable locks the tickets and orders of the payment in id order and returns what
// they add up to. Every row must still be PENDING and free of other open payments.
func lockPayable(ctx context.Context, tx pgx.Tx, payment *domain.Payment) (decimal.Decimal, error) {
	total := decimal.Zero

	locks := []struct {
		ids      []string
		pending  string
		lock     string
		conflict string
	}{
		{
			ids:     payment.TicketIDs,
			pending: string(domain.TicketStatusPending),
			lock:    `SELECT status, price FROM tickets WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			conflict: `
				SELECT EXISTS (
					SELECT 1
					FROM payment_tickets pt
					JOIN payments p ON p.id = pt.payment_id
					WHERE pt.ticket_id = ANY($1::uuid[])
						AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
				)
			`,
		},
		{
			ids:     payment.ConcessionOrderIDs,
			pending: string(domain.OrderStatusPending),
			lock:    `SELECT status, total_amount FROM concession_orders WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			conflict: `
				SELECT EXISTS (
					SELECT 1
					FROM payment_concession_orders pc
					JOIN payments p ON p.id = pc.payment_id
					WHERE pc.order_id = ANY($1::uuid[])
						AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
				)
			`,
		},
	}

	for _, l := range locks {
		if len(l.ids) == 0 {
			continue
		}

		rows, err := tx.Query(ctx, l.lock, l.ids)
		if err != nil {
			return decimal.Zero, err
		}

		var (
			status string
			amount decimal.Decimal
			locked int
		)

		_, err = pgx.ForEachRow(rows, []any{&status, &amount}, func() error {
			if status != l.pending {
				return fmt.Errorf("%w: %s is no longer pending", domain.ErrEditConflict, status)
			}

			total = total.Add(amount)
			locked++

			return nil
		})
		if err != nil {
			return decimal.Zero, err
		}

		if locked != len(l.ids) {
			return decimal.Zero, fmt.Errorf("%w: %d of %d rows found", domain.ErrEditConflict, locked, len(l.ids))
		}

		var conflict bool

		err = tx.QueryRow(ctx, l.conflict, l.ids).Scan(&conflict)
		if err != nil {
			return decimal.Zero, err
		}

		if conflict {
			return decimal.Zero, domain.ErrPaymentConflict
		}
	}

	return total, nil
}

func (p *PostgresPaymentRepository) GetById(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.id = $1`

	payment, err := scanPayment(p.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err)
	}

	return payment, nil
}

func (p *PostgresPaymentRepository) GetByGatewayRef(ctx context.Context, gatewayRef string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments p WHERE p.gateway_ref = $1`

	payment, err := scanPayment(p.db.QueryRow(ctx, query, gatewayRef))
	if err != nil {
		return nil, notFoundOr(err)
	}

	return payment, nil
}

func (p *PostgresPaymentRepository) GetOpenByTickets(ctx context.Context, ticketIDs []string) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
			AND EXISTS (
				SELECT 1 FROM payment_tickets pt
				WHERE pt.payment_id = p.id AND pt.ticket_id = ANY($1::uuid[])
			)
	`

	rows, err := p.db.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}

	return collectPayments(rows)
}

func (p *PostgresPaymentRepository) GetOpenByConcessionOrders(ctx context.Context, orderIDs []string) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
			AND EXISTS (
				SELECT 1 FROM payment_concession_orders pc
				WHERE pc.payment_id = p.id AND pc.order_id = ANY($1::uuid[])
			)
	`

	rows, err := p.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, err
	}

	return collectPayments(rows)
}

func (p *PostgresPaymentRepository) MarkRedirected(ctx context.Context, id, gatewayRef, redirectURL string) error {
	query := `
		UPDATE payments
		SET state = 'GATEWAY_REDIRECTED', gateway_ref = $2, redirect_url = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'INIT'
	`

	tag, err := p.db.Exec(ctx, query, id, gatewayRef, redirectURL)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrEditConflict
	}

	return nil
}

func (p *PostgresPaymentRepository) BeginReconcile(
	ctx context.Context,
	id string,
	now, leaseUntil time.Time) (bool, error) {

	query := `
		UPDATE payments
		SET state = 'RECONCILING', lease_until = $3, updated_at = $2
		WHERE id = $1
			AND (
				state IN ('GATEWAY_REDIRECTED', 'INDETERMINATE')
				OR (state = 'RECONCILING' AND (lease_until IS NULL OR lease_until <= $2))
			)
	`

	tag, err := p.db.Exec(ctx, query, id, now, leaseUntil)
	if err != nil {
		return false, err
	}

	if tag.RowsAffected() == 1 {
		return true, nil
	}

	return false, p.ensureExists(ctx, id)
}

func (p *PostgresPaymentRepository) MarkIndeterminate(ctx context.Context, id string, responseCode string) error {
	query := `
		UPDATE payments
		SET state = 'INDETERMINATE',
			lease_until = NULL,
			response_code = COALESCE(NULLIF($2, ''), response_code),
			updated_at = NOW()
		WHERE id = $1 AND state = 'RECONCILING'
	`

	_, err := p.db.Exec(ctx, query, id, responseCode)
	return err
}

// Claim writes the terminal state only while the payment is still open. The row update
// is the single point that decides which reconciliation path wins.
func (p *PostgresPaymentRepository) Claim(
	ctx context.Context,
	id string,
	claim domain.PaymentClaim) (bool, *domain.Payment, error) {

	query := `
		UPDATE payments p
		SET state = $2,
			response_code = COALESCE(NULLIF($3, ''), p.response_code),
			error_message = COALESCE(NULLIF($4, ''), p.error_message),
			lease_until = NULL,
			reconciled_at = $5,
			updated_at = $5
		WHERE p.id = $1
			AND p.state IN ('INIT', 'GATEWAY_REDIRECTED', 'RECONCILING', 'INDETERMINATE')
		RETURNING ` + paymentColumns

	payment, err := scanPayment(p.db.QueryRow(ctx, query, id, claim.State, claim.ResponseCode, claim.ErrorMsg, claim.At))
	if err == nil {
		return true, payment, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, err
	}

	payment, err = p.GetById(ctx, id)
	if err != nil {
		return false, nil, err
	}

	return false, payment, nil
}

func (p *PostgresPaymentRepository) ListOpen(
	ctx context.Context,
	states []domain.PaymentState,
	updatedBefore time.Time,
	limit int) ([]domain.Payment, error) {

	stateValues := make([]string, len(states))
	for i, state := range states {
		stateValues[i] = string(state)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.state = ANY($1) AND p.updated_at < $2
		ORDER BY p.updated_at
		LIMIT $3
	`

	rows, err := p.db.Query(ctx, query, stateValues, updatedBefore, limit)
	if err != nil {
		return nil, err
	}

	return collectPayments(rows)
}

func (p *PostgresPaymentRepository) ListOpenAfter(
	ctx context.Context,
	states []domain.PaymentState,
	after domain.PaymentCursor,
	limit int) ([]domain.Payment, error) {

	stateValues := make([]string, len(states))
	for i, state := range states {
		stateValues[i] = string(state)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payments p
		WHERE p.state = ANY($1) AND (p.updated_at, p.id) > ($2, $3::uuid)
		ORDER BY p.updated_at, p.id
		LIMIT $4
	`

	rows, err := p.db.Query(ctx, query, stateValues, after.UpdatedAt, cursorID(after.ID), limit)
	if err != nil {
		return nil, err
	}

	return collectPayments(rows)
}

func (p *PostgresPaymentRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool

	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}

	if !exists {
		return domain.ErrRecordNotFound
	}

	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var payment domain.Payment

	err := row.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.Email,
		&payment.Amount,
		&payment.Currency,
		&payment.Method,
		&payment.State,
		&payment.Gateway,
		&payment.GatewayRef,
		&payment.RedirectURL,
		&payment.ResponseCode,
		&payment.ErrorMsg,
		&payment.LeaseUntil,
		&payment.ReconciledAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
		&payment.TicketIDs,
		&payment.ConcessionOrderIDs,
	)
	if err != nil {
		return nil, err
	}

	return &payment, nil
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	defer rows.Close()

	payments := make([]domain.Payment, 0)

	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}

		payments = append(payments, *payment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}
