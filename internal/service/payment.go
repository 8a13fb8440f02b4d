package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	sourceInitiate = "initiate"
	sourceCallback = "callback"
	sourcePoll     = "poll"
	sourceLookup   = "lookup"
	sourceCancel   = "cancel"
	sourceWorker   = "worker"
)

// defaultPageSize bounds one page of a sweep that walks every matching row.
const defaultPageSize = 100

type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type PaymentOrchestratorConfig struct {
	Currency string
	Policy   ReconcilePolicy
	Retry    RetryConfig
	// Sleep waits between status queries. It defaults to a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

type PaymentOrchestratorDeps struct {
	Payments    domain.PaymentRepository
	Tickets     *TicketService
	Concessions *ConcessionService
	Promotions  *PromotionService
	Locks       *SeatLockService
	Gateway     domain.PaymentGateway
	Publisher   domain.EventPublisher
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *Metrics
}

// PaymentOrchestrator drives a payment from INIT to a terminal state. Callbacks, polls,
// lookups and cancellations all end in finalize, which applies side effects only for the
// caller that wins the atomic claim.
type PaymentOrchestrator struct {
	payments    domain.PaymentRepository
	tickets     *TicketService
	concessions *ConcessionService
	promotions  *PromotionService
	locks       *SeatLockService
	gateway     domain.PaymentGateway
	publisher   domain.EventPublisher
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics

	currency string
	policy   ReconcilePolicy
	retry    RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error

	group     singleflight.Group
	mu        sync.Mutex
	lastQuery map[string]time.Time

	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

func NewPaymentOrchestrator(deps PaymentOrchestratorDeps, cfg PaymentOrchestratorConfig) *PaymentOrchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultReconcilePolicy()
	}

	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	background, stop := context.WithCancel(context.Background())

	return &PaymentOrchestrator{
		payments:    deps.Payments,
		tickets:     deps.Tickets,
		concessions: deps.Concessions,
		promotions:  deps.Promotions,
		locks:       deps.Locks,
		gateway:     deps.Gateway,
		publisher:   deps.Publisher,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		currency:    cfg.Currency,
		policy:      cfg.Policy,
		retry:       cfg.Retry,
		sleep:       cfg.Sleep,
		lastQuery:   make(map[string]time.Time),
		background:  background,
		stop:        stop,
	}
}

type InitiateRequest struct {
	HolderID           int
	Email              string
	TicketIDs          []string
	ConcessionOrderIDs []string
	Method             domain.PaymentMethod
}

// Initiate creates the payment for the holder's PENDING tickets and concession orders and
// returns it with the gateway redirect URL.
func (o *PaymentOrchestrator) Initiate(ctx context.Context, req InitiateRequest) (*domain.Payment, error) {
	if !req.Method.Valid() {
		return nil, domain.ErrInvalidMethod
	}

	ticketIDs := distinct(req.TicketIDs)
	orderIDs := distinct(req.ConcessionOrderIDs)

	if len(ticketIDs) == 0 && len(orderIDs) == 0 {
		return nil, domain.ErrEmptySelection
	}

	tickets, err := o.tickets.Get(ctx, ticketIDs)
	if err != nil {
		return nil, err
	}

	if len(tickets) != len(ticketIDs) {
		return nil, fmt.Errorf("%w: ticket", domain.ErrRecordNotFound)
	}

	for _, t := range tickets {
		if t.HolderID != req.HolderID || t.Status != domain.TicketStatusPending {
			return nil, fmt.Errorf("%w: ticket %s", domain.ErrInvalidTicketState, t.ID)
		}
	}

	// The locks have to outlive the trip to the gateway.
	for showtimeID, seatIDs := range domain.GroupSeatsByShowtime(tickets) {
		if _, err := o.locks.Renew(ctx, showtimeID, seatIDs, req.HolderID, 0); err != nil {
			return nil, err
		}
	}

	orders, err := o.concessions.GetMany(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	if len(orders) != len(orderIDs) {
		return nil, fmt.Errorf("%w: concession order", domain.ErrRecordNotFound)
	}

	for _, order := range orders {
		if order.HolderID != req.HolderID {
			return nil, fmt.Errorf("%w: concession order", domain.ErrRecordNotFound)
		}

		if order.Status != domain.OrderStatusPending {
			return nil, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotLinkable, order.ID, order.Status)
		}
	}

	now := o.clock.Now()
	payment := domain.NewPayment(req.HolderID, req.Email, paymentTotal(tickets, orders), o.currency, req.Method, now)
	payment.TicketIDs = ticketIDs
	payment.ConcessionOrderIDs = orderIDs
	payment.Gateway = o.gateway.Name()

	if err := o.payments.Create(ctx, &payment); err != nil {
		return nil, err
	}

	logger := o.logger.With("payment_id", payment.ID, "holder_id", req.HolderID)

	if len(ticketIDs) > 0 {
		for _, order := range orders {
			if err := o.concessions.LinkToTickets(ctx, order.ID, ticketIDs); err != nil {
				o.fail(ctx, payment.ID, "concession order could not be linked", sourceInitiate)
				return nil, err
			}
		}
	}

	if payment.Amount.IsZero() {
		logger.Info("payment has nothing to charge, completing without gateway")
		return o.finalize(ctx, payment.ID, domain.GatewayResult{Outcome: domain.GatewayOutcomeCompleted}, sourceInitiate)
	}

	intent, err := o.createIntent(ctx, domain.IntentRequest{
		PaymentID:   payment.ID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Method:      payment.Method,
		Email:       payment.Email,
		Description: fmt.Sprintf("Cinema booking %s", payment.ID),
		UserID:      payment.UserID,
		LineItems:   lineItems(tickets, orders),
		ExpiresAt:   now.Add(o.locks.TTL()),
	})
	if err != nil {
		logger.Error("failed to create payment intent", "error", err)
		o.fail(ctx, payment.ID, err.Error(), sourceInitiate)
		return nil, err
	}

	if err := o.payments.MarkRedirected(ctx, payment.ID, intent.TransactionRef, intent.RedirectURL); err != nil {
		return nil, err
	}

	payment.State = domain.PaymentStateGatewayRedirected
	payment.GatewayRef = &intent.TransactionRef
	payment.RedirectURL = &intent.RedirectURL

	logger.Info("payment redirected to gateway", "gateway", payment.Gateway, "amount", payment.Amount.String())

	return &payment, nil
}

// createIntent retries the gateway while it is unreachable.
func (o *PaymentOrchestrator) createIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retry.InitialInterval
	b.MaxInterval = o.retry.MaxInterval

	attempt := 0
	operation := func() (*domain.Intent, error) {
		attempt++
		if attempt > 1 {
			o.metrics.GatewayRetry(ctx, "create_intent")
		}

		intent, err := o.gateway.CreateIntent(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrGatewayUnreachable) {
				return nil, err
			}

			return nil, backoff.Permanent(err)
		}

		return intent, nil
	}

	return backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(o.retry.MaxTries))
}

// HandleCallback verifies a gateway callback and applies its outcome. A processing signal
// starts background polling instead.
func (o *PaymentOrchestrator) HandleCallback(ctx context.Context, payload domain.CallbackPayload) (*domain.Payment, error) {
	result, err := o.gateway.ParseCallback(ctx, payload)
	if err != nil {
		return nil, err
	}

	payment, err := o.lookup(ctx, result)
	if err != nil {
		return nil, err
	}

	if payment.State.Terminal() {
		return payment, nil
	}

	if !result.Outcome.Terminal() {
		o.logger.Info("gateway reported payment still processing", "payment_id", payment.ID, "code", result.ResponseCode)
		o.ReconcileAsync(payment.ID)
		return payment, nil
	}

	return o.finalize(ctx, payment.ID, *result, sourceCallback)
}

func (o *PaymentOrchestrator) lookup(ctx context.Context, result *domain.GatewayResult) (*domain.Payment, error) {
	if result.PaymentID != "" {
		payment, err := o.payments.GetById(ctx, result.PaymentID)
		if err == nil || !errors.Is(err, domain.ErrRecordNotFound) || result.TransactionRef == "" {
			return payment, err
		}
	}

	if result.TransactionRef == "" {
		return nil, domain.ErrInvalidCallback
	}

	return o.payments.GetByGatewayRef(ctx, result.TransactionRef)
}

// finalize turns a gateway result into a claim. A completed result whose amount differs
// from the payment amount is recorded as FAILED.
func (o *PaymentOrchestrator) finalize(ctx context.Context, paymentID string, result domain.GatewayResult, source string) (*domain.Payment, error) {
	claim := domain.PaymentClaim{
		State:        result.Outcome.PaymentState(),
		ResponseCode: result.ResponseCode,
	}

	if claim.State == domain.PaymentStateCompleted && result.Amount != nil {
		current, err := o.payments.GetById(ctx, paymentID)
		if err != nil {
			return nil, err
		}

		if !result.Amount.Equal(current.Amount) {
			o.logger.Error("gateway reported a different amount",
				"payment_id", paymentID,
				"expected", current.Amount.String(),
				"reported", result.Amount.String())

			claim.State = domain.PaymentStateFailed
			claim.ErrorMsg = "amount reported by the gateway does not match"
		}
	}

	if claim.State == domain.PaymentStateFailed && claim.ErrorMsg == "" && result.ResponseCode != "" {
		claim.ErrorMsg = fmt.Sprintf("gateway response code %s", result.ResponseCode)
	}

	return o.apply(ctx, paymentID, claim, source)
}

// apply is the only place terminal side effects happen. Losing the claim means another
// path already finished the payment, and the stored payment is returned unchanged.
func (o *PaymentOrchestrator) apply(ctx context.Context, paymentID string, claim domain.PaymentClaim, source string) (*domain.Payment, error) {
	claim.At = o.clock.Now()

	won, payment, err := o.payments.Claim(ctx, paymentID, claim)
	if err != nil {
		return nil, err
	}

	if !won {
		o.metrics.DuplicateClaim(ctx)
		o.logger.Info("payment already finalized", "payment_id", paymentID, "state", payment.State, "source", source)
		return payment, nil
	}

	o.forget(paymentID)
	o.metrics.PaymentOutcome(ctx, string(payment.State), source)
	o.logger.Info("payment finalized", "payment_id", paymentID, "state", payment.State, "source", source)

	if payment.State == domain.PaymentStateCompleted {
		o.onCompleted(ctx, payment)
	} else {
		o.unwind(ctx, payment)
	}

	return payment, nil
}

func (o *PaymentOrchestrator) onCompleted(ctx context.Context, payment *domain.Payment) {
	logger := o.logger.With("payment_id", payment.ID)

	confirmed, err := o.tickets.Confirm(ctx, payment.UserID, payment.TicketIDs)
	if err != nil {
		logger.Error("paid tickets could not be confirmed", "error", err)
		return
	}

	if err := o.concessions.Confirm(ctx, payment.ConcessionOrderIDs); err != nil {
		logger.Error("paid concession orders could not be confirmed", "error", err)
	}

	if code := promotionCode(confirmed); code != "" {
		if err := o.promotions.RecordUsage(ctx, code); err != nil {
			logger.Warn("promotion usage not recorded", "code", code, "error", err)
		}
	}

	event := domain.BookingConfirmedEvent{
		PaymentID:          payment.ID,
		UserID:             payment.UserID,
		Email:              payment.Email,
		TicketIDs:          domain.TicketIds(confirmed),
		ConcessionOrderIDs: payment.ConcessionOrderIDs,
		TotalAmount:        payment.Amount,
		Currency:           payment.Currency,
		ConfirmedAt:        o.clock.Now(),
	}

	for _, t := range confirmed {
		event.ShowtimeID = t.ShowtimeID
		event.SeatIDs = append(event.SeatIDs, t.SeatID)
	}

	if err := o.publisher.PublishBookingConfirmed(ctx, event); err != nil {
		logger.Error("failed to publish booking confirmation", "error", err)
	}
}

// unwind cancels the tickets and frees the seats of a payment that did not complete.
func (o *PaymentOrchestrator) unwind(ctx context.Context, payment *domain.Payment) {
	cancelled, err := o.tickets.Cancel(ctx, payment.TicketIDs)
	if err != nil {
		o.logger.Error("failed to cancel tickets of unpaid booking", "payment_id", payment.ID, "error", err)
		return
	}

	// Locks of tickets cancelled earlier, for example by the sweeper, are released as well.
	tickets, err := o.tickets.Get(ctx, payment.TicketIDs)
	if err == nil {
		for showtimeID, seatIDs := range domain.GroupSeatsByShowtime(tickets) {
			if err := o.locks.ReleaseHeld(ctx, showtimeID, seatIDs, payment.UserID); err != nil {
				o.logger.Error("failed to release seat locks", "payment_id", payment.ID, "error", err)
			}
		}
	}

	o.metrics.Unwound(ctx, string(payment.State))
	o.logger.Info("booking unwound", "payment_id", payment.ID, "cancelled_tickets", len(cancelled))
}

func (o *PaymentOrchestrator) fail(ctx context.Context, paymentID, msg, source string) {
	claim := domain.PaymentClaim{State: domain.PaymentStateFailed, ErrorMsg: msg}

	if _, err := o.apply(ctx, paymentID, claim, source); err != nil {
		o.logger.Error("failed to mark payment failed", "payment_id", paymentID, "error", err)
	}
}

// CancelPayment abandons an open payment of the holder. The gateway void is best effort
// and the payment is failed locally either way, unless the gateway reports it already paid.
func (o *PaymentOrchestrator) CancelPayment(ctx context.Context, holderID int, paymentID string) (*domain.Payment, error) {
	payment, err := o.Get(ctx, holderID, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.State.Terminal() {
		return payment, nil
	}

	if ref := payment.GatewayRefValue(); ref != "" {
		if err := o.gateway.Void(ctx, ref); err != nil {
			o.logger.Warn("gateway void failed", "payment_id", paymentID, "error", err)

			if result, qerr := o.gateway.QueryStatus(ctx, ref); qerr == nil && result.Outcome == domain.GatewayOutcomeCompleted {
				return o.finalize(ctx, paymentID, *result, sourceCancel)
			}
		}
	}

	return o.apply(ctx, paymentID, domain.PaymentClaim{State: domain.PaymentStateFailed, ErrorMsg: "cancelled by customer"}, sourceCancel)
}

// Get returns the payment if it belongs to the holder.
func (o *PaymentOrchestrator) Get(ctx context.Context, holderID int, paymentID string) (*domain.Payment, error) {
	payment, err := o.payments.GetById(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.UserID != holderID {
		return nil, domain.ErrRecordNotFound
	}

	return payment, nil
}

// OpenForTickets returns the holder's open payment for the tickets, if there is one.
func (o *PaymentOrchestrator) OpenForTickets(ctx context.Context, holderID int, ticketIDs []string) (*domain.Payment, error) {
	open, err := o.payments.GetOpenByTickets(ctx, ticketIDs)
	if err != nil {
		return nil, err
	}

	for _, p := range open {
		if p.UserID == holderID {
			return &p, nil
		}
	}

	return nil, domain.ErrRecordNotFound
}

// OpenForConcessionOrders returns the holder's open payment for the orders, if there is one.
func (o *PaymentOrchestrator) OpenForConcessionOrders(ctx context.Context, holderID int, orderIDs []string) (*domain.Payment, error) {
	open, err := o.payments.GetOpenByConcessionOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	for _, p := range open {
		if p.UserID == holderID {
			return &p, nil
		}
	}

	return nil, domain.ErrRecordNotFound
}

// FailStuck fails INIT payments older than cutoff that never reached the gateway.
func (o *PaymentOrchestrator) FailStuck(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stuck, err := o.payments.ListOpen(ctx, []domain.PaymentState{domain.PaymentStateInit}, cutoff, limit)
	if err != nil {
		return 0, err
	}

	for _, p := range stuck {
		if ref := p.GatewayRefValue(); ref != "" {
			if err := o.gateway.Void(ctx, ref); err != nil {
				o.logger.Warn("gateway void failed", "payment_id", p.ID, "error", err)
			}
		}

		o.fail(ctx, p.ID, "payment never reached the gateway", sourceWorker)
	}

	return len(stuck), nil
}

// RenewLocks extends the seat locks of every open payment so seats stay held until the
// payment outcome is known. It walks all open payments in pages of pageSize.
func (o *PaymentOrchestrator) RenewLocks(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var (
		after   domain.PaymentCursor
		renewed int
	)

	for {
		open, err := o.payments.ListOpenAfter(ctx, domain.OpenPaymentStates, after, pageSize)
		if err != nil {
			return renewed, err
		}

		for i := range open {
			o.renewLocks(ctx, &open[i])
		}

		renewed += len(open)

		if len(open) < pageSize || ctx.Err() != nil {
			return renewed, ctx.Err()
		}

		after = open[len(open)-1].Cursor()
	}
}

func (o *PaymentOrchestrator) renewLocks(ctx context.Context, payment *domain.Payment) {
	tickets, err := o.tickets.Get(ctx, payment.TicketIDs)
	if err != nil {
		o.logger.Error("failed to load tickets for lock renewal", "payment_id", payment.ID, "error", err)
		return
	}

	var pending []domain.Ticket
	for _, t := range tickets {
		if t.Status == domain.TicketStatusPending {
			pending = append(pending, t)
		}
	}

	for showtimeID, seatIDs := range domain.GroupSeatsByShowtime(pending) {
		_, err := o.locks.Renew(ctx, showtimeID, seatIDs, payment.UserID, 0)
		if errors.Is(err, domain.ErrLockNotOwned) {
			// The PENDING tickets still own the seats in the ledger, so take the lock back.
			_, err = o.locks.store.Acquire(ctx, showtimeID, seatIDs, payment.UserID, o.locks.TTL())
		}

		if err != nil {
			o.logger.Warn("seat locks could not be renewed for open payment",
				"payment_id", payment.ID,
				"showtime_id", showtimeID,
				"error", err)
		}
	}
}

// Wait blocks until background reconciliations started by callbacks have returned.
func (o *PaymentOrchestrator) Wait() {
	o.wg.Wait()
}

// Close stops background reconciliations and waits for them.
func (o *PaymentOrchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

func paymentTotal(tickets []domain.Ticket, orders []domain.ConcessionOrder) decimal.Decimal {
	total := decimal.Zero

	for _, t := range tickets {
		total = total.Add(t.Price)
	}

	for _, order := range orders {
		total = total.Add(order.TotalAmount)
	}

	return total
}

func lineItems(tickets []domain.Ticket, orders []domain.ConcessionOrder) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(tickets))

	for _, t := range tickets {
		items = append(items, domain.LineItem{
			Name:     fmt.Sprintf("Ticket: showtime %d, seat %d", t.ShowtimeID, t.SeatID),
			Quantity: 1,
			Amount:   t.Price,
		})
	}

	for _, order := range orders {
		for _, item := range order.Items {
			items = append(items, domain.LineItem{
				Name:     item.Name,
				Quantity: item.Quantity,
				Amount:   item.UnitPrice,
			})
		}
	}

	return items
}

func promotionCode(tickets []domain.Ticket) string {
	for _, t := range tickets {
		if code := t.PromotionCodeValue(); code != "" {
			return code
		}
	}

	return ""
}

func distinct(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	out := slices.Clone(ids)
	slices.Sort(out)

	return slices.Compact(out)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
