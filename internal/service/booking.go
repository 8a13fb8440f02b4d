package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
)

const DefaultSessionTTL = 30 * time.Minute

type BookingConfig struct {
	LockTTL    time.Duration
	SessionTTL time.Duration
}

// BookingService walks a holder through SELECT_SEATS, SELECT_CONCESSIONS,
// CHOOSE_PAYMENT_METHOD, GATEWAY_REDIRECT and COMPLETION. Every step first checks the
// artifacts of the steps before it.
type BookingService struct {
	sessions    domain.BookingSessionStore
	locks       *SeatLockService
	tickets     *TicketService
	concessions *ConcessionService
	payments    *PaymentOrchestrator
	clock       clock.Clock
	logger      *slog.Logger
	cfg         BookingConfig
}

func NewBookingService(
	sessions domain.BookingSessionStore,
	locks *SeatLockService,
	tickets *TicketService,
	concessions *ConcessionService,
	payments *PaymentOrchestrator,
	clk clock.Clock,
	logger *slog.Logger,
	cfg BookingConfig,
) *BookingService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	return &BookingService{
		sessions:    sessions,
		locks:       locks,
		tickets:     tickets,
		concessions: concessions,
		payments:    payments,
		clock:       clk,
		logger:      logger,
		cfg:         cfg,
	}
}

type SelectSeatsRequest struct {
	HolderID   int
	Email      string
	ShowtimeID int
	SeatIDs    []int
}

type CheckoutResult struct {
	Session *domain.BookingSession
	Payment *domain.Payment
}

// Current returns the holder's session with its step brought in line with what still holds.
func (b *BookingService) Current(ctx context.Context, holderID int) (*domain.BookingSession, error) {
	s, err := b.sessions.Get(ctx, holderID)
	if err != nil {
		return nil, err
	}

	reached, err := b.resolve(ctx, s)
	if err != nil {
		return nil, err
	}

	if reached.step.Before(s.Step) {
		if reached.step == domain.StepSelectSeats {
			b.cleanup(ctx, s)
			s.ResetToSeatSelection()
		} else {
			s.Step = reached.step
		}

		if err := b.save(ctx, s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SelectSeats locks the seats and starts or restarts the booking. Seats of a previous
// selection that are not picked again are released along with their tickets.
func (b *BookingService) SelectSeats(ctx context.Context, req SelectSeatsRequest) (*domain.BookingSession, error) {
	seatIDs, err := normalizeSeatIds(req.SeatIDs)
	if err != nil {
		return nil, err
	}

	s, err := b.sessions.Get(ctx, req.HolderID)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		s = &domain.BookingSession{HolderID: req.HolderID, Step: domain.StepSelectSeats}
	case err != nil:
		return nil, err
	}

	if s.PaymentID != "" {
		payment, err := b.payments.Get(ctx, req.HolderID, s.PaymentID)
		switch {
		case errors.Is(err, domain.ErrRecordNotFound):
		case err != nil:
			return nil, err
		case !payment.State.Terminal():
			return nil, domain.ErrPaymentConflict
		case payment.State == domain.PaymentStateCompleted:
			// The previous booking is done; everything it held now belongs to it.
			s = &domain.BookingSession{HolderID: req.HolderID, Email: s.Email, Step: domain.StepSelectSeats}
		default:
			s.ResetToSeatSelection()
		}
	}

	expiresAt, err := b.locks.Acquire(ctx, req.ShowtimeID, seatIDs, req.HolderID, b.cfg.LockTTL)
	if err != nil {
		return nil, err
	}

	kept := b.dropSelection(ctx, s, req.ShowtimeID, seatIDs)

	if req.Email != "" {
		s.Email = req.Email
	}

	s.ShowtimeID = req.ShowtimeID
	s.SeatIDs = seatIDs
	s.LockExpiresAt = expiresAt
	s.LockRenewed = false
	s.ConcessionsDone = false
	s.PromotionCode = ""
	s.PaymentMethod = ""
	s.TicketIDs = kept
	s.PaymentID = ""
	s.Step = domain.StepSelectConcessions

	if err := b.save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// dropSelection releases the seats of the previous selection that are not in the new one
// and returns the tickets of kept seats, which stay PENDING for reuse.
func (b *BookingService) dropSelection(ctx context.Context, s *domain.BookingSession, showtimeID int, seatIDs []int) []string {
	if s.ShowtimeID == 0 || len(s.SeatIDs) == 0 {
		return nil
	}

	dropped := func(showtime, seat int) bool {
		return showtime != showtimeID || !slices.Contains(seatIDs, seat)
	}

	tickets, err := b.tickets.Get(ctx, s.TicketIDs)
	if err != nil {
		b.logger.Error("failed to load tickets of previous selection", "holder_id", s.HolderID, "error", err)
	}

	var stale, kept []string
	for _, t := range tickets {
		switch {
		case dropped(t.ShowtimeID, t.SeatID):
			stale = append(stale, t.ID)
		case t.Status == domain.TicketStatusPending:
			kept = append(kept, t.ID)
		}
	}

	if _, err := b.tickets.Cancel(ctx, stale); err != nil {
		b.logger.Error("failed to cancel tickets of previous selection", "holder_id", s.HolderID, "error", err)
	}

	var release []int
	for _, seatID := range s.SeatIDs {
		if dropped(s.ShowtimeID, seatID) {
			release = append(release, seatID)
		}
	}

	if err := b.locks.ReleaseHeld(ctx, s.ShowtimeID, release, s.HolderID); err != nil {
		b.logger.Error("failed to release previous seats", "holder_id", s.HolderID, "error", err)
	}

	return kept
}

// RenewSeats pushes the expiry of the selected seats forward.
func (b *BookingService) RenewSeats(ctx context.Context, holderID int) (*domain.BookingSession, error) {
	s, err := b.load(ctx, holderID)
	if err != nil {
		return nil, err
	}

	if err := b.checkPayment(ctx, s); err != nil {
		return nil, err
	}

	if err := b.guard(ctx, s, domain.StepSelectConcessions); err != nil {
		return nil, err
	}

	expiresAt, err := b.locks.Renew(ctx, s.ShowtimeID, s.SeatIDs, holderID, b.cfg.LockTTL)
	if err != nil {
		return nil, b.contention(ctx, s, err)
	}

	s.LockExpiresAt = expiresAt

	if err := b.save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// SelectConcessions records the concession order of the booking. An empty list means no
// concessions and cancels a previously created order.
func (b *BookingService) SelectConcessions(ctx context.Context, holderID int, items []domain.ConcessionItemQuantity) (*domain.BookingSession, error) {
	s, err := b.load(ctx, holderID)
	if err != nil {
		return nil, err
	}

	if err := b.checkPayment(ctx, s); err != nil {
		return nil, err
	}

	if err := b.guard(ctx, s, domain.StepSelectConcessions); err != nil {
		return nil, err
	}

	if err := b.renewOnce(ctx, s); err != nil {
		return nil, err
	}

	switch {
	case len(items) == 0:
		if s.ConcessionOrderID != "" {
			if err := b.concessions.Cancel(ctx, s.ConcessionOrderID); err != nil {
				return nil, err
			}
		}

		s.ConcessionOrderID = ""
	case s.ConcessionOrderID != "":
		_, err := b.concessions.UpdateItems(ctx, holderID, s.ConcessionOrderID, items)
		if errors.Is(err, domain.ErrEditConflict) || errors.Is(err, domain.ErrRecordNotFound) {
			s.ConcessionOrderID = ""
			return b.createConcessions(ctx, s, items)
		}

		if err != nil {
			return nil, err
		}
	default:
		return b.createConcessions(ctx, s, items)
	}

	return b.concessionsDone(ctx, s)
}

func (b *BookingService) createConcessions(ctx context.Context, s *domain.BookingSession, items []domain.ConcessionItemQuantity) (*domain.BookingSession, error) {
	order, err := b.concessions.CreateStandalone(ctx, s.HolderID, items)
	if err != nil {
		return nil, err
	}

	s.ConcessionOrderID = order.ID

	return b.concessionsDone(ctx, s)
}

func (b *BookingService) concessionsDone(ctx context.Context, s *domain.BookingSession) (*domain.BookingSession, error) {
	s.ConcessionsDone = true
	s.Step = domain.StepChoosePaymentMethod

	if err := b.save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// ChoosePaymentMethod provisions the tickets, priced with the optional promotion code.
func (b *BookingService) ChoosePaymentMethod(ctx context.Context, holderID int, method domain.PaymentMethod, promotionCode string) (*domain.BookingSession, error) {
	if !method.Valid() {
		return nil, domain.ErrInvalidMethod
	}

	s, err := b.load(ctx, holderID)
	if err != nil {
		return nil, err
	}

	if err := b.checkPayment(ctx, s); err != nil {
		return nil, err
	}

	if err := b.guard(ctx, s, domain.StepChoosePaymentMethod); err != nil {
		return nil, err
	}

	if err := b.renewOnce(ctx, s); err != nil {
		return nil, err
	}

	tickets, err := b.tickets.Provision(ctx, ProvisionRequest{
		ShowtimeID:    s.ShowtimeID,
		SeatIDs:       s.SeatIDs,
		HolderID:      holderID,
		PromotionCode: promotionCode,
	})
	if err != nil {
		return nil, b.contention(ctx, s, err)
	}

	s.TicketIDs = domain.TicketIds(tickets)
	s.PromotionCode = promotionCode
	s.PaymentMethod = method
	s.Step = domain.StepGatewayRedirect

	if err := b.save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Checkout initiates the payment or returns the one already in flight for the booking.
func (b *BookingService) Checkout(ctx context.Context, holderID int) (*CheckoutResult, error) {
	s, err := b.load(ctx, holderID)
	if err != nil {
		return nil, err
	}

	if s.PaymentID != "" {
		payment, err := b.payments.Get(ctx, holderID, s.PaymentID)
		switch {
		case errors.Is(err, domain.ErrRecordNotFound):
			s.PaymentID = ""
		case err != nil:
			return nil, err
		case !payment.State.Terminal():
			return &CheckoutResult{Session: s, Payment: payment}, nil
		case payment.State == domain.PaymentStateCompleted:
			s.Step = domain.StepCompletion
			if err := b.save(ctx, s); err != nil {
				return nil, err
			}

			return &CheckoutResult{Session: s, Payment: payment}, nil
		default:
			return nil, b.restart(ctx, s, nil)
		}
	}

	if err := b.guard(ctx, s, domain.StepGatewayRedirect); err != nil {
		return nil, err
	}

	req := InitiateRequest{
		HolderID:  holderID,
		Email:     s.Email,
		TicketIDs: s.TicketIDs,
		Method:    s.PaymentMethod,
	}
	if s.ConcessionOrderID != "" {
		req.ConcessionOrderIDs = []string{s.ConcessionOrderID}
	}

	payment, err := b.payments.Initiate(ctx, req)
	if errors.Is(err, domain.ErrPaymentConflict) {
		// A retried request from another tab already started the payment.
		payment, err = b.payments.OpenForTickets(ctx, holderID, s.TicketIDs)
		if errors.Is(err, domain.ErrRecordNotFound) {
			err = domain.ErrPaymentConflict
		}
	}

	if err != nil {
		return nil, b.checkoutFailed(ctx, s, err)
	}

	s.PaymentID = payment.ID
	s.Step = domain.StepGatewayRedirect
	if payment.State.Terminal() {
		s.Step = domain.StepCompletion
	}

	if err := b.save(ctx, s); err != nil {
		return nil, err
	}

	return &CheckoutResult{Session: s, Payment: payment}, nil
}

func (b *BookingService) checkoutFailed(ctx context.Context, s *domain.BookingSession, err error) error {
	switch {
	case domain.IsContention(err), errors.Is(err, domain.ErrGatewayUnreachable):
		// The payment attempt was unwound, so the seats are gone.
		return b.restart(ctx, s, err)
	case errors.Is(err, domain.ErrInvalidTicketState):
		s.TicketIDs = nil
		return b.redirect(ctx, s, domain.StepChoosePaymentMethod, err)
	case errors.Is(err, domain.ErrOrderNotLinkable):
		s.ConcessionOrderID = ""
		s.ConcessionsDone = false
		return b.redirect(ctx, s, domain.StepSelectConcessions, err)
	default:
		return err
	}
}

// Completion reports the outcome of the booking's payment.
func (b *BookingService) Completion(ctx context.Context, holderID int) (*CheckoutResult, error) {
	s, err := b.load(ctx, holderID)
	if err != nil {
		return nil, err
	}

	// An open payment resolves to GATEWAY_REDIRECT, which is where completion is polled from.
	if err := b.guard(ctx, s, domain.StepGatewayRedirect); err != nil {
		return nil, err
	}

	if s.PaymentID == "" {
		return nil, &domain.StepRedirectError{Step: domain.StepGatewayRedirect}
	}

	payment, err := b.payments.Get(ctx, holderID, s.PaymentID)
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{Session: s, Payment: payment}

	switch {
	case payment.State.Terminal():
		if s.Step != domain.StepCompletion {
			s.Step = domain.StepCompletion
			if err := b.save(ctx, s); err != nil {
				return nil, err
			}
		}

		return result, nil
	case payment.State == domain.PaymentStateIndeterminate:
		return result, domain.ErrReconciliationIndeterminate
	default:
		if payment.State == domain.PaymentStateGatewayRedirected {
			b.payments.ReconcileAsync(payment.ID)
		}

		return result, &domain.StepRedirectError{Step: domain.StepGatewayRedirect, Err: domain.ErrPaymentPending}
	}
}

// Abandon cancels whatever the booking still holds and forgets the session. A paid booking
// is left untouched.
func (b *BookingService) Abandon(ctx context.Context, holderID int) error {
	s, err := b.sessions.Get(ctx, holderID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if s.PaymentID != "" {
		payment, err := b.payments.CancelPayment(ctx, holderID, s.PaymentID)
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}

		if payment != nil && payment.State == domain.PaymentStateCompleted {
			return b.sessions.Delete(ctx, holderID)
		}
	}

	b.cleanup(ctx, s)

	if s.ConcessionOrderID != "" {
		order, err := b.concessions.Get(ctx, holderID, s.ConcessionOrderID)
		if err == nil && order.Status == domain.OrderStatusPending {
			if err := b.concessions.Cancel(ctx, order.ID); err != nil {
				b.logger.Error("failed to cancel concession order", "order_id", order.ID, "error", err)
			}
		}
	}

	b.logger.Info("booking abandoned", "holder_id", holderID)

	return b.sessions.Delete(ctx, holderID)
}

// resolution is the furthest step a session can be at, with the reason it cannot go further.
type resolution struct {
	step  domain.BookingStep
	cause error
}

func (b *BookingService) resolve(ctx context.Context, s *domain.BookingSession) (resolution, error) {
	if s.ShowtimeID == 0 || len(s.SeatIDs) == 0 {
		return resolution{step: domain.StepSelectSeats}, nil
	}

	if s.PaymentID != "" {
		payment, err := b.payments.Get(ctx, s.HolderID, s.PaymentID)
		switch {
		case err == nil && payment.State.Terminal():
			return resolution{step: domain.StepCompletion}, nil
		case err == nil:
			// Locks of an open payment are kept alive by reconciliation.
			return resolution{step: domain.StepGatewayRedirect}, nil
		case !errors.Is(err, domain.ErrRecordNotFound):
			return resolution{}, err
		}
	}

	held, err := b.locks.HeldBy(ctx, s.ShowtimeID, s.SeatIDs, s.HolderID)
	if err != nil {
		return resolution{}, err
	}

	if !held {
		return resolution{step: domain.StepSelectSeats, cause: domain.ErrLockNotOwned}, nil
	}

	if !s.ConcessionsDone {
		return resolution{step: domain.StepSelectConcessions}, nil
	}

	if len(s.TicketIDs) == 0 || s.PaymentMethod == "" {
		return resolution{step: domain.StepChoosePaymentMethod}, nil
	}

	tickets, err := b.tickets.Get(ctx, s.TicketIDs)
	if err != nil {
		return resolution{}, err
	}

	if len(tickets) != len(s.TicketIDs) {
		return resolution{step: domain.StepChoosePaymentMethod, cause: domain.ErrInvalidTicketState}, nil
	}

	for _, t := range tickets {
		if t.Status != domain.TicketStatusPending {
			return resolution{step: domain.StepChoosePaymentMethod, cause: domain.ErrInvalidTicketState}, nil
		}
	}

	return resolution{step: domain.StepGatewayRedirect}, nil
}

// guard sends the session back to the earliest step whose prerequisite is missing when
// want cannot be reached yet.
func (b *BookingService) guard(ctx context.Context, s *domain.BookingSession, want domain.BookingStep) error {
	reached, err := b.resolve(ctx, s)
	if err != nil {
		return err
	}

	if !reached.step.Before(want) {
		return nil
	}

	b.logger.Warn("booking step guard failed",
		"holder_id", s.HolderID,
		"requested_step", want,
		"redirect_step", reached.step)

	if reached.step == domain.StepSelectSeats {
		return b.restart(ctx, s, reached.cause)
	}

	return b.redirect(ctx, s, reached.step, reached.cause)
}

// checkPayment rejects changes while a payment is in flight and restarts a booking
// whose payment already failed.
func (b *BookingService) checkPayment(ctx context.Context, s *domain.BookingSession) error {
	if s.PaymentID == "" {
		return nil
	}

	payment, err := b.payments.Get(ctx, s.HolderID, s.PaymentID)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		s.PaymentID = ""
		return nil
	case err != nil:
		return err
	case !payment.State.Terminal():
		return domain.ErrPaymentConflict
	case payment.State == domain.PaymentStateCompleted:
		return &domain.StepRedirectError{Step: domain.StepCompletion}
	default:
		return b.restart(ctx, s, nil)
	}
}

func (b *BookingService) renewOnce(ctx context.Context, s *domain.BookingSession) error {
	if s.LockRenewed {
		return nil
	}

	expiresAt, err := b.locks.Renew(ctx, s.ShowtimeID, s.SeatIDs, s.HolderID, b.cfg.LockTTL)
	if err != nil {
		return b.contention(ctx, s, err)
	}

	s.LockExpiresAt = expiresAt
	s.LockRenewed = true

	return nil
}

// contention restarts the booking when err means the seats are gone.
func (b *BookingService) contention(ctx context.Context, s *domain.BookingSession, err error) error {
	if !domain.IsContention(err) {
		return err
	}

	return b.restart(ctx, s, err)
}

func (b *BookingService) restart(ctx context.Context, s *domain.BookingSession, cause error) error {
	b.cleanup(ctx, s)
	s.ResetToSeatSelection()

	return b.redirect(ctx, s, domain.StepSelectSeats, cause)
}

func (b *BookingService) redirect(ctx context.Context, s *domain.BookingSession, step domain.BookingStep, cause error) error {
	s.Step = step

	if err := b.save(ctx, s); err != nil {
		return err
	}

	return &domain.StepRedirectError{Step: step, Err: cause}
}

// cleanup cancels the session's PENDING tickets and releases its seats.
func (b *BookingService) cleanup(ctx context.Context, s *domain.BookingSession) {
	if _, err := b.tickets.Cancel(ctx, s.TicketIDs); err != nil {
		b.logger.Warn("failed to cancel booking tickets", "holder_id", s.HolderID, "error", err)
	}

	if s.ShowtimeID != 0 {
		if err := b.locks.ReleaseHeld(ctx, s.ShowtimeID, s.SeatIDs, s.HolderID); err != nil {
			b.logger.Warn("failed to release booking seats", "holder_id", s.HolderID, "error", err)
		}
	}
}

func (b *BookingService) load(ctx context.Context, holderID int) (*domain.BookingSession, error) {
	s, err := b.sessions.Get(ctx, holderID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, &domain.StepRedirectError{Step: domain.StepSelectSeats}
	}

	return s, err
}

func (b *BookingService) save(ctx context.Context, s *domain.BookingSession) error {
	s.UpdatedAt = b.clock.Now()

	return b.sessions.Save(ctx, s, b.cfg.SessionTTL)
}
