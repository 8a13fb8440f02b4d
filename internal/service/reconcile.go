package service

import (
	"context"
	"errors"
	"time"

	"github.com/metinatakli/cinema-booking/internal/domain"
)

// ReconcilePolicy bounds how a payment is polled when no terminal callback arrives.
type ReconcilePolicy struct {
	// InitialDelay is the wait before the first status query.
	InitialDelay time.Duration
	// Floor is the wait used when the gateway gives no next query hint. It doubles
	// on each further attempt up to MaxWait.
	Floor       time.Duration
	MaxWait     time.Duration
	MinSpacing  time.Duration
	MaxAttempts int
}

func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		InitialDelay: 8 * time.Second,
		Floor:        5 * time.Second,
		MaxWait:      time.Minute,
		MinSpacing:   2 * time.Second,
		MaxAttempts:  5,
	}
}

// Wait returns the delay before the given 1-based query attempt.
func (p ReconcilePolicy) Wait(attempt int, hint *time.Time, now time.Time) time.Duration {
	var d time.Duration

	switch {
	case attempt <= 1:
		d = p.InitialDelay
	case hint != nil:
		d = hint.Sub(now)
	default:
		d = p.Floor
		for i := 2; i < attempt && (p.MaxWait <= 0 || d < p.MaxWait); i++ {
			d *= 2
		}
	}

	if d < p.MinSpacing {
		d = p.MinSpacing
	}

	if p.MaxWait > 0 && d > p.MaxWait {
		d = p.MaxWait
	}

	return d
}

// Lease is how long one poller may own a payment.
func (p ReconcilePolicy) Lease() time.Duration {
	return p.InitialDelay + time.Duration(p.MaxAttempts)*p.MaxWait
}

// Reconcile polls the gateway until the payment reaches a terminal state or the attempt
// budget runs out, in which case the payment is left INDETERMINATE and
// ErrReconciliationIndeterminate is returned. Concurrent calls for one payment share a
// single run.
func (o *PaymentOrchestrator) Reconcile(ctx context.Context, paymentID string) (*domain.Payment, error) {
	v, err, _ := o.group.Do(paymentID, func() (any, error) {
		return o.reconcile(ctx, paymentID)
	})

	payment, _ := v.(*domain.Payment)

	return payment, err
}

// ReconcileAsync runs Reconcile in the background until it returns or Close is called.
func (o *PaymentOrchestrator) ReconcileAsync(paymentID string) {
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		_, err := o.Reconcile(o.background, paymentID)
		if err != nil && !errors.Is(err, domain.ErrReconciliationIndeterminate) && !errors.Is(err, context.Canceled) {
			o.logger.Error("background reconciliation failed", "payment_id", paymentID, "error", err)
		}
	}()
}

func (o *PaymentOrchestrator) reconcile(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := o.payments.GetById(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	ref := payment.GatewayRefValue()
	if payment.State.Terminal() || ref == "" {
		return payment, nil
	}

	now := o.clock.Now()

	won, err := o.payments.BeginReconcile(ctx, paymentID, now, now.Add(o.policy.Lease()))
	if err != nil {
		return nil, err
	}

	if !won {
		return o.payments.GetById(ctx, paymentID)
	}

	logger := o.logger.With("payment_id", paymentID, "gateway_ref", ref)

	var hint *time.Time
	var lastCode string

	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		o.renewLocks(ctx, payment)

		wait := o.spaced(paymentID, o.policy.Wait(attempt, hint, o.clock.Now()))
		if err := o.sleep(ctx, wait); err != nil {
			return nil, err
		}

		current, err := o.payments.GetById(ctx, paymentID)
		if err != nil {
			return nil, err
		}

		if current.State.Terminal() {
			return current, nil
		}

		result, err := o.queryStatus(ctx, paymentID, ref)
		if err != nil {
			logger.Warn("payment status query failed", "attempt", attempt, "error", err)
			hint = nil
			continue
		}

		if result.Outcome.Terminal() {
			return o.finalize(ctx, paymentID, *result, sourcePoll)
		}

		hint = result.NextQueryAt
		lastCode = result.ResponseCode
	}

	result, err := o.gateway.LookupPayment(ctx, ref)
	switch {
	case err != nil:
		logger.Warn("canonical payment lookup failed", "error", err)
	case result.Outcome.Terminal():
		return o.finalize(ctx, paymentID, *result, sourceLookup)
	default:
		lastCode = result.ResponseCode
	}

	if err := o.payments.MarkIndeterminate(ctx, paymentID, lastCode); err != nil {
		return nil, err
	}

	payment, err = o.payments.GetById(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.State.Terminal() {
		return payment, nil
	}

	o.metrics.Indeterminate(ctx)
	logger.Error("payment outcome could not be determined", "code", lastCode)

	return payment, domain.ErrReconciliationIndeterminate
}

func (o *PaymentOrchestrator) queryStatus(ctx context.Context, paymentID, ref string) (*domain.GatewayResult, error) {
	o.mu.Lock()
	o.lastQuery[paymentID] = o.clock.Now()
	o.mu.Unlock()

	return o.gateway.QueryStatus(ctx, ref)
}

// spaced stretches wait so two status queries for a payment are at least MinSpacing apart.
func (o *PaymentOrchestrator) spaced(paymentID string, wait time.Duration) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	last, ok := o.lastQuery[paymentID]
	if !ok {
		return wait
	}

	if until := last.Add(o.policy.MinSpacing).Sub(o.clock.Now()); until > wait {
		return until
	}

	return wait
}

func (o *PaymentOrchestrator) forget(paymentID string) {
	o.mu.Lock()
	delete(o.lastQuery, paymentID)
	o.mu.Unlock()
}

type StalledQuery struct {
	// CallbackGrace is how long a redirected payment waits for its callback.
	CallbackGrace time.Duration
	// IndeterminateRetry is how long an indeterminate payment rests between attempts.
	IndeterminateRetry time.Duration
	Limit              int
}

// Stalled lists payments that need a poller: redirected without a callback, reconciling
// with a possibly expired lease, and indeterminate ones due for another attempt.
func (o *PaymentOrchestrator) Stalled(ctx context.Context, q StalledQuery) ([]domain.Payment, error) {
	now := o.clock.Now()

	waiting, err := o.payments.ListOpen(ctx, []domain.PaymentState{
		domain.PaymentStateGatewayRedirected,
		domain.PaymentStateReconciling,
	}, now.Add(-q.CallbackGrace), q.Limit)
	if err != nil {
		return nil, err
	}

	if q.IndeterminateRetry <= 0 {
		return waiting, nil
	}

	indeterminate, err := o.payments.ListOpen(ctx, []domain.PaymentState{
		domain.PaymentStateIndeterminate,
	}, now.Add(-q.IndeterminateRetry), q.Limit)
	if err != nil {
		return nil, err
	}

	return append(waiting, indeterminate...), nil
}
