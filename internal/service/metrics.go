package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/metinatakli/cinema-booking/internal/service"

// Metrics holds the booking counters. A nil *Metrics records nothing.
type Metrics struct {
	lockConflicts   metric.Int64Counter
	paymentOutcomes metric.Int64Counter
	indeterminate   metric.Int64Counter
	gatewayRetries  metric.Int64Counter
	duplicateClaims metric.Int64Counter
	unwoundBookings metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var m Metrics
	var err error

	m.lockConflicts, err = meter.Int64Counter(
		"booking.seat_lock.conflicts",
		metric.WithDescription("Seat lock attempts rejected because a seat was held or sold"),
	)
	if err != nil {
		return nil, err
	}

	m.paymentOutcomes, err = meter.Int64Counter(
		"booking.payment.outcomes",
		metric.WithDescription("Payments reconciled to a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	m.indeterminate, err = meter.Int64Counter(
		"booking.payment.indeterminate",
		metric.WithDescription("Payments whose outcome could not be determined"),
	)
	if err != nil {
		return nil, err
	}

	m.gatewayRetries, err = meter.Int64Counter(
		"booking.gateway.retries",
		metric.WithDescription("Retried payment gateway calls"),
	)
	if err != nil {
		return nil, err
	}

	m.duplicateClaims, err = meter.Int64Counter(
		"booking.payment.duplicate_claims",
		metric.WithDescription("Reconciliation results dropped because the payment was already claimed"),
	)
	if err != nil {
		return nil, err
	}

	m.unwoundBookings, err = meter.Int64Counter(
		"booking.unwound",
		metric.WithDescription("Bookings whose tickets were cancelled and seats released"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Metrics) LockConflict(ctx context.Context) {
	if m == nil {
		return
	}

	m.lockConflicts.Add(ctx, 1)
}

func (m *Metrics) PaymentOutcome(ctx context.Context, state string, source string) {
	if m == nil {
		return
	}

	m.paymentOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("source", source),
	))
}

func (m *Metrics) Indeterminate(ctx context.Context) {
	if m == nil {
		return
	}

	m.indeterminate.Add(ctx, 1)
}

func (m *Metrics) GatewayRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}

	m.gatewayRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *Metrics) DuplicateClaim(ctx context.Context) {
	if m == nil {
		return
	}

	m.duplicateClaims.Add(ctx, 1)
}

func (m *Metrics) Unwound(ctx context.Context, reason string) {
	if m == nil {
		return
	}

	m.unwoundBookings.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
