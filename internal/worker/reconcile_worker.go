package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/service"
)

type ReconcileWorkerConfig struct {
	Interval time.Duration
	// CallbackGrace is how long a redirected payment may wait for its callback before
	// the worker starts polling it.
	CallbackGrace time.Duration
	// IndeterminateRetry is the pause between attempts on indeterminate payments.
	IndeterminateRetry time.Duration
	// StuckInitAfter fails payments that never got a redirect from the gateway.
	StuckInitAfter time.Duration
	BatchSize      int
	Concurrency    int
}

func DefaultReconcileWorkerConfig() ReconcileWorkerConfig {
	return ReconcileWorkerConfig{
		Interval:           30 * time.Second,
		CallbackGrace:      2 * time.Minute,
		IndeterminateRetry: 15 * time.Minute,
		StuckInitAfter:     5 * time.Minute,
		BatchSize:          100,
		Concurrency:        8,
	}
}

// ReconcileWorker keeps open payments moving when their callback never arrives and keeps
// their seats locked in the meantime.
type ReconcileWorker struct {
	payments *service.PaymentOrchestrator
	clock    clock.Clock
	logger   *slog.Logger
	cfg      ReconcileWorkerConfig
}

func NewReconcileWorker(payments *service.PaymentOrchestrator, clk clock.Clock, logger *slog.Logger, cfg ReconcileWorkerConfig) *ReconcileWorker {
	defaults := DefaultReconcileWorkerConfig()

	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}

	return &ReconcileWorker{
		payments: payments,
		clock:    clk,
		logger:   logger,
		cfg:      cfg,
	}
}

func (w *ReconcileWorker) Run(ctx context.Context) {
	w.logger.Info("starting reconcile worker", "interval", w.cfg.Interval)
	loop(ctx, w.cfg.Interval, w.RunOnce)
	w.logger.Info("reconcile worker stopped")
}

func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	if n, err := w.payments.RenewLocks(ctx, w.cfg.BatchSize); err != nil {
		w.logger.Error("failed to renew seat locks of open payments", "error", err)
	} else if n > 0 {
		w.logger.Debug("renewed seat locks of open payments", "count", n)
	}

	if w.cfg.StuckInitAfter > 0 {
		n, err := w.payments.FailStuck(ctx, w.clock.Now().Add(-w.cfg.StuckInitAfter), w.cfg.BatchSize)
		if err != nil {
			w.logger.Error("failed to fail stuck payments", "error", err)
		} else if n > 0 {
			w.logger.Info("failed payments stuck before redirect", "count", n)
		}
	}

	stalled, err := w.payments.Stalled(ctx, service.StalledQuery{
		CallbackGrace:      w.cfg.CallbackGrace,
		IndeterminateRetry: w.cfg.IndeterminateRetry,
		Limit:              w.cfg.BatchSize,
	})
	if err != nil {
		w.logger.Error("failed to list stalled payments", "error", err)
		return
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, p := range stalled {
		wg.Add(1)
		sem <- struct{}{}

		go func(paymentID string) {
			defer wg.Done()
			defer func() { <-sem }()

			payment, err := w.payments.Reconcile(ctx, paymentID)
			switch {
			case errors.Is(err, domain.ErrReconciliationIndeterminate):
				w.logger.Warn("payment still indeterminate", "payment_id", paymentID)
			case err != nil:
				w.logger.Error("failed to reconcile payment", "payment_id", paymentID, "error", err)
			default:
				w.logger.Info("payment reconciled", "payment_id", paymentID, "state", payment.State)
			}
		}(p.ID)
	}

	wg.Wait()
}
