package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/service"
)

type LockSweeperConfig struct {
	Interval time.Duration
	// StaleAfter is the age after which a PENDING ticket without a live lock is cancelled.
	StaleAfter time.Duration
	BatchSize  int
}

func DefaultLockSweeperConfig() LockSweeperConfig {
	return LockSweeperConfig{
		Interval:   time.Minute,
		StaleAfter: service.DefaultLockTTL,
		BatchSize:  200,
	}
}

// LockSweeper prunes expired seat locks and cancels the PENDING tickets they left behind.
type LockSweeper struct {
	locks   *service.SeatLockService
	tickets *service.TicketService
	clock   clock.Clock
	logger  *slog.Logger
	cfg     LockSweeperConfig
}

func NewLockSweeper(
	locks *service.SeatLockService,
	tickets *service.TicketService,
	clk clock.Clock,
	logger *slog.Logger,
	cfg LockSweeperConfig) *LockSweeper {

	defaults := DefaultLockSweeperConfig()

	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	return &LockSweeper{
		locks:   locks,
		tickets: tickets,
		clock:   clk,
		logger:  logger,
		cfg:     cfg,
	}
}

func (s *LockSweeper) Run(ctx context.Context) {
	s.logger.Info("starting lock sweeper", "interval", s.cfg.Interval)
	loop(ctx, s.cfg.Interval, s.RunOnce)
	s.logger.Info("lock sweeper stopped")
}

func (s *LockSweeper) RunOnce(ctx context.Context) {
	swept, err := s.locks.Sweep(ctx)
	if err != nil {
		s.logger.Error("failed to sweep seat locks", "error", err)
	}

	cancelled, err := s.tickets.CancelStale(ctx, s.clock.Now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to cancel stale tickets", "error", err)
	}

	if swept > 0 || cancelled > 0 {
		s.logger.Info("swept seat locks", "expired_locks", swept, "cancelled_tickets", cancelled)
	}
}
