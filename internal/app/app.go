package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexedwards/scs/goredisstore"
	"github.com/alexedwards/scs/v2"
	"github.com/exaring/otelpgx"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/domain"
	"github.com/metinatakli/cinema-booking/internal/events"
	"github.com/metinatakli/cinema-booking/internal/payment"
	"github.com/metinatakli/cinema-booking/internal/repository"
	"github.com/metinatakli/cinema-booking/internal/service"
	appvalidator "github.com/metinatakli/cinema-booking/internal/validator"
	"github.com/metinatakli/cinema-booking/internal/vcs"
	"github.com/metinatakli/cinema-booking/internal/worker"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var (
	version = vcs.Version()
)

type Application struct {
	config         Config
	logger         *slog.Logger
	db             *pgxpool.Pool
	redis          redis.UniversalClient
	validator      *validator.Validate
	sessionManager *scs.SessionManager
	clock          clock.Clock
	// sleep replaces the wait between gateway status queries when set.
	sleep func(ctx context.Context, d time.Duration) error

	locks       *service.SeatLockService
	promotions  *service.PromotionService
	concessions *service.ConcessionService
	tickets     *service.TicketService
	payments    *service.PaymentOrchestrator
	bookings    *service.BookingService

	workers []func(ctx context.Context)
	closers []func() error
}

// stores are the persistence backends the services are built on.
type stores struct {
	seats       domain.SeatRepository
	tickets     domain.TicketRepository
	payments    domain.PaymentRepository
	promotions  domain.PromotionRepository
	concessions domain.ConcessionRepository
	locks       domain.SeatLockStore
	sessions    domain.BookingSessionStore
}

func Run() error {
	cfg, displayVersion, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	app := &Application{
		config:         cfg,
		logger:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
		validator:      appvalidator.NewValidator(),
		sessionManager: scs.New(),
		clock:          clock.Real{},
	}

	shutdownTelemetry, err := app.InitTelemetry(serviceName)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	st, err := app.openStores()
	if err != nil {
		app.Close()
		return err
	}

	gateway, err := app.newGateway()
	if err != nil {
		app.Close()
		return err
	}

	publisher := app.newPublisher()

	metrics, err := service.NewMetrics(otel.Meter("cinema-booking"))
	if err != nil {
		app.Close()
		return err
	}

	app.wireServices(st, gateway, publisher, metrics)

	if !cfg.Booking.DisableWorkers {
		app.startWorkers()
	}

	err = app.run()
	app.Close()

	return err
}

// openStores connects PostgreSQL and Redis, or builds the in-memory backends with a demo
// catalog when the memory store is selected.
func (app *Application) openStores() (stores, error) {
	if app.config.Store == StoreMemory {
		app.logger.Warn("using the in-memory store, nothing survives a restart")

		seats, items, promotions := demoCatalog(app.clock.Now())

		tickets := repository.NewMemoryTicketRepository(app.clock)
		payments := repository.NewMemoryPaymentRepository(app.clock)
		concessions := repository.NewMemoryConcessionRepository(app.clock, items...)
		repository.ShareMemoryLedger(payments, tickets, concessions)

		return stores{
			seats:       repository.NewMemorySeatRepository(seats...),
			tickets:     tickets,
			payments:    payments,
			promotions:  repository.NewMemoryPromotionRepository(promotions...),
			concessions: concessions,
			locks:       repository.NewMemorySeatLockStore(app.clock),
			sessions:    repository.NewMemoryBookingSessionStore(app.clock),
		}, nil
	}

	db, err := NewDatabasePool(app.config)
	if err != nil {
		return stores{}, err
	}
	app.db = db
	app.closers = append(app.closers, func() error {
		db.Close()
		return nil
	})

	redisClient, err := NewRedisClient(app.config)
	if err != nil {
		return stores{}, err
	}
	app.redis = redisClient
	app.closers = append(app.closers, redisClient.Close)

	app.sessionManager = NewSessionManager(redisClient)

	return sharedStores(db, redisClient, app.clock, app.config.Booking.BookedMarkerTTL), nil
}

func sharedStores(db *pgxpool.Pool, redisClient redis.UniversalClient, clk clock.Clock, bookedTTL time.Duration) stores {
	return stores{
		seats:       repository.NewPostgresSeatRepository(db),
		tickets:     repository.NewPostgresTicketRepository(db),
		payments:    repository.NewPostgresPaymentRepository(db),
		promotions:  repository.NewPostgresPromotionRepository(db),
		concessions: repository.NewPostgresConcessionRepository(db),
		locks:       repository.NewRedisSeatLockStore(redisClient, clk, bookedTTL),
		sessions:    repository.NewRedisBookingSessionStore(redisClient),
	}
}

// NewApp builds the API on connections owned by the caller. Background workers are not
// started.
func NewApp(
	cfg Config,
	logger *slog.Logger,
	db *pgxpool.Pool,
	redisClient *redis.Client,
	clk clock.Clock,
	gateway domain.PaymentGateway,
	publisher domain.EventPublisher,
) *Application {
	app := &Application{
		config:         cfg,
		logger:         logger,
		db:             db,
		redis:          redisClient,
		validator:      appvalidator.NewValidator(),
		sessionManager: NewSessionManager(redisClient),
		clock:          clk,
	}

	app.wireServices(sharedStores(db, redisClient, clk, cfg.Booking.BookedMarkerTTL), gateway, publisher, nil)

	return app
}

func (app *Application) newGateway() (domain.PaymentGateway, error) {
	exponent := int32(app.config.CurrencyExponent)

	switch app.config.Gateway {
	case GatewayStripe:
		stripe.Key = app.config.Stripe.SecretKey

		return payment.NewStripeGateway(
			app.config.Stripe.WebhookSecret,
			app.config.Stripe.SuccessUrl,
			app.config.Stripe.FailureUrl,
			exponent), nil
	case GatewayHosted:
		client := &http.Client{
			Timeout:   app.config.Hosted.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}

		return payment.NewHostedGateway(payment.HostedGatewayConfig{
			APIURL:       app.config.Hosted.APIURL,
			MerchantCode: app.config.Hosted.MerchantCode,
			SecretKey:    app.config.Hosted.SecretKey,
			ReturnURL:    app.config.Hosted.ReturnURL,
			Timeout:      app.config.Hosted.Timeout,
			Exponent:     exponent,
		}, client), nil
	case GatewaySandbox:
		return payment.NewSandboxGateway(fmt.Sprintf("http://localhost:%d/payments/callback", app.config.Port)), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q", app.config.Gateway)
	}
}

func (app *Application) newPublisher() domain.EventPublisher {
	if app.config.AMQP.URL == "" {
		app.logger.Info("AMQP URL not set, booking events are only logged")
		return events.NewLogPublisher(app.logger)
	}

	publisher := events.NewRabbitPublisher(app.config.AMQP.URL, app.config.AMQP.Queue, app.logger)
	app.closers = append(app.closers, publisher.Close)

	return publisher
}

func (app *Application) wireServices(st stores, gateway domain.PaymentGateway, publisher domain.EventPublisher, metrics *service.Metrics) {
	cfg := app.config.Booking
	places := int32(app.config.CurrencyExponent)

	app.locks = service.NewSeatLockService(st.locks, st.seats, st.tickets, st.payments, app.logger, metrics, cfg.LockTTL)
	app.promotions = service.NewPromotionService(st.promotions, app.clock, app.logger, places)
	app.concessions = service.NewConcessionService(st.concessions, app.clock, app.logger)
	app.tickets = service.NewTicketService(st.tickets, st.payments, st.seats, app.locks, app.promotions, app.clock, app.logger, metrics)

	policy := service.DefaultReconcilePolicy()
	if cfg.ReconcileBudget > 0 {
		policy.MaxAttempts = cfg.ReconcileBudget
	}
	if cfg.FirstPollDelay > 0 {
		policy.InitialDelay = cfg.FirstPollDelay
	}

	retry := service.DefaultRetryConfig()
	if cfg.GatewayRetries > 0 {
		retry.MaxTries = cfg.GatewayRetries
	}
	if cfg.GatewayRetryWait > 0 {
		retry.InitialInterval = cfg.GatewayRetryWait
	}

	app.payments = service.NewPaymentOrchestrator(service.PaymentOrchestratorDeps{
		Payments:    st.payments,
		Tickets:     app.tickets,
		Concessions: app.concessions,
		Promotions:  app.promotions,
		Locks:       app.locks,
		Gateway:     gateway,
		Publisher:   publisher,
		Clock:       app.clock,
		Logger:      app.logger,
		Metrics:     metrics,
	}, service.PaymentOrchestratorConfig{
		Currency: app.config.Currency,
		Policy:   policy,
		Retry:    retry,
		Sleep:    app.sleep,
	})

	app.bookings = service.NewBookingService(st.sessions, app.locks, app.tickets, app.concessions, app.payments, app.clock, app.logger, service.BookingConfig{
		LockTTL:    cfg.LockTTL,
		SessionTTL: cfg.SessionTTL,
	})
}

func (app *Application) startWorkers() {
	cfg := app.config.Booking

	reconciler := worker.NewReconcileWorker(app.payments, app.clock, app.logger, worker.ReconcileWorkerConfig{
		Interval:           cfg.WorkerInterval,
		CallbackGrace:      cfg.CallbackGrace,
		IndeterminateRetry: worker.DefaultReconcileWorkerConfig().IndeterminateRetry,
		StuckInitAfter:     cfg.StuckInitAfter,
	})

	sweeper := worker.NewLockSweeper(app.locks, app.tickets, app.clock, app.logger, worker.LockSweeperConfig{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.LockTTL,
	})

	app.workers = append(app.workers, reconciler.Run, sweeper.Run)
}

func (app *Application) Close() {
	if app.payments != nil {
		app.payments.Close()
	}

	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("failed to close resource", "error", err)
		}
	}
}

func NewSessionManager(client *redis.Client) *scs.SessionManager {
	sessionManager := scs.New()

	sessionManager.Store = goredisstore.New(client)
	sessionManager.IdleTimeout = 20 * time.Minute
	sessionManager.Cookie.Name = "session_id"

	return sessionManager
}

func NewRedisClient(cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Redis.URL,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		MaxActiveConns:  cfg.Redis.MaxOpenConns,
		ConnMaxIdleTime: cfg.Redis.MaxIdleTime,
	})

	if err := errors.Join(redisotel.InstrumentTracing(rdb), redisotel.InstrumentMetrics(rdb)); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to instrument redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

func NewDatabasePool(cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	config.MaxConnIdleTime = cfg.DB.MaxIdleTime
	config.MaxConns = int32(cfg.DB.MaxOpenConns)
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = db.Ping(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func (app *Application) run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", app.config.Port),
		Handler:      app.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(app.logger.Handler(), slog.LevelDebug),
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var wg sync.WaitGroup
	for _, run := range app.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
		}()
	}

	shutdownError := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("shutting down server", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)

		stopWorkers()
		wg.Wait()

		shutdownError <- err
	}()

	app.logger.Info("starting server", "addr", srv.Addr, "env", app.config.Env, "store", app.config.Store, "gateway", app.config.Gateway)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownError
	if err != nil {
		return err
	}

	app.logger.Info("stopped server", "addr", srv.Addr)

	return nil
}
