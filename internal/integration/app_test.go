package integration_test

import (
	"log/slog"
	"os"

	"github.com/alexedwards/scs/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/cinema-booking/internal/app"
	"github.com/metinatakli/cinema-booking/internal/clock"
	"github.com/metinatakli/cinema-booking/internal/events"
	"github.com/metinatakli/cinema-booking/internal/payment"
	"github.com/redis/go-redis/v9"
)

type TestApp struct {
	App         *app.Application
	DB          *pgxpool.Pool
	RedisClient *redis.Client
	Sessions    *scs.SessionManager
	Gateway     *payment.SandboxGateway
}

func newTestApp(cfg app.Config) (*TestApp, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	db, err := app.NewDatabasePool(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := app.NewRedisClient(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	// The sandbox sends customers back to the callback route of whatever server runs the
	// routes, so a relative URL is enough.
	gateway := payment.NewSandboxGateway("/payments/callback")

	application := app.NewApp(
		cfg,
		logger,
		db,
		redisClient,
		clock.Real{},
		gateway,
		events.NewLogPublisher(logger),
	)

	return &TestApp{
		App:         application,
		DB:          db,
		RedisClient: redisClient,
		Sessions:    app.NewSessionManager(redisClient),
		Gateway:     gateway,
	}, nil
}

func (a *TestApp) Close() {
	a.App.Close()
	a.RedisClient.Close()
	a.DB.Close()
}
