package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/metinatakli/cinema-booking/internal/service"
	"github.com/metinatakli/cinema-booking/internal/worker"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	GatewayStripe  = "stripe"
	GatewayHosted  = "hosted"
	GatewaySandbox = "sandbox"
)

type Config struct {
	Port             int
	Env              string
	Store            string
	Gateway          string
	Currency         string
	CurrencyExponent int
	OtelCollectorUrl string
	OtelSampleRatio  float64

	DB      DBConfig
	Redis   RedisConfig
	SMTP    SMTPConfig
	Stripe  StripeConfig
	Hosted  HostedGatewayConfig
	AMQP    AMQPConfig
	Booking BookingConfig
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleTime  time.Duration
}

type RedisConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessUrl    string
	FailureUrl    string
}

type HostedGatewayConfig struct {
	APIURL       string
	MerchantCode string
	SecretKey    string
	ReturnURL    string
	Timeout      time.Duration
}

type AMQPConfig struct {
	URL   string
	Queue string
}

type BookingConfig struct {
	LockTTL          time.Duration
	SessionTTL       time.Duration
	BookedMarkerTTL  time.Duration
	ReconcileBudget  int
	FirstPollDelay   time.Duration
	CallbackGrace    time.Duration
	WorkerInterval   time.Duration
	SweepInterval    time.Duration
	StuckInitAfter   time.Duration
	DisableWorkers   bool
	GatewayRetries   uint
	GatewayRetryWait time.Duration
}

// loadConfig reads the optional .env file and then the command line. Every flag takes its
// default from the environment variable of the same name.
func loadConfig(args []string) (Config, bool, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, false, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	fs := flag.NewFlagSet("cinema-booking", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", envInt("PORT", 3000), "server port")
	fs.StringVar(&cfg.Env, "env", envString("ENV", "dev"), "Environment (dev|staging|prod)")
	fs.StringVar(&cfg.Store, "store", envString("STORE", StorePostgres), "Storage backend (postgres|memory)")
	fs.StringVar(&cfg.Gateway, "gateway", envString("GATEWAY", GatewaySandbox), "Payment gateway (stripe|hosted|sandbox)")
	fs.StringVar(&cfg.Currency, "currency", envString("CURRENCY", "usd"), "ISO currency of all prices")
	fs.IntVar(&cfg.CurrencyExponent, "currency-exponent", envInt("CURRENCY_EXPONENT", 2), "Minor unit digits of the currency")
	fs.StringVar(&cfg.OtelCollectorUrl, "otel-collector-url", envString("OTEL_COLLECTOR_URL", ""), "OpenTelemetry collector gRPC endpoint")
	fs.Float64Var(&cfg.OtelSampleRatio, "otel-sample-ratio", envFloat("OTEL_SAMPLE_RATIO", 1), "Share of root traces to sample (0-1)")

	fs.StringVar(&cfg.DB.DSN, "db-dsn", envString("DB_DSN", ""), "PostgreSQL DSN")
	fs.IntVar(&cfg.DB.MaxOpenConns, "db-max-open-conns", envInt("DB_MAX_OPEN_CONNS", 25), "PostgreSQL max open connections")
	fs.DurationVar(&cfg.DB.MaxIdleTime, "db-max-idle-time", envDuration("DB_MAX_IDLE_TIME", 15*time.Minute), "PostgreSQL max idle time for connections")

	fs.StringVar(&cfg.Redis.URL, "redis-url", envString("REDIS_URL", "localhost:6379"), "Redis URL")
	fs.IntVar(&cfg.Redis.MaxOpenConns, "redis-max-open-conns", envInt("REDIS_MAX_OPEN_CONNS", 25), "Redis max open connections")
	fs.IntVar(&cfg.Redis.MaxIdleConns, "redis-max-idle-conns", envInt("REDIS_MAX_IDLE_CONNS", 10), "Redis max idle connections")
	fs.DurationVar(&cfg.Redis.MaxIdleTime, "redis-max-idle-time", envDuration("REDIS_MAX_IDLE_TIME", 2*time.Minute), "Redis max idle time for connections")

	fs.StringVar(&cfg.SMTP.Host, "smtp-host", envString("SMTP_HOST", "sandbox.smtp.mailtrap.io"), "SMTP host")
	fs.IntVar(&cfg.SMTP.Port, "smtp-port", envInt("SMTP_PORT", 2525), "SMTP port")
	fs.StringVar(&cfg.SMTP.Username, "smtp-username", envString("SMTP_USERNAME", ""), "SMTP username")
	fs.StringVar(&cfg.SMTP.Password, "smtp-password", envString("SMTP_PASSWORD", ""), "SMTP password")
	fs.StringVar(&cfg.SMTP.Sender, "smtp-sender", envString("SMTP_SENDER", "CineX <no-reply@cinex.metinatakli.net>"), "SMTP sender")

	fs.StringVar(&cfg.Stripe.SecretKey, "stripe-key", envString("STRIPE_KEY", ""), "Stripe secret key")
	fs.StringVar(&cfg.Stripe.WebhookSecret, "stripe-webhook-secret", envString("STRIPE_WEBHOOK_SECRET", ""), "Stripe webhook secret")
	fs.StringVar(&cfg.Stripe.SuccessUrl, "stripe-success-url", envString("STRIPE_SUCCESS_URL", "https://example.com/success.html"), "Stripe payment success page")
	fs.StringVar(&cfg.Stripe.FailureUrl, "stripe-failure-url", envString("STRIPE_FAILURE_URL", "https://example.com/failure.html"), "Stripe payment failure page")

	fs.StringVar(&cfg.Hosted.APIURL, "hosted-api-url", envString("HOSTED_API_URL", ""), "Hosted gateway API base URL")
	fs.StringVar(&cfg.Hosted.MerchantCode, "hosted-merchant", envString("HOSTED_MERCHANT", ""), "Hosted gateway merchant code")
	fs.StringVar(&cfg.Hosted.SecretKey, "hosted-secret", envString("HOSTED_SECRET", ""), "Hosted gateway signing secret")
	fs.StringVar(&cfg.Hosted.ReturnURL, "hosted-return-url", envString("HOSTED_RETURN_URL", "http://localhost:3000/payments/callback"), "Page the hosted gateway returns the customer to")
	fs.DurationVar(&cfg.Hosted.Timeout, "hosted-timeout", envDuration("HOSTED_TIMEOUT", 10*time.Second), "Hosted gateway request timeout")

	fs.StringVar(&cfg.AMQP.URL, "amqp-url", envString("AMQP_URL", ""), "RabbitMQ URL, booking events are only logged when empty")
	fs.StringVar(&cfg.AMQP.Queue, "amqp-queue", envString("AMQP_QUEUE", "booking.confirmed"), "Queue of booking confirmed events")

	fs.DurationVar(&cfg.Booking.LockTTL, "lock-ttl", envDuration("LOCK_TTL", service.DefaultLockTTL), "Seat lock lifetime")
	fs.DurationVar(&cfg.Booking.SessionTTL, "session-ttl", envDuration("SESSION_TTL", service.DefaultSessionTTL), "Booking session lifetime")
	fs.DurationVar(&cfg.Booking.BookedMarkerTTL, "booked-marker-ttl", envDuration("BOOKED_MARKER_TTL", 6*time.Hour), "How long sold seats stay marked in the lock store")
	fs.IntVar(&cfg.Booking.ReconcileBudget, "reconcile-budget", envInt("RECONCILE_BUDGET", service.DefaultReconcilePolicy().MaxAttempts), "Status queries before the canonical lookup")
	fs.DurationVar(&cfg.Booking.FirstPollDelay, "first-poll-delay", envDuration("FIRST_POLL_DELAY", service.DefaultReconcilePolicy().InitialDelay), "Wait before the first status query")
	fs.DurationVar(&cfg.Booking.CallbackGrace, "callback-grace", envDuration("CALLBACK_GRACE", worker.DefaultReconcileWorkerConfig().CallbackGrace), "Wait for a callback before the worker polls")
	fs.DurationVar(&cfg.Booking.WorkerInterval, "reconcile-interval", envDuration("RECONCILE_INTERVAL", worker.DefaultReconcileWorkerConfig().Interval), "Reconcile worker interval")
	fs.DurationVar(&cfg.Booking.SweepInterval, "sweep-interval", envDuration("SWEEP_INTERVAL", worker.DefaultLockSweeperConfig().Interval), "Lock sweeper interval")
	fs.DurationVar(&cfg.Booking.StuckInitAfter, "stuck-init-after", envDuration("STUCK_INIT_AFTER", worker.DefaultReconcileWorkerConfig().StuckInitAfter), "Fail payments that never got a redirect after this long")
	fs.BoolVar(&cfg.Booking.DisableWorkers, "disable-workers", envBool("DISABLE_WORKERS", false), "Do not run background workers in this instance")
	fs.UintVar(&cfg.Booking.GatewayRetries, "gateway-retries", uint(envInt("GATEWAY_RETRIES", int(service.DefaultRetryConfig().MaxTries))), "Attempts to create a payment intent")
	fs.DurationVar(&cfg.Booking.GatewayRetryWait, "gateway-retry-wait", envDuration("GATEWAY_RETRY_WAIT", service.DefaultRetryConfig().InitialInterval), "First wait between intent attempts")

	displayVersion := fs.Bool("version", false, "Display version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, false, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, false, err
	}

	return cfg, *displayVersion, nil
}

func (cfg Config) validate() error {
	switch cfg.Store {
	case StorePostgres:
		if cfg.DB.DSN == "" {
			return errors.New("db-dsn is required with the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}

	switch cfg.Gateway {
	case GatewayStripe:
		if cfg.Stripe.SecretKey == "" || cfg.Stripe.WebhookSecret == "" {
			return errors.New("stripe-key and stripe-webhook-secret are required with the stripe gateway")
		}
	case GatewayHosted:
		if cfg.Hosted.APIURL == "" || cfg.Hosted.SecretKey == "" {
			return errors.New("hosted-api-url and hosted-secret are required with the hosted gateway")
		}
	case GatewaySandbox:
	default:
		return fmt.Errorf("unknown gateway %q", cfg.Gateway)
	}

	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		return fmt.Errorf("otel-sample-ratio must be between 0 and 1")
	}

	if cfg.CurrencyExponent < 0 || cfg.CurrencyExponent > 4 {
		return fmt.Errorf("currency-exponent must be between 0 and 4")
	}

	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}

	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}

	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}

	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}

	return fallback
}
