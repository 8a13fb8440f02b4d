package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/metinatakli/cinema-booking/internal/events"
	"github.com/metinatakli/cinema-booking/internal/mailer"
)

// RunNotifier consumes booking.confirmed events and emails the confirmation to the
// customer. It shares the configuration of the API.
const notifierServiceName = "cinema-booking-notifier"

func RunNotifier() error {
	cfg, displayVersion, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if displayVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	if cfg.AMQP.URL == "" {
		return errors.New("the notifier needs -amqp-url to consume booking events")
	}

	app := &Application{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	shutdownTelemetry, err := app.InitTelemetry(notifierServiceName)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	m := mailer.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Sender)
	consumer := events.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Queue, events.EmailHandler(m, app.logger), app.logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.logger.Info("starting notifier", "queue", cfg.AMQP.Queue, "env", cfg.Env)

	err = consumer.Run(ctx)

	app.logger.Info("stopped notifier")

	return err
}
