package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/notify"
	"github.com/jwalitptl/reminder-service/internal/repository/postgres"
	"github.com/jwalitptl/reminder-service/internal/service/dispatcher"
	"github.com/jwalitptl/reminder-service/internal/service/health"
	"github.com/jwalitptl/reminder-service/internal/service/scheduler"
	"github.com/jwalitptl/reminder-service/internal/worker"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/messaging"
	redisbroker "github.com/jwalitptl/reminder-service/pkg/messaging/redis"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

func buildSenders(cfg *config.Config, l *logger.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.Channels.Line.Configured() {
		senders = append(senders, notify.NewLineSender(cfg.Channels.Line))
	} else {
		l.Warn("line channel not configured, skipping")
	}
	if cfg.Channels.Email.Configured() {
		senders = append(senders, notify.NewEmailSender(cfg.Channels.Email))
	} else {
		l.Warn("email channel not configured, skipping")
	}
	if cfg.Channels.SMS.Enabled && cfg.Channels.SMS.Configured() {
		senders = append(senders, notify.NewSmsSender(cfg.Channels.SMS))
	}
	return senders
}

func setupHTTP(cfg *config.Config, l *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := cfg.Server.Port
	if port <= 0 {
		port = 8081
	}
	go func() {
		server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal(err, "health server failed")
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	l := logger.FromZerolog(log.Logger)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		l.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	var broker messaging.Broker = messaging.NoopBroker{}
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			l.Fatal(err, "failed to create redis broker")
		}
		defer broker.Close()
	} else {
		l.Warn("redis not configured, ops alerts will be dropped")
	}

	base := postgres.NewBaseRepository(db)
	reminderRepo := postgres.NewReminderRepository(base)
	deliveryRepo := postgres.NewDeliveryRepository(base)
	appointmentRepo := postgres.NewAppointmentRepository(base)
	patientRepo := postgres.NewPatientRepository(base)

	m := metrics.New("reminder_service")
	senders := buildSenders(cfg, l)

	sched := scheduler.NewService(reminderRepo, l, m)
	disp := dispatcher.NewService(cfg, reminderRepo, deliveryRepo, appointmentRepo, patientRepo, senders, broker, l, m)
	driver := worker.NewDailyDriver(cfg.Delivery, reminderRepo, appointmentRepo, disp, sched, l, m)
	healthSvc := health.NewService(cfg, reminderRepo, deliveryRepo, disp, broker, l, m)

	setupHTTP(cfg, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	// Daily cycle at clinic midnight; the cron runner uses the process
	// timezone, which deployment pins to the clinic's.
	c.AddFunc("0 0 * * *", func() {
		if _, err := driver.RunDailyCycle(ctx, time.Now()); err != nil {
			l.Error(err, "daily cycle failed")
		}
	})
	c.AddFunc("*/10 * * * *", func() {
		if _, err := healthSvc.Run(ctx); err != nil {
			l.Error(err, "health check failed")
		}
	})
	c.Start()
	defer c.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		l.Info("shutting down...")
		cancel()
	}()

	driver.Start(ctx)
}
