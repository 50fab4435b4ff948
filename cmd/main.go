package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/auth"
	"github.com/ukydev/fleet-reminders/internal/config"
	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/handlers"
	"github.com/ukydev/fleet-reminders/internal/ingest"
	"github.com/ukydev/fleet-reminders/internal/middleware"
	"github.com/ukydev/fleet-reminders/internal/reconcile"
	"github.com/ukydev/fleet-reminders/internal/reminders"
	"github.com/ukydev/fleet-reminders/internal/scheduler"
	"github.com/ukydev/fleet-reminders/internal/schedules"
)

const (
	schedulerStartDelay = 5 * time.Second
	shutdownTimeout     = 15 * time.Second
)

// app holds the wired service.
type app struct {
	handler   http.Handler
	scheduler *scheduler.Scheduler
}

func newApp(cfg *config.Config, stores reconcile.Stores, logger *log.Logger) (*app, error) {
	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRET is not set, using the default secret; do not run like this in production")
	}
	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(stores, reconcile.Options{
		Workers:  cfg.SyncWorkers,
		Location: cfg.SyncLocation,
		Logger:   logger.WithField("component", "reconcile"),
	})
	sched := scheduler.New(engine, cfg.SyncInterval, schedulerStartDelay, logger)

	scheduleService := schedules.NewService(stores.Programs, stores.Schedules,
		schedules.WithLocation(cfg.SyncLocation),
		schedules.WithLogger(logger.WithField("component", "schedules")))
	reminderService := reminders.NewService(stores.Reminders, stores.Vehicles,
		logger.WithField("component", "reminders"))

	router := handlers.Router{
		Auth:          middleware.NewAuthMiddleware(authService),
		RateLimit:     middleware.NewRateLimitMiddleware(),
		Reminders:     handlers.NewReminderHandler(engine, sched, reminderService, logger),
		Schedules:     handlers.NewScheduleHandler(scheduleService, sched, logger),
		SyncRateLimit: cfg.SyncRateLimit,
		Logger:        logger,
	}
	return &app{handler: router.Handler(), scheduler: sched}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := log.StandardLogger()
	cfg.ConfigureLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	store := db.NewStore(client, cfg.MongoDB, cfg.MongoTransactions)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	a, err := newApp(cfg, reconcile.Stores{
		Programs:  store.Programs,
		Schedules: store.Schedules,
		Vehicles:  store.Vehicles,
		Reminders: store.Reminders,
		Tx:        store,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if cfg.MQTTBroker != "" {
		subscriber := ingest.NewSubscriber(store.Vehicles, cfg.MQTTOdometerTopic, logger)
		var mqttClient mqtt.Client
		if mqttClient, err = subscriber.Connect(cfg.MQTTBroker, cfg.MQTTClientID); err != nil {
			log.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer mqttClient.Disconnect(250)
	} else {
		log.Info("MQTT_BROKER not set, odometer ingest disabled")
	}

	go a.scheduler.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("HTTP server shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server failed: %v", err)
	}
	log.Info("HTTP server stopped")
}
