package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/couchcryptid/fencewatch/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/fencewatch/internal/adapter/kafka"
	"github.com/couchcryptid/fencewatch/internal/adapter/panahon"
	"github.com/couchcryptid/fencewatch/internal/adapter/postgres"
	"github.com/couchcryptid/fencewatch/internal/adapter/weatherapi"
	"github.com/couchcryptid/fencewatch/internal/alert"
	"github.com/couchcryptid/fencewatch/internal/config"
	"github.com/couchcryptid/fencewatch/internal/evaluator"
	"github.com/couchcryptid/fencewatch/internal/observability"
	"github.com/couchcryptid/fencewatch/internal/scheduler"
	"github.com/joho/godotenv"
)

const alertQueueSize = 64

type worker interface {
	Run(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, 2*time.Second, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	// Weather sources: one client serves both geocoding and precipitation.
	weather := weatherapi.NewClient(cfg.WeatherAPIURL, cfg.WeatherAPIKey, cfg.WeatherAPITimeout, logger, metrics)
	geocoder := weatherapi.NewCachedGeocoder(weather, cfg.GeocodeCacheSize, metrics)

	scraper := panahon.NewScraper(panahon.NewChromeBrowser(cfg.AdvisoryURL), logger, metrics)
	advisoryOpts := panahon.CachedOptions{
		Timeout:  cfg.AdvisoryTimeout,
		Retries:  cfg.AdvisoryRetries,
		CacheTTL: cfg.AdvisoryCacheTTL,
	}
	if budget := advisoryOpts.Budget(); budget == 0 || budget > cfg.FenceTimeout {
		logger.Warn("advisory retries outlast the fence timeout, later attempts only warm the cache",
			"advisory_budget", budget, "fence_timeout", cfg.FenceTimeout)
	}
	advisories := panahon.NewCachedSource(scraper, advisoryOpts, logger, metrics)

	var publisher evaluator.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("activation events enabled", "topic", cfg.KafkaActivationTopic)
	} else {
		logger.Info("activation events disabled")
	}

	eval := evaluator.New(postgres.NewFenceStore(db.Pool), evaluator.Sources{
		Geocoder:      geocoder,
		Advisory:      advisories,
		Precipitation: weather,
	}, publisher, evaluator.Options{
		Concurrency:  cfg.EvalConcurrency,
		FenceTimeout: cfg.FenceTimeout,
	}, logger, metrics)
	sched := scheduler.New(eval, cfg.EvalInterval, nil, logger, metrics)

	// Alert email dispatch.
	var sender alert.Sender
	if s, err := alert.NewEmailSender(cfg); err != nil {
		logger.Warn("alert email delivery disabled", "error", err)
		sender = alert.NewLogSender(logger)
	} else {
		sender = s
	}
	var (
		dispatcher alert.Dispatcher
		dispatch   worker
	)
	if cfg.RedisAddr != "" {
		d := alert.NewAsynqDispatcher(cfg.RedisAddr)
		defer d.Close() //nolint:errcheck // best-effort on exit
		dispatcher = d
		dispatch = alert.NewAsynqWorker(cfg.RedisAddr, sender, logger, metrics)
	} else {
		d := alert.NewInProcessDispatcher(sender, alertQueueSize, logger, metrics)
		dispatcher, dispatch = d, d
	}
	alertEvents := postgres.NewAlertEventRepository(db.Gorm)
	alerts := alert.NewService(alertEvents,
		alert.NewCooldown(cfg.AlertCooldown, nil, alertEvents),
		dispatcher, cfg.AlertRecipients, nil, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(db, sched),
		postgres.NewTrackingRepository(db.Gorm), alerts, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatch.Run(ctx); err != nil {
			logger.Error("alert dispatcher error", "error", err)
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	// A pass may run for up to FENCE_TIMEOUT per fence, so the scheduler gets
	// its own budget. The writer and pool stay open until it returns.
	if !awaitDone(schedDone, cfg.PassDrainTimeout) {
		logger.Warn("shutdown timed out waiting for component", "component", "scheduler", "timeout", cfg.PassDrainTimeout)
	}
	if !awaitDone(dispatchDone, cfg.ShutdownTimeout) {
		logger.Warn("shutdown timed out waiting for component", "component", "alert dispatcher", "timeout", cfg.ShutdownTimeout)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := db.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// awaitDone reports whether done closed within timeout.
func awaitDone(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
