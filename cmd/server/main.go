package main // Entry point of the booking API

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/consult-booking/internal/cache"
	"github.com/iliyamo/consult-booking/internal/config"
	"github.com/iliyamo/consult-booking/internal/database"
	"github.com/iliyamo/consult-booking/internal/handler"
	"github.com/iliyamo/consult-booking/internal/lock"
	"github.com/iliyamo/consult-booking/internal/metrics"
	"github.com/iliyamo/consult-booking/internal/middleware"
	"github.com/iliyamo/consult-booking/internal/notify"
	"github.com/iliyamo/consult-booking/internal/payment"
	"github.com/iliyamo/consult-booking/internal/queue"
	"github.com/iliyamo/consult-booking/internal/repository"
	"github.com/iliyamo/consult-booking/internal/router"
	"github.com/iliyamo/consult-booking/internal/service"
	"github.com/iliyamo/consult-booking/pkg/logging"
)

func main() {
	cfg := config.Load() // Load environment config
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBookingMetrics(reg)

	// Redis is optional: without it the lock grants every request and the
	// caches always miss, leaving the database constraint as the only guard.
	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable, running without lock, cache or rate limit", "addr", cfg.Redis.Addr)
	} else {
		defer rdb.Close()
	}
	var cacheClient *redis.Client
	if cfg.Cache.Enabled {
		cacheClient = rdb
	}

	var gateway payment.Gateway
	if cfg.Payment.Sandbox() {
		logger.Warn("no payment credentials configured, using sandbox gateway")
		gateway = payment.NewSandbox()
	} else {
		gateway = payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.KeyID, cfg.Payment.KeySecret, cfg.Payment.Timeout, logger)
	}

	var notifier notify.Notifier
	pub := queue.NewPublisher(cfg.AMQPURL, logger)
	if err := pub.Connect(); err != nil {
		logger.Warn("broker unavailable, notifications will only be logged", "error", err)
		notifier = notify.NewLogNotifier(logger)
	} else {
		notifier = notify.NewQueueNotifier(pub)
	}
	defer pub.Close()

	bg := &service.Background{}
	deps := service.Deps{
		Appointments:    repository.NewAppointmentRepo(db),
		Availability:    repository.NewAvailabilityRepo(db),
		Consultants:     repository.NewConsultantRepo(db),
		Locks:           lock.NewManager(rdb, logger, m),
		Cache:           cache.New(cacheClient, cfg.Cache.Prefix, logger, m),
		Gateway:         gateway,
		Notifier:        notifier,
		Metrics:         m,
		Logger:          logger,
		Booking:         cfg.Booking,
		CacheTTL:        cfg.Cache,
		SignatureSecret: cfg.Payment.SignatureSecret,
		Background:      bg,
	}

	reaper := service.NewReaper(deps)
	slots := service.NewSlotService(deps, reaper)
	availability := service.NewAvailabilityService(deps, reaper)
	bookings := service.NewBookingService(deps)
	cancels := service.NewCancellationService(deps)
	listings := service.NewListingService(deps)

	if cfg.Booking.ReapInterval > 0 {
		bg.Go(func() { reaper.Run(ctx, cfg.Booking.ReapInterval) })
	}

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))

	router.RegisterRoutes(e, reg)
	router.RegisterConsultant(e, handler.NewConsultantHandler(slots, availability, logger), cfg.JWTSecret)
	router.RegisterBooking(e,
		handler.NewBookingHandler(bookings, cancels, listings, logger),
		cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, rdb, logger),
	)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	// Let in-flight notifications and the reaper loop finish before the
	// publisher and the database are closed by the deferred calls.
	bg.Wait()
	logger.Info("stopped")
}
