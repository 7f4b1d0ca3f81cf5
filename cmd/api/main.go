package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relief_portal_backend/internal/events"
	apphttp "relief_portal_backend/internal/http"
	"relief_portal_backend/internal/http/router"
	"relief_portal_backend/internal/missingpersons"
	"relief_portal_backend/internal/missingpersons/dashboard"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/internal/notification"
	"relief_portal_backend/internal/notification/sse"
	"relief_portal_backend/internal/portalapi"
	"relief_portal_backend/internal/regions"
	"relief_portal_backend/internal/scheduler"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/db"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/validator"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	rdb := connectRedis(ctx, cfg, log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	ref, err := loadRegions(cfg)
	if err != nil {
		log.Error("failed to load district reference list", "error", err)
		panic("failed to load district reference list: " + err.Error())
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	var cache redis.Cmdable
	if rdb != nil {
		cache = rdb
	}
	resolver := geocode.NewFromConfig(cfg, cache, log)
	portal := portalapi.NewFromConfig(cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Notification module forwards session events to SSE clients (not HTTP-facing)
	sseService := sse.New(log)
	defer sseService.Close()
	notificationModule := notification.New(sseService, log)
	notificationModule.RegisterHandlers(eventBus)

	warmScheduler, closeScheduler := initWarmScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
		scheduler.NewWarmOnFailure(warmScheduler, log).RegisterHandlers(eventBus)
	}

	dashboards := dashboard.New(portal, resolver, ref, eventBus, dashboard.OptionsFromConfig(cfg), log)
	go dashboards.Run(ctx)

	missingPersonsModule := missingpersons.NewModule(dashboards, resolver, ref, sseService, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.RedisHealth{Client: rdb},
		EventBus: eventBus,
		Modules: []apphttp.Module{
			missingPersonsModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		// Closing sessions ends their SSE streams before the server drains.
		dashboards.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// connectRedis returns nil when redis is not configured or unreachable; the
// geocode cache and warm-up scheduling are then disabled.
func connectRedis(ctx context.Context, cfg *config.Config, log *logger.Logger) *redis.Client {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; geocode cache disabled")
		return nil
	}

	var client *redis.Client
	if err := withRetry(ctx, log, "redis connection", 5, 2*time.Second, func() error {
		c, err := db.NewRedis(ctx, cfg)
		if err != nil {
			return err
		}
		client = c
		return nil
	}); err != nil {
		log.Error("failed to connect to redis; geocode cache disabled", "error", err)
		return nil
	}
	log.Info("redis connection established")
	return client
}

func loadRegions(cfg config.DashboardConfig) (*regions.Index, error) {
	if path := cfg.GetDistrictsFile(); path != "" {
		return regions.Load(path)
	}
	return regions.Default()
}

func initWarmScheduler(cfg config.SchedulerConfig, log *logger.Logger) (scheduler.WarmScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; geocode warm-up disabled")
		return nil, nil
	}

	warmClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize warm-up scheduler client", "error", err)
		return nil, nil
	}

	return warmClient, func() {
		_ = warmClient.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
