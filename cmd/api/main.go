package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	redisadapter "github.com/robertarktes/showtime-reservations/internal/adapters/redis"
	"github.com/robertarktes/showtime-reservations/internal/app"
	"github.com/robertarktes/showtime-reservations/internal/config"
	httphandler "github.com/robertarktes/showtime-reservations/internal/http"
	"github.com/robertarktes/showtime-reservations/internal/idempotency"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "showtime-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel, "showtime-api")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	auth, err := httphandler.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to load jwt key: %v", err)
	}

	checks := make(map[string]httphandler.ReadinessCheck)
	for name, check := range a.ReadinessChecks() {
		checks[name] = check
	}
	handlers := httphandler.NewHandlers(httphandler.Services{
		Seating:  a.Seating,
		Bookings: a.Bookings,
		Shows:    a.Shows,
		Passes:   a.Passes,
		Checks:   checks,
	})
	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterConfig{
		Auth:            auth,
		RateLimiter:     rateLimit.NewRateLimiter(redisadapter.NewCache(a.Redis), logger),
		Idempotency:     idempotency.NewIdempotency(redisadapter.NewIdempotency(a.Redis), cfg.IdempotencyTTL),
		CallbackSecret:  cfg.GatewayCallbackSecret,
		HoldsPerUserMin: cfg.HoldsPerUserMin,
		HoldsPerIPMin:   cfg.HoldsPerIPMin,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	a.Close(ctx)
	logger.Info("Server exiting")
}
