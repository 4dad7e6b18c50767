package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/showtime-reservations/internal/app"
	"github.com/robertarktes/showtime-reservations/internal/booking"
	"github.com/robertarktes/showtime-reservations/internal/config"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "showtime-scheduler")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel, "showtime-scheduler")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	consumer, err := rabbit.NewConsumer(a.Rabbit, rabbit.PaymentConfirmedQueue, logger)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Scheduler.Run(ctx)
	})
	g.Go(func() error {
		return consumer.Consume(ctx, confirmPayment(a.Bookings, logger))
	})

	logger.Info("scheduler started")
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	a.Close(shutdownCtx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.WithError(runErr).Error("scheduler stopped")
		shutdownOtel()
		os.Exit(1)
	}
	logger.Info("Shutdown scheduler")
}

// confirmPayment turns a payment.confirmed message into ConfirmPayment. A
// late payment is refunded inside ConfirmPayment, so it is acked too.
func confirmPayment(bookings *booking.Orchestrator, logger observability.Logger) rabbit.Handler {
	return func(ctx context.Context, body []byte) error {
		var msg domain.PaymentConfirmed
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.WithError(err).Warn("dropping malformed payment confirmation")
			return nil
		}
		if msg.BookingID == "" || msg.PaymentID == "" {
			logger.WithField("booking_id", msg.BookingID).Warn("dropping incomplete payment confirmation")
			return nil
		}
		_, err := bookings.ConfirmPayment(ctx, msg.BookingID, msg.PaymentID)
		switch {
		case errors.Is(err, domain.ErrBookingCancelled):
			logger.WithField("booking_id", msg.BookingID).Info("payment arrived after cancellation, refunded")
			return nil
		case errors.Is(err, domain.ErrNotFound):
			logger.WithField("booking_id", msg.BookingID).Warn("payment for unknown booking")
			return nil
		}
		return err
	}
}
