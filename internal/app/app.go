// Package app connects the adapters and builds the services both binaries
// run.
package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-reservations/internal/adapters/crdb"
	"github.com/robertarktes/showtime-reservations/internal/adapters/gateway"
	mongoadapter "github.com/robertarktes/showtime-reservations/internal/adapters/mongo"
	"github.com/robertarktes/showtime-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/showtime-reservations/internal/booking"
	"github.com/robertarktes/showtime-reservations/internal/config"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/moviepass"
	"github.com/robertarktes/showtime-reservations/internal/notify"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/scheduler"
	"github.com/robertarktes/showtime-reservations/internal/seating"
	"github.com/robertarktes/showtime-reservations/internal/settlement"
	"github.com/robertarktes/showtime-reservations/internal/showtime"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type App struct {
	Config *config.Config
	Logger observability.Logger

	Repo   *crdb.Repository
	Mongo  *mongo.Client
	Redis  *redisclient.Client
	Rabbit *amqp.Connection

	Scheduler *scheduler.Scheduler
	Seating   *seating.Service
	Bookings  *booking.Orchestrator
	Shows     *showtime.Service
	Passes    *moviepass.Service

	notifier *notify.Async
	closers  []func(ctx context.Context)
}

// New dials every backend, migrates the relational schema and builds the
// services with their job handlers registered.
func New(ctx context.Context, cfg *config.Config, logger observability.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.connect(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.Repo.Migrate(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.build(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, a.Config.CRDBDSN)
	if err != nil {
		return errors.Wrap(err, "connect to crdb")
	}
	a.closers = append(a.closers, func(context.Context) { pool.Close() })
	a.Repo = crdb.NewRepository(pool)

	a.Mongo, err = mongo.Connect(ctx, options.Client().ApplyURI(a.Config.MongoURI))
	if err != nil {
		return errors.Wrap(err, "connect to mongo")
	}
	a.closers = append(a.closers, func(ctx context.Context) { _ = a.Mongo.Disconnect(ctx) })

	a.Redis = redisclient.NewClient(&redisclient.Options{Addr: a.Config.RedisAddr})
	a.closers = append(a.closers, func(context.Context) { _ = a.Redis.Close() })

	a.Rabbit, err = amqp.Dial(a.Config.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	a.closers = append(a.closers, func(context.Context) { _ = a.Rabbit.Close() })
	return nil
}

func (a *App) build() error {
	cfg, logger := a.Config, a.Logger
	db := a.Mongo.Database(cfg.MongoDB)

	publisher, err := rabbit.NewPublisher(a.Rabbit, logger)
	if err != nil {
		return err
	}
	a.notifier = notify.NewAsync(notify.Fanout{publisher, mongoadapter.NewAuditLogger(db, logger)}, cfg.NotifyBuffer, logger)
	// The drain has to finish before the broker channel goes away.
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := a.notifier.Close(ctx); err != nil {
			logger.WithError(err).Warn("notifications not fully drained")
		}
		_ = publisher.Close()
	})

	checkout, err := gateway.NewCheckout(cfg.GatewayCheckoutURL, cfg.PaymentTimeout)
	if err != nil {
		return err
	}

	shows := mongoadapter.NewShowStore(db, logger)
	ledger := crdb.NewBookingLedger(a.Repo)
	wallets := crdb.NewWallets(a.Repo)
	passes := crdb.NewPasses(a.Repo)

	a.Scheduler = scheduler.New(crdb.NewJobQueue(a.Repo), scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		Concurrency:  cfg.SchedulerConcurrency,
		BatchSize:    cfg.SchedulerBatchSize,
		Lease:        cfg.SchedulerLease,
	}, logger)

	a.Seating = seating.NewService(shows, mongoadapter.NewScreenLayouts(db, logger), a.Scheduler, a.notifier, logger, cfg.HoldTTL)
	a.Bookings = booking.NewOrchestrator(booking.Dependencies{
		Store:   shows,
		Ledger:  ledger,
		Wallet:  wallets,
		Passes:  passes,
		Coupons: passes,
		Jobs:    a.Scheduler,
		Sink:    a.notifier,
		Logger:  logger,
	}, booking.Config{HoldTTL: cfg.HoldTTL, PaymentTimeout: cfg.PaymentTimeout})
	a.Bookings.RegisterFlow(domain.PaymentWallet, booking.WalletFlow{Wallet: wallets})
	a.Bookings.RegisterFlow(domain.PaymentStripe, booking.GatewayFlow{Gateway: checkout})

	settler := settlement.NewSettler(ledger, wallets, cfg.PlatformWalletID, logger)
	a.Shows = showtime.NewService(shows, ledger, a.Bookings, settler, a.Scheduler, a.notifier, logger)
	a.Passes = moviepass.NewService(passes, a.Scheduler, a.notifier, logger)

	a.Scheduler.Register(domain.JobStartShow, scheduler.HandlerFunc(a.Shows.HandleStartShow))
	a.Scheduler.Register(domain.JobCompleteShow, scheduler.HandlerFunc(a.Shows.HandleCompleteShow))
	a.Scheduler.Register(domain.JobReleaseExpiredSeatHolds, scheduler.HandlerFunc(a.Seating.HandleReleaseExpired))
	a.Scheduler.Register(domain.JobCancelPendingBooking, scheduler.HandlerFunc(a.Bookings.HandleCancelPendingBooking))
	a.Scheduler.Register(domain.JobExpireMoviePass, scheduler.HandlerFunc(a.Passes.HandleExpire))
	return nil
}

// ReadinessChecks pings each backend.
func (a *App) ReadinessChecks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"cockroach": a.Repo.Ping,
		"mongo":     func(ctx context.Context) error { return a.Mongo.Ping(ctx, readpref.Primary()) },
		"redis":     func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		"rabbitmq": func(context.Context) error {
			if a.Rabbit.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}
}

// Close releases everything New opened, newest first.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
