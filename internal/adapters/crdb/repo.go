package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 3
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.StorageErr(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return domain.StorageErr(err, "set isolation")
	}

	err = fn(tx)
	if err != nil {
		if isSerializationFailure(err) {
			return domain.ErrSerializationFailure
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return domain.ErrSerializationFailure
		}
		return domain.StorageErr(err, "commit tx")
	}
	return nil
}

// RetryTx runs WithTx again when CockroachDB asks the client to retry.
func (r *Repository) RetryTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = r.WithTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode
}

// Migrate creates the tables used by the adapters in this package.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return domain.StorageErr(err, "migrate")
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id STRING PRIMARY KEY,
		show_id STRING NOT NULL,
		user_id STRING NOT NULL,
		vendor_id STRING NOT NULL DEFAULT '',
		seat_numbers STRING[] NOT NULL,
		status STRING NOT NULL CHECK (status IN ('confirmed', 'cancelled')),
		payment_method STRING NOT NULL,
		payment_status STRING NOT NULL CHECK (payment_status IN ('pending', 'completed')),
		payment_id STRING NOT NULL DEFAULT '',
		sub_total DECIMAL(14,2) NOT NULL,
		convenience_fee DECIMAL(14,2) NOT NULL DEFAULT 0,
		coupon_discount DECIMAL(14,2) NOT NULL DEFAULT 0,
		movie_pass_discount DECIMAL(14,2) NOT NULL DEFAULT 0,
		donation DECIMAL(14,2) NOT NULL DEFAULT 0,
		total_amount DECIMAL(14,2) NOT NULL,
		coupon_code STRING NOT NULL DEFAULT '',
		movie_pass_id STRING NOT NULL DEFAULT '',
		cancel_reason STRING NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		cancelled_at TIMESTAMPTZ NULL,
		INDEX bookings_show_idx (show_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id UUID PRIMARY KEY,
		kind STRING NOT NULL,
		key STRING NOT NULL,
		fire_at TIMESTAMPTZ NOT NULL,
		payload JSONB NULL,
		status STRING NOT NULL CHECK (status IN ('SCHEDULED', 'FIRED', 'SUCCEEDED', 'FAILED', 'CANCELLED')),
		attempts INT NOT NULL DEFAULT 0,
		last_error STRING NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		fired_at TIMESTAMPTZ NULL,
		finished_at TIMESTAMPTZ NULL,
		INDEX scheduled_jobs_due_idx (status, fire_at),
		INDEX scheduled_jobs_key_idx (key, kind, status)
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		user_id STRING PRIMARY KEY,
		balance DECIMAL(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id UUID PRIMARY KEY,
		user_id STRING NOT NULL,
		amount DECIMAL(14,2) NOT NULL,
		memo STRING NOT NULL DEFAULT '',
		reference STRING NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS movie_passes (
		id STRING PRIMARY KEY,
		user_id STRING NOT NULL,
		plan STRING NOT NULL,
		status STRING NOT NULL CHECK (status IN ('Active', 'Expired', 'Cancelled')),
		discount_percent DECIMAL(5,2) NOT NULL,
		max_discount DECIMAL(14,2) NOT NULL DEFAULT 0,
		bookings_remaining INT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE INDEX movie_passes_one_active (user_id) WHERE status = 'Active'
	)`,
	`CREATE TABLE IF NOT EXISTS movie_pass_usages (
		booking_id STRING PRIMARY KEY,
		pass_id STRING NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loyalty_points (
		user_id STRING PRIMARY KEY,
		points INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		code STRING PRIMARY KEY,
		discount_percent DECIMAL(5,2) NOT NULL,
		max_discount DECIMAL(14,2) NOT NULL DEFAULT 0,
		min_amount DECIMAL(14,2) NOT NULL DEFAULT 0,
		expires_at TIMESTAMPTZ NOT NULL,
		active BOOL NOT NULL DEFAULT true
	)`,
}
