package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

const passColumns = `id, user_id, plan, status, discount_percent, max_discount, bookings_remaining, expires_at, created_at`

// Passes stores movie passes, loyalty points and coupons.
type Passes struct {
	*Repository
}

func NewPasses(repo *Repository) *Passes {
	return &Passes{Repository: repo}
}

func scanPass(row pgx.Row) (*domain.MoviePass, error) {
	var p domain.MoviePass
	var status string
	err := row.Scan(&p.ID, &p.UserID, &p.Plan, &status, &p.DiscountPercent, &p.MaxDiscountPerBooking, &p.BookingsRemaining, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PassStatus(status)
	return &p, nil
}

func (p *Passes) Create(ctx context.Context, pass *domain.MoviePass) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO movie_passes (id, user_id, plan, status, discount_percent, max_discount, bookings_remaining, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pass.ID, pass.UserID, pass.Plan, string(pass.Status), pass.DiscountPercent, pass.MaxDiscountPerBooking, pass.BookingsRemaining, pass.ExpiresAt)
	if isUniqueViolation(err) {
		return errors.Wrap(domain.ErrConflict, "user already has an active pass")
	}
	if err != nil {
		return domain.StorageErr(err, "insert movie pass")
	}
	return nil
}

func (p *Passes) ExpireIfDue(ctx context.Context, userID string, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE movie_passes SET status = 'Expired'
		WHERE user_id = $1 AND status = 'Active' AND expires_at <= $2
	`, userID, now)
	if err != nil {
		return 0, domain.StorageErr(err, "expire movie pass")
	}
	return tag.RowsAffected(), nil
}

func (p *Passes) FindActivePass(ctx context.Context, userID string, now time.Time) (*domain.MoviePass, error) {
	pass, err := scanPass(p.pool.QueryRow(ctx, `
		SELECT `+passColumns+` FROM movie_passes
		WHERE user_id = $1 AND status = 'Active' AND expires_at > $2 AND bookings_remaining > 0
		LIMIT 1
	`, userID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageErr(err, "find active pass")
	}
	return pass, nil
}

func (p *Passes) ApplyDiscount(pass *domain.MoviePass, subTotal float64) float64 {
	if pass == nil {
		return 0
	}
	return pass.Discount(subTotal)
}

func (p *Passes) RecordUsage(ctx context.Context, passID, bookingID string) error {
	return p.RetryTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO movie_pass_usages (booking_id, pass_id) VALUES ($1, $2)
			ON CONFLICT (booking_id) DO NOTHING
		`, bookingID, passID)
		if err != nil {
			return domain.StorageErr(err, "record pass usage")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE movie_passes SET bookings_remaining = bookings_remaining - 1
			WHERE id = $1 AND bookings_remaining > 0
		`, passID)
		if err != nil {
			return domain.StorageErr(err, "decrement pass")
		}
		return nil
	})
}

func (p *Passes) AddLoyaltyPoints(ctx context.Context, userID string, points int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO loyalty_points (user_id, points) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET points = loyalty_points.points + excluded.points
	`, userID, points)
	if err != nil {
		return domain.StorageErr(err, "add loyalty points")
	}
	return nil
}

func (p *Passes) FindCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := p.pool.QueryRow(ctx, `
		SELECT code, discount_percent, max_discount, min_amount, expires_at, active
		FROM coupons WHERE code = $1
	`, code).Scan(&c.Code, &c.DiscountPercent, &c.MaxDiscount, &c.MinAmount, &c.ExpiresAt, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "find coupon")
	}
	return &c, nil
}
