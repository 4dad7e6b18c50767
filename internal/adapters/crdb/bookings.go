package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

const bookingColumns = `id, show_id, user_id, vendor_id, seat_numbers, status,
	payment_method, payment_status, payment_id,
	sub_total, convenience_fee, coupon_discount, movie_pass_discount, donation, total_amount,
	coupon_code, movie_pass_id, cancel_reason, expires_at, created_at, updated_at, cancelled_at`

// BookingLedger persists bookings; every state change is a conditional UPDATE
// so concurrent callers cannot both win a transition.
type BookingLedger struct {
	*Repository
}

func NewBookingLedger(repo *Repository) *BookingLedger {
	return &BookingLedger{Repository: repo}
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status, method, payStatus string
	err := row.Scan(&b.ID, &b.ShowID, &b.UserID, &b.VendorID, &b.SeatNumbers, &status,
		&method, &payStatus, &b.Payment.PaymentID,
		&b.Pricing.SubTotal, &b.Pricing.ConvenienceFee, &b.Pricing.CouponDiscount, &b.Pricing.MoviePassDiscount, &b.Pricing.Donation, &b.Pricing.TotalAmount,
		&b.CouponCode, &b.MoviePassID, &b.CancelReason, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt, &b.CancelledAt)
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	b.Payment.Method = domain.PaymentMethod(method)
	b.Payment.Status = domain.PaymentStatus(payStatus)
	return &b, nil
}

func (l *BookingLedger) Create(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	p := b.Pricing
	row := l.pool.QueryRow(ctx, `
		INSERT INTO bookings (id, show_id, user_id, vendor_id, seat_numbers, status,
			payment_method, payment_status,
			sub_total, convenience_fee, coupon_discount, movie_pass_discount, donation, total_amount,
			coupon_code, movie_pass_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, 'confirmed', $6, 'pending', $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+bookingColumns,
		b.ID, b.ShowID, b.UserID, b.VendorID, b.SeatNumbers,
		string(b.Payment.Method),
		p.SubTotal, p.ConvenienceFee, p.CouponDiscount, p.MoviePassDiscount, p.Donation, p.TotalAmount,
		b.CouponCode, b.MoviePassID, b.ExpiresAt)
	stored, err := scanBooking(row)
	if isUniqueViolation(err) {
		return nil, domain.ErrConflict
	}
	if err != nil {
		return nil, domain.StorageErr(err, "insert booking")
	}
	return stored, nil
}

func (l *BookingLedger) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, err := scanBooking(l.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageErr(err, "get booking")
	}
	return b, nil
}

func (l *BookingLedger) MarkPaymentCompleted(ctx context.Context, bookingID, paymentID string) (*domain.Booking, bool, error) {
	b, err := scanBooking(l.pool.QueryRow(ctx, `
		UPDATE bookings SET payment_status = 'completed', payment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'confirmed' AND payment_status = 'pending'
		RETURNING `+bookingColumns, bookingID, paymentID))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.StorageErr(err, "mark payment completed")
	}

	current, err := l.Get(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	if current.Cancelled() {
		return current, false, domain.ErrBookingCancelled
	}
	return current, false, nil
}

func (l *BookingLedger) Cancel(ctx context.Context, bookingID, reason string) (*domain.Booking, bool, error) {
	return l.cancel(ctx, bookingID, reason, `id = $1 AND status = 'confirmed'`)
}

func (l *BookingLedger) CancelUnpaid(ctx context.Context, bookingID, reason string) (*domain.Booking, bool, error) {
	return l.cancel(ctx, bookingID, reason, `id = $1 AND status = 'confirmed' AND payment_status = 'pending'`)
}

func (l *BookingLedger) cancel(ctx context.Context, bookingID, reason, where string) (*domain.Booking, bool, error) {
	b, err := scanBooking(l.pool.QueryRow(ctx, `
		UPDATE bookings SET status = 'cancelled', cancel_reason = $2, cancelled_at = now(), updated_at = now()
		WHERE `+where+`
		RETURNING `+bookingColumns, bookingID, reason))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.StorageErr(err, "cancel booking")
	}
	current, err := l.Get(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (l *BookingLedger) ListByShow(ctx context.Context, showID string, paidOnly bool) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE show_id = $1`
	if paidOnly {
		query += ` AND status = 'confirmed' AND payment_status = 'completed'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := l.pool.Query(ctx, query, showID)
	if err != nil {
		return nil, domain.StorageErr(err, "list bookings")
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, domain.StorageErr(err, "scan booking")
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageErr(err, "list bookings")
	}
	return bookings, nil
}
