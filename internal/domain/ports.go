package domain

import (
	"context"
	"time"
)

// ReservationStore owns seat occupancy and status of shows.
type ReservationStore interface {
	GetShow(ctx context.Context, showID string) (*Show, error)
	// PlaceHold appends pending holds for all seats or none. It returns a
	// *SeatConflictError when any seat is actively held.
	PlaceHold(ctx context.Context, showID string, holds []SeatHold, now time.Time, ttl time.Duration) ([]SeatHold, error)
	// ExtendHold pins userID's pending holds that are still active at cutoff
	// and not pinned by another booking to bookingID, moves their placedAt,
	// and returns the seats it pinned.
	ExtendHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string, cutoff, placedAt time.Time) ([]string, error)
	// ConfirmHold confirms the holds pinned to bookingID and returns every
	// requested seat that is now confirmed for it.
	ConfirmHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string) ([]string, error)
	// ReleaseHold drops userID's pending holds that no booking has pinned.
	ReleaseHold(ctx context.Context, showID string, seatNumbers []string, userID string) ([]string, error)
	// ReleaseBookingHolds drops every hold pinned to bookingID, confirmed or not.
	ReleaseBookingHolds(ctx context.Context, showID, bookingID string) ([]string, error)
	ReleaseExpiredHolds(ctx context.Context, showID string, olderThan time.Time) ([]string, error)
	TransitionStatus(ctx context.Context, showID string, from, to ShowStatus) (bool, error)
}

// JobScheduler is the narrow scheduling capability handed to use cases.
type JobScheduler interface {
	Schedule(ctx context.Context, kind JobKind, key string, fireAt time.Time, payload any) error
	CancelAll(ctx context.Context, key string, kinds ...JobKind) error
}

type BookingLedger interface {
	Create(ctx context.Context, b *Booking) (*Booking, error)
	Get(ctx context.Context, bookingID string) (*Booking, error)
	MarkPaymentCompleted(ctx context.Context, bookingID, paymentID string) (*Booking, bool, error)
	Cancel(ctx context.Context, bookingID, reason string) (*Booking, bool, error)
	CancelUnpaid(ctx context.Context, bookingID, reason string) (*Booking, bool, error)
	ListByShow(ctx context.Context, showID string, paidOnly bool) ([]*Booking, error)
}

type JobQueue interface {
	// Schedule cancels not-yet-fired jobs with the same kind and key, then inserts job.
	Schedule(ctx context.Context, job Job) error
	CancelAll(ctx context.Context, key string, kinds ...JobKind) (int64, error)
	// ClaimDue marks up to limit due jobs FIRED and returns them. FIRED jobs
	// older than lease are claimed again.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	MarkSucceeded(ctx context.Context, job Job) error
	MarkFailed(ctx context.Context, job Job, cause error) error
}

type SeatLayoutProvider interface {
	FindLayoutForScreen(ctx context.Context, screenID string) (*SeatLayout, error)
}

type PaymentSession struct {
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type PaymentGateway interface {
	CreateDeferredSession(ctx context.Context, bookingID string, amount float64, metadata map[string]string) (*PaymentSession, error)
}

type WalletLedger interface {
	CheckBalance(ctx context.Context, userID string, amount float64) (bool, error)
	// Debit fails with ErrInsufficientBalance instead of going negative.
	Debit(ctx context.Context, userID string, amount float64, memo, reference string) error
	// Credit is a no-op when reference was already applied.
	Credit(ctx context.Context, userID string, amount float64, memo, reference string) error
}

// NotificationSink is fire-and-forget: Emit must not block and its failures
// never abort the caller.
type NotificationSink interface {
	Emit(ctx context.Context, topic string, payload any)
}

type LoyaltyPassProvider interface {
	FindActivePass(ctx context.Context, userID string, now time.Time) (*MoviePass, error)
	ApplyDiscount(pass *MoviePass, subTotal float64) float64
	RecordUsage(ctx context.Context, passID, bookingID string) error
	AddLoyaltyPoints(ctx context.Context, userID string, points int) error
}

type CouponProvider interface {
	FindCoupon(ctx context.Context, code string) (*Coupon, error)
}

// PassStore persists movie passes.
type PassStore interface {
	Create(ctx context.Context, pass *MoviePass) error
	ExpireIfDue(ctx context.Context, userID string, now time.Time) (int64, error)
}
