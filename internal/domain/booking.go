package domain

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	// TotalTolerance is the largest accepted gap between the client total and
	// the server computed total, in currency units.
	TotalTolerance = 1.0
	// CancellationFeeRate is kept from a paid booking cancelled by its user.
	CancellationFeeRate = 0.15
	// PlatformCommissionRate is the platform share of settled show revenue.
	PlatformCommissionRate = 0.15
	// LoyaltyPointsPerSeat is credited for every seat of a paid booking.
	LoyaltyPointsPerSeat = 10
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

type PaymentMethod string

const (
	PaymentWallet PaymentMethod = "wallet"
	PaymentStripe PaymentMethod = "stripe"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingConfirmed: {BookingCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentCompleted},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CancelledBy identifies who asked for a cancellation; it decides the refund.
type CancelledBy string

const (
	CancelledByUser   CancelledBy = "user"
	CancelledByVendor CancelledBy = "vendor"
	CancelledBySystem CancelledBy = "system"
)

type Payment struct {
	Method    PaymentMethod `json:"method"`
	Status    PaymentStatus `json:"status"`
	PaymentID string        `json:"payment_id,omitempty"`
}

type Pricing struct {
	SubTotal          float64 `json:"sub_total"`
	ConvenienceFee    float64 `json:"convenience_fee"`
	CouponDiscount    float64 `json:"coupon_discount"`
	MoviePassDiscount float64 `json:"movie_pass_discount"`
	Donation          float64 `json:"donation"`
	TotalAmount       float64 `json:"total_amount"`
}

// ComputedTotal is subTotal + convenienceFee - discounts + donation.
func (p Pricing) ComputedTotal() float64 {
	return RoundMoney(p.SubTotal + p.ConvenienceFee - p.CouponDiscount - p.MoviePassDiscount + p.Donation)
}

// CheckTotal verifies TotalAmount against ComputedTotal within TotalTolerance.
func (p Pricing) CheckTotal() error {
	if math.Abs(p.TotalAmount-p.ComputedTotal()) > TotalTolerance {
		return errors.Wrapf(ErrInvalidTotal, "client total %.2f, server total %.2f", p.TotalAmount, p.ComputedTotal())
	}
	return nil
}

type Booking struct {
	ID           string        `json:"id"`
	ShowID       string        `json:"show_id"`
	UserID       string        `json:"user_id"`
	VendorID     string        `json:"vendor_id"`
	SeatNumbers  []string      `json:"seat_numbers"`
	Status       BookingStatus `json:"status"`
	Payment      Payment       `json:"payment"`
	Pricing      Pricing       `json:"pricing"`
	CouponCode   string        `json:"coupon_code,omitempty"`
	MoviePassID  string        `json:"movie_pass_id,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
}

func NewBooking(showID, userID, vendorID string, seats []string, method PaymentMethod, pricing Pricing, now time.Time, paymentTimeout time.Duration) *Booking {
	return &Booking{
		ID:          uuid.New().String(),
		ShowID:      showID,
		UserID:      userID,
		VendorID:    vendorID,
		SeatNumbers: append([]string(nil), seats...),
		Status:      BookingConfirmed,
		Payment:     Payment{Method: method, Status: PaymentPending},
		Pricing:     pricing,
		ExpiresAt:   now.Add(paymentTimeout),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (b *Booking) Cancelled() bool { return b.Status == BookingCancelled }

func (b *Booking) Paid() bool { return b.Payment.Status == PaymentCompleted }

// RefundAmount is what goes back to the wallet when a paid booking is cancelled.
func (b *Booking) RefundAmount(by CancelledBy) float64 {
	if !b.Paid() {
		return 0
	}
	if by == CancelledByUser {
		return RoundMoney(b.Pricing.TotalAmount * (1 - CancellationFeeRate))
	}
	return RoundMoney(b.Pricing.TotalAmount)
}

func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
