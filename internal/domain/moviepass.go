package domain

import "time"

type PassStatus string

const (
	PassActive    PassStatus = "Active"
	PassExpired   PassStatus = "Expired"
	PassCancelled PassStatus = "Cancelled"
)

type MoviePass struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	Plan                  string     `json:"plan"`
	Status                PassStatus `json:"status"`
	DiscountPercent       float64    `json:"discount_percent"`
	MaxDiscountPerBooking float64    `json:"max_discount_per_booking"`
	BookingsRemaining     int        `json:"bookings_remaining"`
	ExpiresAt             time.Time  `json:"expires_at"`
	CreatedAt             time.Time  `json:"created_at"`
}

func (p *MoviePass) Usable(now time.Time) bool {
	return p.Status == PassActive && now.Before(p.ExpiresAt) && p.BookingsRemaining > 0
}

// Discount is the pass discount on subTotal, capped per booking.
func (p *MoviePass) Discount(subTotal float64) float64 {
	d := subTotal * p.DiscountPercent / 100
	if p.MaxDiscountPerBooking > 0 && d > p.MaxDiscountPerBooking {
		d = p.MaxDiscountPerBooking
	}
	return RoundMoney(d)
}

type Coupon struct {
	Code            string    `json:"code"`
	DiscountPercent float64   `json:"discount_percent"`
	MaxDiscount     float64   `json:"max_discount"`
	MinAmount       float64   `json:"min_amount"`
	ExpiresAt       time.Time `json:"expires_at"`
	Active          bool      `json:"active"`
}

func (c *Coupon) Discount(subTotal float64, now time.Time) (float64, bool) {
	if !c.Active || !now.Before(c.ExpiresAt) || subTotal < c.MinAmount {
		return 0, false
	}
	d := subTotal * c.DiscountPercent / 100
	if c.MaxDiscount > 0 && d > c.MaxDiscount {
		d = c.MaxDiscount
	}
	return RoundMoney(d), true
}
