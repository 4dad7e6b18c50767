package memory

import (
	"context"
	"sync"
	"time"

	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// Passes implements the movie pass store, the loyalty provider and the coupon
// lookup.
type Passes struct {
	mu      sync.Mutex
	passes  map[string]*domain.MoviePass
	usage   map[string]string
	points  map[string]int
	coupons map[string]*domain.Coupon
}

func NewPasses() *Passes {
	return &Passes{
		passes:  make(map[string]*domain.MoviePass),
		usage:   make(map[string]string),
		points:  make(map[string]int),
		coupons: make(map[string]*domain.Coupon),
	}
}

func (p *Passes) AddCoupon(c domain.Coupon) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coupons[c.Code] = &c
}

func (p *Passes) Points(userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.points[userID]
}

func (p *Passes) Pass(id string) (domain.MoviePass, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pass, ok := p.passes[id]
	if !ok {
		return domain.MoviePass{}, false
	}
	return *pass, true
}

func (p *Passes) Create(ctx context.Context, pass *domain.MoviePass) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.passes {
		if existing.UserID == pass.UserID && existing.Status == domain.PassActive {
			return domain.ErrConflict
		}
	}
	stored := *pass
	p.passes[pass.ID] = &stored
	return nil
}

func (p *Passes) ExpireIfDue(ctx context.Context, userID string, now time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for _, pass := range p.passes {
		if pass.UserID == userID && pass.Status == domain.PassActive && !now.Before(pass.ExpiresAt) {
			pass.Status = domain.PassExpired
			n++
		}
	}
	return n, nil
}

func (p *Passes) FindActivePass(ctx context.Context, userID string, now time.Time) (*domain.MoviePass, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pass := range p.passes {
		if pass.UserID == userID && pass.Usable(now) {
			out := *pass
			return &out, nil
		}
	}
	return nil, nil
}

func (p *Passes) ApplyDiscount(pass *domain.MoviePass, subTotal float64) float64 {
	if pass == nil {
		return 0
	}
	return pass.Discount(subTotal)
}

func (p *Passes) RecordUsage(ctx context.Context, passID, bookingID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done := p.usage[bookingID]; done {
		return nil
	}
	pass, ok := p.passes[passID]
	if !ok {
		return domain.ErrNotFound
	}
	if pass.BookingsRemaining > 0 {
		pass.BookingsRemaining--
	}
	p.usage[bookingID] = passID
	return nil
}

func (p *Passes) AddLoyaltyPoints(ctx context.Context, userID string, points int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[userID] += points
	return nil
}

func (p *Passes) FindCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.coupons[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *c
	return &out, nil
}
