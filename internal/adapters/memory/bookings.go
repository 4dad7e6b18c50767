package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

type BookingLedger struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking
}

func NewBookingLedger() *BookingLedger {
	return &BookingLedger{bookings: make(map[string]*domain.Booking)}
}

func (l *BookingLedger) Create(ctx context.Context, b *domain.Booking) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := copyBooking(b)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := l.bookings[stored.ID]; exists {
		return nil, domain.ErrConflict
	}
	stored.Status = domain.BookingConfirmed
	stored.Payment.Status = domain.PaymentPending
	l.bookings[stored.ID] = stored
	return copyBooking(stored), nil
}

func (l *BookingLedger) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyBooking(b), nil
}

func (l *BookingLedger) MarkPaymentCompleted(ctx context.Context, bookingID, paymentID string) (*domain.Booking, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[bookingID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if b.Cancelled() {
		return copyBooking(b), false, domain.ErrBookingCancelled
	}
	if b.Paid() {
		return copyBooking(b), false, nil
	}
	b.Payment.Status = domain.PaymentCompleted
	b.Payment.PaymentID = paymentID
	b.UpdatedAt = time.Now()
	return copyBooking(b), true, nil
}

func (l *BookingLedger) Cancel(ctx context.Context, bookingID, reason string) (*domain.Booking, bool, error) {
	return l.cancel(bookingID, reason, false)
}

func (l *BookingLedger) CancelUnpaid(ctx context.Context, bookingID, reason string) (*domain.Booking, bool, error) {
	return l.cancel(bookingID, reason, true)
}

func (l *BookingLedger) cancel(bookingID, reason string, unpaidOnly bool) (*domain.Booking, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[bookingID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if b.Cancelled() || (unpaidOnly && b.Paid()) {
		return copyBooking(b), false, nil
	}
	now := time.Now()
	b.Status = domain.BookingCancelled
	b.CancelReason = reason
	b.CancelledAt = &now
	b.UpdatedAt = now
	return copyBooking(b), true, nil
}

func (l *BookingLedger) ListByShow(ctx context.Context, showID string, paidOnly bool) ([]*domain.Booking, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Booking
	for _, b := range l.bookings {
		if b.ShowID != showID || (paidOnly && (!b.Paid() || b.Cancelled())) {
			continue
		}
		out = append(out, copyBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copyBooking(b *domain.Booking) *domain.Booking {
	out := *b
	out.SeatNumbers = append([]string(nil), b.SeatNumbers...)
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		out.CancelledAt = &t
	}
	return &out
}
