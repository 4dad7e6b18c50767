// Package memory holds in-process implementations of the domain ports. They
// follow the same semantics as the database adapters and back the unit tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/robertarktes/showtime-reservations/internal/domain"
)

type ShowStore struct {
	mu      sync.Mutex
	shows   map[string]*domain.Show
	layouts map[string]*domain.SeatLayout
}

func NewShowStore() *ShowStore {
	return &ShowStore{
		shows:   make(map[string]*domain.Show),
		layouts: make(map[string]*domain.SeatLayout),
	}
}

func (s *ShowStore) AddShow(show domain.Show) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows[show.ID] = copyShow(&show)
}

func (s *ShowStore) AddLayout(layout domain.SeatLayout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := layout
	l.Seats = append([]domain.LayoutSeat(nil), layout.Seats...)
	s.layouts[layout.ScreenID] = &l
}

func (s *ShowStore) FindLayoutForScreen(ctx context.Context, screenID string) (*domain.SeatLayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[screenID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *l
	out.Seats = append([]domain.LayoutSeat(nil), l.Seats...)
	return &out, nil
}

func (s *ShowStore) GetShow(ctx context.Context, showID string) (*domain.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyShow(show), nil
}

func (s *ShowStore) PlaceHold(ctx context.Context, showID string, holds []domain.SeatHold, now time.Time, ttl time.Duration) ([]domain.SeatHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !show.Bookable() {
		return nil, domain.ErrShowNotBookable
	}

	requested := make(map[string]bool, len(holds))
	for _, h := range holds {
		if requested[h.SeatNumber] {
			return nil, domain.ErrInvalidInput
		}
		requested[h.SeatNumber] = true
	}

	cutoff := now.Add(-ttl)
	kept := show.SeatHolds[:0]
	for _, h := range show.SeatHolds {
		if requested[h.SeatNumber] && h.Expired(cutoff) {
			continue
		}
		kept = append(kept, h)
	}
	show.SeatHolds = kept

	var taken []string
	for _, h := range show.SeatHolds {
		if requested[h.SeatNumber] {
			taken = append(taken, h.SeatNumber)
		}
	}
	if len(taken) > 0 {
		return nil, domain.NewSeatConflict("", taken...)
	}

	placed := make([]domain.SeatHold, len(holds))
	for i, h := range holds {
		h.PlacedAt = now
		h.IsPending = true
		placed[i] = h
	}
	show.SeatHolds = append(show.SeatHolds, placed...)
	return append([]domain.SeatHold(nil), placed...), nil
}

func (s *ShowStore) ExtendHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string, cutoff, placedAt time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	want := toSet(seatNumbers)
	var extended []string
	for i := range show.SeatHolds {
		h := &show.SeatHolds[i]
		pinnable := h.BookingID == "" || h.BookingID == bookingID
		if want[h.SeatNumber] && h.UserID == userID && h.IsPending && pinnable && h.PlacedAt.After(cutoff) {
			h.PlacedAt = placedAt
			h.BookingID = bookingID
			extended = append(extended, h.SeatNumber)
		}
	}
	return extended, nil
}

func (s *ShowStore) ConfirmHold(ctx context.Context, showID, userID, bookingID string, seatNumbers []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	want := toSet(seatNumbers)
	var confirmed []string
	for i := range show.SeatHolds {
		h := &show.SeatHolds[i]
		if want[h.SeatNumber] && h.UserID == userID && h.BookingID == bookingID {
			h.IsPending = false
			confirmed = append(confirmed, h.SeatNumber)
		}
	}
	return confirmed, nil
}

func (s *ShowStore) ReleaseHold(ctx context.Context, showID string, seatNumbers []string, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	want := toSet(seatNumbers)
	return s.drop(show, func(h domain.SeatHold) bool {
		return want[h.SeatNumber] && h.UserID == userID && h.IsPending && h.BookingID == ""
	}), nil
}

func (s *ShowStore) ReleaseBookingHolds(ctx context.Context, showID, bookingID string) ([]string, error) {
	if bookingID == "" {
		return nil, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.drop(show, func(h domain.SeatHold) bool { return h.BookingID == bookingID }), nil
}

func (s *ShowStore) drop(show *domain.Show, match func(domain.SeatHold) bool) []string {
	var released []string
	kept := show.SeatHolds[:0]
	for _, h := range show.SeatHolds {
		if match(h) {
			released = append(released, h.SeatNumber)
			continue
		}
		kept = append(kept, h)
	}
	show.SeatHolds = kept
	return released
}

func (s *ShowStore) ReleaseExpiredHolds(ctx context.Context, showID string, olderThan time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.drop(show, func(h domain.SeatHold) bool { return h.Expired(olderThan) }), nil
}

func (s *ShowStore) TransitionStatus(ctx context.Context, showID string, from, to domain.ShowStatus) (bool, error) {
	domain.MustTransition(from, to)
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[showID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if show.Status != from {
		return false, nil
	}
	show.Status = to
	return true, nil
}

func copyShow(show *domain.Show) *domain.Show {
	out := *show
	out.SeatHolds = append([]domain.SeatHold(nil), show.SeatHolds...)
	return &out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
